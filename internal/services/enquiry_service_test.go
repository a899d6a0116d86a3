package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyquote/skyquote/internal/models"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
)

func TestCreateEnquiryPersistsEventAndAcknowledgement(t *testing.T) {
	env := newTestEnv(t)

	enquiry := env.createEnquiry(t)
	require.Equal(t, models.EnquiryStatusOpen, enquiry.Status)
	require.Equal(t, "j@x.com", enquiry.Email)
	require.Equal(t, "v1", enquiry.ConsentVersion)

	events, err := env.events.ListForEnquiry(context.Background(), enquiry.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.EventTypeCreated, events[0].Type)
	require.Equal(t, models.EventTypeEmailSent, events[1].Type)

	var log models.EmailLog
	require.NoError(t, env.db.First(&log, "enquiry_id = ?", enquiry.ID).Error)
	require.Equal(t, "client_acknowledgement", log.Template)
	require.Equal(t, "j@x.com", log.Recipient)
	require.Equal(t, models.EmailStatusSent, log.Status)

	require.Len(t, env.mailer.messages(), 1)
}

func TestCreateEnquiryValidation(t *testing.T) {
	env := newTestEnv(t)

	cases := map[string]CreateEnquiryInput{
		"missing name": {
			Email: "j@x.com", Service: "drone-survey", Postcode: "SW1A 1AA", Consent: true,
		},
		"short name": {
			Name: "J", Email: "j@x.com", Service: "drone-survey", Postcode: "SW1A 1AA", Consent: true,
		},
		"bad email": {
			Name: "J. Doe", Email: "not-an-email", Service: "drone-survey", Postcode: "SW1A 1AA", Consent: true,
		},
		"bad postcode": {
			Name: "J. Doe", Email: "j@x.com", Service: "drone-survey", Postcode: "12345", Consent: true,
		},
		"no consent": {
			Name: "J. Doe", Email: "j@x.com", Service: "drone-survey", Postcode: "SW1A 1AA", Consent: false,
		},
	}

	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.enquiries.Create(context.Background(), input)
			require.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}

	require.EqualValues(t, 0, env.emailLogCount(t))
}

func TestCloseEnquiry(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	closed, err := env.enquiries.Close(context.Background(), enquiry.ID, "admin@skyquote.test")
	require.NoError(t, err)
	require.Equal(t, models.EnquiryStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.Equal(t, "admin@skyquote.test", closed.ClosedBy)

	events, err := env.events.ListForEnquiry(context.Background(), enquiry.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventTypeClosed, events[len(events)-1].Type)
}

func TestCloseEnquiryTwiceIsConflict(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	_, err := env.enquiries.Close(context.Background(), enquiry.ID, "admin")
	require.NoError(t, err)

	before, err := env.events.ListForEnquiry(context.Background(), enquiry.ID)
	require.NoError(t, err)

	_, err = env.enquiries.Close(context.Background(), enquiry.ID, "admin")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	after, err := env.events.ListForEnquiry(context.Background(), enquiry.ID)
	require.NoError(t, err)
	require.Len(t, after, len(before), "a rejected close must not append events")
}

func TestCloseEnquiryNotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.enquiries.Close(context.Background(), "00000000-0000-0000-0000-000000000000", "admin")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEnquiryDetailAggregatesHistory(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)
	env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	_, err := env.invites.Dispatch(context.Background(), DispatchInput{EnquiryID: enquiry.ID, Actor: "admin"})
	require.NoError(t, err)

	detail, err := env.enquiries.Detail(context.Background(), enquiry.ID)
	require.NoError(t, err)
	require.True(t, detail.Invited)
	require.Len(t, detail.Invites, 1)
	require.NotEmpty(t, detail.Events)
	require.NotEmpty(t, detail.EmailLogs)

	// Audit trail oldest first.
	require.Equal(t, models.EventTypeCreated, detail.Events[0].Type)
}

func TestListEnquiriesFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	first := env.createEnquiry(t)
	env.createEnquiry(t)

	_, err := env.enquiries.Close(context.Background(), first.ID, "admin")
	require.NoError(t, err)

	open, total, err := env.enquiries.List(context.Background(), ListEnquiriesInput{Status: models.EnquiryStatusOpen})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Len(t, open, 1)
	require.NotEqual(t, first.ID, open[0].ID)
}

func TestEnquiryReference(t *testing.T) {
	require.Equal(t, "ENQ-1B2C3D4E", EnquiryReference("1b2c3d4e-0000-0000-0000-000000000000"))
}
