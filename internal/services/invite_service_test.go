package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyquote/skyquote/internal/models"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
)

func TestDispatchInvitesMatchingOperators(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	matching := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, []string{"London"})
	env.createOperator(t, "Roof Scans", "p2@ops.example", []string{"roof-inspection"}, nil)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{EnquiryID: enquiry.ID, Actor: "admin"})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, matching.ID, result.Created[0].OperatorID)
	require.Equal(t, models.InviteStatusSent, result.Created[0].Status)
	require.Equal(t, "Aerial One", result.Created[0].OperatorName)

	var log models.EmailLog
	require.NoError(t, env.db.First(&log, "invite_id = ?", result.Created[0].ID).Error)
	require.Equal(t, "pilot_invite", log.Template)
	require.Equal(t, "p1@ops.example", log.Recipient)
	require.Equal(t, models.EmailStatusSent, log.Status)

	events, err := env.events.ListForEnquiry(context.Background(), enquiry.ID)
	require.NoError(t, err)
	var sawInvitesSent bool
	for _, event := range events {
		if event.Type == models.EventTypeInvitesSent {
			sawInvitesSent = true
			require.Contains(t, event.Detail, "1 operator")
		}
	}
	require.True(t, sawInvitesSent)
}

func TestDispatchInvitesExcludeList(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	p1 := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)
	p2 := env.createOperator(t, "Sky Works", "p2@ops.example", []string{"drone-survey"}, nil)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{
		EnquiryID:          enquiry.ID,
		ExcludeOperatorIDs: []string{p2.ID},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, p1.ID, result.Created[0].OperatorID)
}

func TestDispatchInvitesIncludeListSkipsInactive(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	active := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)
	inactive := env.createOperator(t, "Dormant", "p2@ops.example", []string{"drone-survey"}, nil)
	require.NoError(t, env.db.Model(&models.Operator{}).Where("id = ?", inactive.ID).Update("active", false).Error)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{
		EnquiryID:          enquiry.ID,
		IncludeOperatorIDs: []string{active.ID, inactive.ID},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Equal(t, active.ID, result.Created[0].OperatorID)
}

func TestDispatchInvitesIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)
	operator := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	first, err := env.invites.Dispatch(context.Background(), DispatchInput{
		EnquiryID:          enquiry.ID,
		IncludeOperatorIDs: []string{operator.ID},
	})
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	second, err := env.invites.Dispatch(context.Background(), DispatchInput{
		EnquiryID:          enquiry.ID,
		IncludeOperatorIDs: []string{operator.ID},
	})
	require.NoError(t, err)
	require.Empty(t, second.Created)
	require.Equal(t, 1, second.Skipped)

	var count int64
	require.NoError(t, env.db.Model(&models.Invite{}).
		Where("enquiry_id = ? AND operator_id = ?", enquiry.ID, operator.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestDispatchInvitesClosedEnquiryIsConflict(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)
	env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	_, err := env.enquiries.Close(context.Background(), enquiry.ID, "admin")
	require.NoError(t, err)

	logsBefore := env.emailLogCount(t)

	_, err = env.invites.Dispatch(context.Background(), DispatchInput{EnquiryID: enquiry.ID})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	var invites int64
	require.NoError(t, env.db.Model(&models.Invite{}).Where("enquiry_id = ?", enquiry.ID).Count(&invites).Error)
	require.EqualValues(t, 0, invites)
	require.Equal(t, logsBefore, env.emailLogCount(t), "a rejected dispatch must not queue email")
}

func TestDispatchInvitesNoCandidatesIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{EnquiryID: enquiry.ID})
	require.NoError(t, err)
	require.Empty(t, result.Created)
}

func TestDispatchInvitesTransportFailureStillRecordsInvite(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errTransport
	enquiry := env.createEnquiry(t)
	env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{EnquiryID: enquiry.ID})
	require.NoError(t, err, "transport failure must not fail the dispatch command")
	require.Len(t, result.Created, 1)

	// The invite records the operator selection; the transport outcome lives
	// on the email log row.
	require.Equal(t, models.InviteStatusSent, result.Created[0].Status)

	var log models.EmailLog
	require.NoError(t, env.db.First(&log, "invite_id = ?", result.Created[0].ID).Error)
	require.Equal(t, models.EmailStatusFailed, log.Status)
}

func TestMarkOpenedFirstOpenWins(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)
	operator := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	result, err := env.invites.Dispatch(context.Background(), DispatchInput{
		EnquiryID:          enquiry.ID,
		IncludeOperatorIDs: []string{operator.ID},
	})
	require.NoError(t, err)
	inviteID := result.Created[0].ID

	require.NoError(t, env.invites.MarkOpened(context.Background(), inviteID))

	var invite models.Invite
	require.NoError(t, env.db.First(&invite, "id = ?", inviteID).Error)
	require.Equal(t, models.InviteStatusOpened, invite.Status)
	require.NotNil(t, invite.OpenedAt)
	firstOpen := *invite.OpenedAt

	require.NoError(t, env.invites.MarkOpened(context.Background(), inviteID))
	require.NoError(t, env.db.First(&invite, "id = ?", inviteID).Error)
	require.Equal(t, firstOpen, *invite.OpenedAt)
}

func TestMarkOpenedFailedInviteIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	enquiry := env.createEnquiry(t)
	operator := env.createOperator(t, "Aerial One", "p1@ops.example", []string{"drone-survey"}, nil)

	invite := models.Invite{
		EnquiryID:     enquiry.ID,
		OperatorID:    operator.ID,
		OperatorName:  operator.BusinessName,
		OperatorEmail: operator.Email,
		Status:        models.InviteStatusFailed,
	}
	require.NoError(t, env.db.Create(&invite).Error)

	// The tracking endpoint answers every hit, so this is not an error; the
	// invite just must not leave its terminal state.
	require.NoError(t, env.invites.MarkOpened(context.Background(), invite.ID))

	var reloaded models.Invite
	require.NoError(t, env.db.First(&reloaded, "id = ?", invite.ID).Error)
	require.Equal(t, models.InviteStatusFailed, reloaded.Status)
	require.Nil(t, reloaded.OpenedAt)
}

func TestMarkOpenedUnknownInvite(t *testing.T) {
	env := newTestEnv(t)

	err := env.invites.MarkOpened(context.Background(), "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}
