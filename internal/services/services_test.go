package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/database/testutil"
	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/internal/notify"
	"github.com/skyquote/skyquote/pkg/mail"
)

var errTransport = errors.New("smtp: connection reset")

type captureMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *captureMailer) Send(ctx context.Context, msg mail.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return "<test@skyquote.test>", nil
}

func (m *captureMailer) messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mail.Message, len(m.sent))
	copy(out, m.sent)
	return out
}

type testEnv struct {
	db           *gorm.DB
	mailer       *captureMailer
	events       *EventService
	enquiries    *EnquiryService
	invites      *InviteService
	applications *ApplicationService
	operators    *OperatorService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	mailer := &captureMailer{}

	dispatcher, err := notify.NewDispatcher(db, mailer, notify.WithSynchronousDelivery())
	require.NoError(t, err)

	events, err := NewEventService(db)
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC) }

	enquiries, err := NewEnquiryService(db, dispatcher, events, WithEnquiryClock(clock))
	require.NoError(t, err)

	invites, err := NewInviteService(db, dispatcher, events, WithInviteClock(clock))
	require.NoError(t, err)

	applications, err := NewApplicationService(db, dispatcher, events,
		WithApplicationClock(clock),
		WithAdminAlertEmail("ops@skyquote.test"),
	)
	require.NoError(t, err)

	operators, err := NewOperatorService(db)
	require.NoError(t, err)

	return &testEnv{
		db:           db,
		mailer:       mailer,
		events:       events,
		enquiries:    enquiries,
		invites:      invites,
		applications: applications,
		operators:    operators,
	}
}

func (e *testEnv) createOperator(t *testing.T, name, email string, services, regions []string) models.Operator {
	t.Helper()
	operator := models.Operator{
		BusinessName: name,
		ContactName:  name + " Contact",
		Email:        email,
		Services:     services,
		Regions:      regions,
		Tier:         models.TierVerifiedOperator,
		Active:       true,
	}
	require.NoError(t, e.db.Create(&operator).Error)
	return operator
}

func (e *testEnv) createEnquiry(t *testing.T) *models.Enquiry {
	t.Helper()
	enquiry, err := e.enquiries.Create(context.Background(), CreateEnquiryInput{
		Name:     "J. Doe",
		Email:    "j@x.com",
		Phone:    "+441234567890",
		Service:  "drone-survey",
		Postcode: "SW1A 1AA",
		Region:   "London",
		Consent:  true,
	})
	require.NoError(t, err)
	return enquiry
}

func (e *testEnv) emailLogCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.EmailLog{}).Count(&count).Error)
	return count
}
