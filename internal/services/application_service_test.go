package services

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skyquote/skyquote/internal/models"
	apperrors "github.com/skyquote/skyquote/pkg/errors"
)

func submitApplication(t *testing.T, env *testEnv) *models.PilotApplication {
	t.Helper()
	application, err := env.applications.Submit(context.Background(), SubmitApplicationInput{
		BusinessName: "Aerial One Ltd",
		ContactName:  "Sam Field",
		Email:        "sam@a1.example",
		Phone:        "+447700900123",
		CAAOperatorID: "GBR-OP-123456",
		LicenceType:   "GVC",
		Services:     []string{"drone-survey"},
		Regions:      []string{"London"},
		Summary:      "Ten years of survey experience.",
	})
	require.NoError(t, err)
	return application
}

func TestSubmitApplication(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	require.Equal(t, models.ApplicationStatusSubmitted, application.Status)
	require.Equal(t, "sam@a1.example", application.Email)

	events, err := env.events.ListForApplication(context.Background(), application.ID)
	require.NoError(t, err)
	require.Equal(t, models.EventTypeCreated, events[0].Type)

	var log models.EmailLog
	require.NoError(t, env.db.First(&log, "application_id = ?", application.ID).Error)
	require.Equal(t, "pilot_application_received", log.Template)
	require.Equal(t, models.EmailStatusSent, log.Status)
}

func TestSubmitApplicationDuplicatePendingIsConflict(t *testing.T) {
	env := newTestEnv(t)
	submitApplication(t, env)

	_, err := env.applications.Submit(context.Background(), SubmitApplicationInput{
		BusinessName: "Aerial One Ltd",
		ContactName:  "Sam Field",
		Email:        "SAM@a1.example",
		Services:     []string{"drone-survey"},
	})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSubmitApplicationValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.applications.Submit(context.Background(), SubmitApplicationInput{
		BusinessName: "Aerial One Ltd",
		ContactName:  "Sam Field",
		Email:        "sam@a1.example",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation, "at least one service is required")
}

func TestApproveCreatesVerifiedOperator(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	result, err := env.applications.Approve(context.Background(), application.ID, "admin@skyquote.test", "all documents verified")
	require.NoError(t, err)

	require.Equal(t, models.ApplicationStatusApproved, result.Application.Status)
	require.Equal(t, "all documents verified", result.Application.ReviewNotes)
	require.Equal(t, "admin@skyquote.test", result.Application.ReviewedBy)
	require.NotNil(t, result.Application.ReviewedAt)
	require.NotEmpty(t, result.Application.BacklinkTokenHash)

	require.Equal(t, models.TierVerifiedOperator, result.Operator.Tier)
	require.True(t, result.Operator.Active)
	require.Equal(t, "sam@a1.example", result.Operator.Email)
	require.True(t, result.Operator.OffersService("drone-survey"))

	var log models.EmailLog
	require.NoError(t, env.db.Where("application_id = ? AND template = ?", application.ID, "pilot_approved").First(&log).Error)
	require.Equal(t, models.EmailStatusSent, log.Status)
}

func TestReviewActionOnTerminalApplicationIsConflict(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	_, err := env.applications.Approve(context.Background(), application.ID, "admin", "")
	require.NoError(t, err)

	_, err = env.applications.Reject(context.Background(), application.ID, "admin", "changed my mind")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	_, err = env.applications.RequestInfo(context.Background(), application.ID, "admin", "need more")
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestRejectRecordsReason(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	rejected, err := env.applications.Reject(context.Background(), application.ID, "admin", "insufficient insurance")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusRejected, rejected.Status)
	require.Contains(t, rejected.ReviewNotes, "insufficient insurance")

	var log models.EmailLog
	require.NoError(t, env.db.Where("application_id = ? AND template = ?", application.ID, "pilot_application_rejected").First(&log).Error)
	require.Equal(t, models.EmailStatusSent, log.Status)
}

func TestRequestInfoThenApprove(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	pendingInfo, err := env.applications.RequestInfo(context.Background(), application.ID, "admin", "please send a current insurance certificate")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusNeedsInfo, pendingInfo.Status)

	var log models.EmailLog
	require.NoError(t, env.db.Where("application_id = ? AND template = ?", application.ID, "pilot_application_info_requested").First(&log).Error)
	require.Equal(t, models.EmailStatusSent, log.Status)

	result, err := env.applications.Approve(context.Background(), application.ID, "admin", "certificate received")
	require.NoError(t, err)
	require.Equal(t, models.ApplicationStatusApproved, result.Application.Status)
}

func TestRequestInfoRequiresMessage(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	_, err := env.applications.RequestInfo(context.Background(), application.ID, "admin", "  ")
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

// approveAndExtractToken approves the application and pulls the raw backlink
// token out of the approval email, the only place it ever appears.
func approveAndExtractToken(t *testing.T, env *testEnv, applicationID string) string {
	t.Helper()

	before := len(env.mailer.messages())
	_, err := env.applications.Approve(context.Background(), applicationID, "admin", "")
	require.NoError(t, err)

	messages := env.mailer.messages()
	require.Greater(t, len(messages), before)

	body := messages[len(messages)-1].HTML
	start := strings.Index(body, "?token=")
	require.GreaterOrEqual(t, start, 0)
	raw := body[start+len("?token="):]
	if end := strings.IndexAny(raw, `"<&`); end >= 0 {
		raw = raw[:end]
	}
	token, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	return token
}

func TestConfirmIntegrationUpgradesOperatorOnce(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)
	token := approveAndExtractToken(t, env, application.ID)

	operator, err := env.applications.ConfirmIntegration(context.Background(), application.ID, token)
	require.NoError(t, err)
	require.Equal(t, models.TierIntegratedOperator, operator.Tier)
	require.NotNil(t, operator.IntegratedConfirmedAt)
	firstConfirmed := *operator.IntegratedConfirmedAt

	var log models.EmailLog
	require.NoError(t, env.db.Where("application_id = ? AND template = ?", application.ID, "admin_backlink_confirmed").First(&log).Error)
	require.Equal(t, "ops@skyquote.test", log.Recipient)

	// Second redemption of the same token fails and leaves the first
	// confirmation timestamp untouched.
	_, err = env.applications.ConfirmIntegration(context.Background(), application.ID, token)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)

	var unchanged models.Operator
	require.NoError(t, env.db.First(&unchanged, "id = ?", operator.ID).Error)
	require.NotNil(t, unchanged.IntegratedConfirmedAt)
	require.Equal(t, firstConfirmed, *unchanged.IntegratedConfirmedAt)
}

func TestConfirmIntegrationWrongToken(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)
	approveAndExtractToken(t, env, application.ID)

	_, err := env.applications.ConfirmIntegration(context.Background(), application.ID, "not-the-token")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestConfirmIntegrationBeforeApproval(t *testing.T) {
	env := newTestEnv(t)
	application := submitApplication(t, env)

	_, err := env.applications.ConfirmIntegration(context.Background(), application.ID, "anything")
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestListApplicationsCursorPagination(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		application := models.PilotApplication{
			BusinessName: "Operator",
			ContactName:  "Contact",
			Email:        "op@ops.example",
			Status:       models.ApplicationStatusSubmitted,
		}
		require.NoError(t, env.db.Create(&application).Error)
	}

	first, err := env.applications.List(context.Background(), ListApplicationsInput{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Applications, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	seen := map[string]bool{}
	for _, a := range first.Applications {
		seen[a.ID] = true
	}

	second, err := env.applications.List(context.Background(), ListApplicationsInput{PageSize: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Applications, 2)
	for _, a := range second.Applications {
		require.False(t, seen[a.ID], "pages must not overlap")
		seen[a.ID] = true
	}

	third, err := env.applications.List(context.Background(), ListApplicationsInput{PageSize: 2, Cursor: second.NextCursor})
	require.NoError(t, err)
	require.Len(t, third.Applications, 1)
	require.False(t, third.HasMore)
}

func TestListApplicationsRejectsBadCursor(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.applications.List(context.Background(), ListApplicationsInput{Cursor: "%%%"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}
