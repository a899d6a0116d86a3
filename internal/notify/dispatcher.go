package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/skyquote/skyquote/internal/models"
	"github.com/skyquote/skyquote/pkg/logger"
	"github.com/skyquote/skyquote/pkg/mail"
	"github.com/skyquote/skyquote/pkg/metrics"
)

const defaultSendTimeout = 30 * time.Second

// Notification describes one intended send: a template, its typed data, the
// recipient, and the business entity the send belongs to.
type Notification struct {
	Template  Template
	Recipient string
	Data      any

	EnquiryID     *string
	InviteID      *string
	ApplicationID *string
}

// Option customises Dispatcher behaviour.
type Option func(*Dispatcher)

// WithClock injects a custom time source, primarily for testing.
func WithClock(clock func() time.Time) Option {
	return func(d *Dispatcher) {
		if clock != nil {
			d.now = clock
		}
	}
}

// WithSynchronousDelivery makes delivery run inline with Send instead of on
// a detached goroutine. Test harnesses use this for deterministic assertions.
func WithSynchronousDelivery() Option {
	return func(d *Dispatcher) {
		d.synchronous = true
	}
}

// WithSendTimeout bounds the transport call for a single delivery.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// Dispatcher renders notification templates and delivers them through the
// configured transport, recording every attempt as an EmailLog row.
//
// The row is written synchronously (inside the caller's transaction when
// enqueued with one) before any transport work starts; delivery itself is
// detached from the triggering request and updates the same row with the
// terminal result.
type Dispatcher struct {
	db      *gorm.DB
	mailer  mail.Mailer
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration

	synchronous bool
	inflight    *sync.WaitGroup
}

// NewDispatcher constructs a Dispatcher. A nil mailer is allowed: sends are
// recorded and left QUEUED with a warning, so notification outages never
// block business transitions.
func NewDispatcher(db *gorm.DB, mailer mail.Mailer, opts ...Option) (*Dispatcher, error) {
	if db == nil {
		return nil, errors.New("notify: db is required")
	}

	d := &Dispatcher{
		db:       db,
		mailer:   mailer,
		log:      logger.WithModule("notify"),
		now:      time.Now,
		timeout:  defaultSendTimeout,
		inflight: &sync.WaitGroup{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Pending is a recorded notification whose transport delivery has not been
// started yet. It exists so callers can write the EmailLog row inside their
// own transaction and hand off delivery only after the transaction commits.
type Pending struct {
	entry        models.EmailLog
	notification Notification
	message      mail.Message
}

// Entry returns the EmailLog row as written at enqueue time.
func (p *Pending) Entry() models.EmailLog {
	return p.entry
}

// Enqueue renders the template and writes the QUEUED EmailLog row using the
// supplied transaction handle (or the dispatcher's own handle when tx is
// nil). No transport work happens here; pass the result to Dispatch after
// the surrounding transaction commits.
func (d *Dispatcher) Enqueue(ctx context.Context, tx *gorm.DB, n Notification) (*Pending, error) {
	recipient := strings.ToLower(strings.TrimSpace(n.Recipient))
	if recipient == "" {
		return nil, errors.New("notify: recipient is required")
	}
	n.Recipient = recipient

	subject, body, err := Render(n.Template, n.Data)
	if err != nil {
		return nil, err
	}

	entry := models.EmailLog{
		Template:      string(n.Template),
		Recipient:     recipient,
		Subject:       subject,
		Status:        models.EmailStatusQueued,
		QueuedAt:      d.now(),
		EnquiryID:     n.EnquiryID,
		InviteID:      n.InviteID,
		ApplicationID: n.ApplicationID,
	}

	handle := tx
	if handle == nil {
		handle = d.db
	}
	if err := handle.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("notify: record email: %w", err)
	}

	return &Pending{
		entry:        entry,
		notification: n,
		message:      mail.Message{To: recipient, Subject: subject, HTML: body},
	}, nil
}

// Dispatch starts delivery of a previously enqueued notification. With no
// transport configured the row is left QUEUED with a warning so notification
// outages never block business transitions.
func (d *Dispatcher) Dispatch(p *Pending) {
	if p == nil {
		return
	}

	if d.mailer == nil {
		d.log.Warn("mail transport not configured; notification left queued",
			zap.String("template", string(p.notification.Template)),
			zap.String("recipient", maskRecipient(p.notification.Recipient)),
		)
		return
	}

	if d.synchronous {
		d.deliver(p.entry.ID, p.notification, p.message)
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.deliver(p.entry.ID, p.notification, p.message)
	}()
}

// Send records the notification and hands it to the transport in one step,
// for callers with no surrounding transaction. The returned EmailLog
// reflects the row as written (status QUEUED); delivery results are applied
// asynchronously unless the Dispatcher is synchronous.
func (d *Dispatcher) Send(ctx context.Context, n Notification) (*models.EmailLog, error) {
	p, err := d.Enqueue(ctx, nil, n)
	if err != nil {
		return nil, err
	}

	d.Dispatch(p)
	entry := p.entry
	return &entry, nil
}

// Wait blocks until all detached deliveries have completed. Used by tests
// and by graceful shutdown.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// deliver runs off the caller's critical path: it performs the transport
// call and applies the terminal status to the already-persisted row.
func (d *Dispatcher) deliver(logID string, n Notification, message mail.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	providerID, err := d.mailer.Send(ctx, message)
	switch {
	case errors.Is(err, mail.ErrSMTPDisabled):
		d.log.Warn("mail delivery disabled; notification left queued",
			zap.String("template", string(n.Template)),
			zap.String("recipient", message.To),
		)
		return
	case err != nil:
		d.markFailed(logID, n, err)
		return
	}

	d.markSent(logID, n, providerID)
}

func (d *Dispatcher) markSent(logID string, n Notification, providerID string) {
	now := d.now()
	err := d.db.Model(&models.EmailLog{}).
		Where("id = ?", logID).
		Updates(map[string]any{
			"status":              models.EmailStatusSent,
			"sent_at":             now,
			"provider_message_id": providerID,
		}).Error
	if err != nil {
		d.log.Error("update email log to sent", zap.String("id", logID), zap.Error(err))
		return
	}

	metrics.EmailsDelivered.WithLabelValues(string(n.Template), string(models.EmailStatusSent)).Inc()
	d.appendDeliveryEvent(n, models.EventTypeEmailSent, fmt.Sprintf("email %s sent to %s", n.Template, maskRecipient(n.Recipient)))
}

func (d *Dispatcher) markFailed(logID string, n Notification, sendErr error) {
	err := d.db.Model(&models.EmailLog{}).
		Where("id = ?", logID).
		Updates(map[string]any{
			"status": models.EmailStatusFailed,
			"error":  sendErr.Error(),
		}).Error
	if err != nil {
		d.log.Error("update email log to failed", zap.String("id", logID), zap.Error(err))
		return
	}

	metrics.EmailsDelivered.WithLabelValues(string(n.Template), string(models.EmailStatusFailed)).Inc()
	d.log.Warn("notification delivery failed",
		zap.String("template", string(n.Template)),
		zap.String("recipient", maskRecipient(n.Recipient)),
		zap.Error(sendErr),
	)
	d.appendDeliveryEvent(n, models.EventTypeEmailFailed, fmt.Sprintf("email %s to %s failed: %v", n.Template, maskRecipient(n.Recipient), sendErr))
}

// appendDeliveryEvent records the transport outcome on the audit trail of
// the owning enquiry or application, when there is one.
func (d *Dispatcher) appendDeliveryEvent(n Notification, eventType models.EventType, detail string) {
	if n.EnquiryID == nil && n.ApplicationID == nil {
		return
	}

	event := models.Event{
		EnquiryID:     n.EnquiryID,
		ApplicationID: n.ApplicationID,
		Type:          eventType,
		Detail:        detail,
	}
	if err := d.db.Create(&event).Error; err != nil {
		d.log.Error("append delivery event", zap.Error(err))
	}
}

// maskRecipient keeps audit detail useful without spelling out the full address.
func maskRecipient(address string) string {
	at := strings.Index(address, "@")
	if at <= 1 {
		return address
	}
	return address[:1] + "***" + address[at:]
}
