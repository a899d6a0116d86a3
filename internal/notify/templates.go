package notify

import (
	"fmt"
	"html"
	"time"
)

// Template identifies one notification kind. Values are persisted on email
// log rows, so they must remain stable.
type Template string

const (
	TemplateMagicLink             Template = "magic_link"
	TemplateClientAcknowledgement Template = "client_acknowledgement"
	TemplatePilotInvite           Template = "pilot_invite"
	TemplatePilotReceived         Template = "pilot_application_received"
	TemplatePilotApproved         Template = "pilot_approved"
	TemplatePilotRejected         Template = "pilot_application_rejected"
	TemplatePilotInfoRequested    Template = "pilot_application_info_requested"
	TemplateAdminBacklinkConfirm  Template = "admin_backlink_confirmed"
)

// MagicLinkData feeds the admin sign-in email.
type MagicLinkData struct {
	Name      string
	Link      string
	ExpiresIn time.Duration
}

// ClientAcknowledgementData feeds the enquiry confirmation sent to clients.
type ClientAcknowledgementData struct {
	Name      string
	Service   string
	Reference string
}

// PilotInviteData feeds the invitation-to-quote sent to operators.
type PilotInviteData struct {
	OperatorName string
	Service      string
	Postcode     string
	PreferredOn  string
	Details      string
	QuoteLink    string
}

// PilotReceivedData feeds the application acknowledgement sent to applicants.
type PilotReceivedData struct {
	ContactName  string
	BusinessName string
}

// PilotApprovedData feeds the approval email, including the single-use
// backlink confirmation URL.
type PilotApprovedData struct {
	ContactName  string
	BusinessName string
	BacklinkURL  string
}

// PilotRejectedData feeds the rejection email.
type PilotRejectedData struct {
	ContactName string
	Reason      string
}

// PilotInfoRequestedData feeds the needs-info email with the reviewer's message.
type PilotInfoRequestedData struct {
	ContactName string
	Message     string
}

// AdminBacklinkConfirmData feeds the admin alert raised when an operator
// completes backlink confirmation.
type AdminBacklinkConfirmData struct {
	BusinessName string
	ConfirmedAt  time.Time
}

// Render produces the subject and HTML body for a template. Render functions
// are pure; any transport or persistence concern lives in the Dispatcher.
func Render(template Template, data any) (subject, body string, err error) {
	switch template {
	case TemplateMagicLink:
		d, ok := data.(MagicLinkData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderMagicLink(d)
	case TemplateClientAcknowledgement:
		d, ok := data.(ClientAcknowledgementData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderClientAcknowledgement(d)
	case TemplatePilotInvite:
		d, ok := data.(PilotInviteData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderPilotInvite(d)
	case TemplatePilotReceived:
		d, ok := data.(PilotReceivedData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderPilotReceived(d)
	case TemplatePilotApproved:
		d, ok := data.(PilotApprovedData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderPilotApproved(d)
	case TemplatePilotRejected:
		d, ok := data.(PilotRejectedData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderPilotRejected(d)
	case TemplatePilotInfoRequested:
		d, ok := data.(PilotInfoRequestedData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderPilotInfoRequested(d)
	case TemplateAdminBacklinkConfirm:
		d, ok := data.(AdminBacklinkConfirmData)
		if !ok {
			return "", "", badTemplateData(template, data)
		}
		return renderAdminBacklinkConfirm(d)
	default:
		return "", "", fmt.Errorf("notify: unknown template %q", template)
	}
}

func badTemplateData(template Template, data any) error {
	return fmt.Errorf("notify: template %q received %T", template, data)
}

func renderMagicLink(d MagicLinkData) (string, string, error) {
	subject := "Your SkyQuote sign-in link"
	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>Use the link below to sign in to SkyQuote. It expires in %d minutes and can be used once.</p><p><a href=%q>Sign in</a></p><p>If you did not request this, you can ignore this email.</p>",
		html.EscapeString(d.Name), int(d.ExpiresIn.Minutes()), d.Link,
	)
	return subject, body, nil
}

func renderClientAcknowledgement(d ClientAcknowledgementData) (string, string, error) {
	subject := "We've received your drone service enquiry"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>Thanks for your enquiry about <strong>%s</strong>. Your reference is <strong>%s</strong>.</p><p>We're matching your job with verified drone operators and they will be in touch with quotes shortly.</p>",
		html.EscapeString(d.Name), html.EscapeString(d.Service), html.EscapeString(d.Reference),
	)
	return subject, body, nil
}

func renderPilotInvite(d PilotInviteData) (string, string, error) {
	subject := fmt.Sprintf("New %s job near %s - invitation to quote", d.Service, d.Postcode)
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>A client is looking for <strong>%s</strong> near <strong>%s</strong>%s.</p><p>%s</p><p><a href=%q>View the job and send your quote</a></p>",
		html.EscapeString(d.OperatorName),
		html.EscapeString(d.Service),
		html.EscapeString(d.Postcode),
		preferredOnFragment(d.PreferredOn),
		html.EscapeString(d.Details),
		d.QuoteLink,
	)
	return subject, body, nil
}

func preferredOnFragment(preferredOn string) string {
	if preferredOn == "" {
		return ""
	}
	return fmt.Sprintf(", preferred date %s", html.EscapeString(preferredOn))
}

func renderPilotReceived(d PilotReceivedData) (string, string, error) {
	subject := "Your SkyQuote pilot application has been received"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We've received the application for <strong>%s</strong>. Our team reviews every application by hand; we'll email you once the review is complete.</p>",
		html.EscapeString(d.ContactName), html.EscapeString(d.BusinessName),
	)
	return subject, body, nil
}

func renderPilotApproved(d PilotApprovedData) (string, string, error) {
	subject := "You're approved - welcome to SkyQuote"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p><strong>%s</strong> is now a verified operator on SkyQuote.</p><p>To upgrade to integrated status, add a link to SkyQuote from your website and confirm it here:</p><p><a href=%q>Confirm your backlink</a></p><p>This link can be used once.</p>",
		html.EscapeString(d.ContactName), html.EscapeString(d.BusinessName), d.BacklinkURL,
	)
	return subject, body, nil
}

func renderPilotRejected(d PilotRejectedData) (string, string, error) {
	subject := "Your SkyQuote pilot application"
	reason := ""
	if d.Reason != "" {
		reason = fmt.Sprintf("<p>Reviewer notes: %s</p>", html.EscapeString(d.Reason))
	}
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>After review we're unable to approve your application at this time.</p>%s<p>You're welcome to apply again once the issues above are resolved.</p>",
		html.EscapeString(d.ContactName), reason,
	)
	return subject, body, nil
}

func renderPilotInfoRequested(d PilotInfoRequestedData) (string, string, error) {
	subject := "More information needed for your SkyQuote application"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>We need a little more information before we can complete your review:</p><blockquote>%s</blockquote><p>Reply to this email with the requested details.</p>",
		html.EscapeString(d.ContactName), html.EscapeString(d.Message),
	)
	return subject, body, nil
}

func renderAdminBacklinkConfirm(d AdminBacklinkConfirmData) (string, string, error) {
	subject := fmt.Sprintf("Backlink confirmed: %s is now integrated", d.BusinessName)
	body := fmt.Sprintf(
		"<p><strong>%s</strong> confirmed their backlink at %s and has been upgraded to integrated operator.</p>",
		html.EscapeString(d.BusinessName), d.ConfirmedAt.UTC().Format(time.RFC3339),
	)
	return subject, body, nil
}
