package ports

import "context"

// EventPublisher is the outbound domain-event publish port.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// EmailKind selects one of the rendered email templates.
type EmailKind string

const (
	EmailFounderVerification EmailKind = "founder_verification"
	EmailSchoolActivated     EmailKind = "school_activated"
	EmailPasswordReset       EmailKind = "password_reset"
	EmailPasswordChanged     EmailKind = "password_changed"
)

// EmailMessage is one notification request. Data holds template values.
type EmailMessage struct {
	Kind      EmailKind
	Recipient string
	Data      map[string]string
}

// SendResult reports the provider's acceptance of a message. Queued is set
// when delivery happens later and the outcome is only logged.
type SendResult struct {
	MessageID string
	Queued    bool
}

// Notifier sends transactional email. Callers treat every failure as
// non-fatal unless the email is the whole point of the request.
type Notifier interface {
	Send(ctx context.Context, msg EmailMessage) (SendResult, error)
}

// AuthMetrics counts auth operations by outcome.
type AuthMetrics interface {
	AuthEvent(operation, outcome string)
}
