package provider

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/simplesurance/deployd/internal/logfields"
)

// Names of the supported event providers.
const (
	GitHub  = "github"
	GitLab  = "gitlab"
	Gitea   = "gitea"
	Generic = "generic"
)

// Event is a received webhook event.
type Event struct {
	// Payload is the JSON event payload.
	Payload []byte
	// RawBody is the unmodified http request body, it is required to
	// verify HMAC signatures.
	RawBody []byte
	Provider string

	// DeliveryID and EventType are empty if the provider does not send
	// them.
	DeliveryID string
	EventType  string

	// Token is the shared secret sent with the event.
	Token string
	// Signature is the value of the X-Hub-Signature-256 or X-Hub-Signature
	// header.
	Signature string
}

func (e *Event) String() string {
	return fmt.Sprintf("%s %s (deliveryID: %s)", e.Provider, e.EventType, e.DeliveryID)
}

// LogFields returns fields describing the event. Secrets are never
// included.
func (e *Event) LogFields() []zap.Field {
	fields := make([]zap.Field, 0, 3)

	fields = append(fields, logfields.EventProvider(e.Provider))

	if e.DeliveryID != "" {
		fields = append(fields, logfields.DeliveryID(e.DeliveryID))
	}

	if e.EventType != "" {
		fields = append(fields, zap.String("webhook.event_type", e.EventType))
	}

	return fields
}
