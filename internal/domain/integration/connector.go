package integration

import (
	"context"
	"time"
)

// ---------------------------------------------------------------------------
// PlatformConnector port
// ---------------------------------------------------------------------------

// MaxOrdersPerFetch caps the number of orders one FetchOrders call returns
const MaxOrdersPerFetch = 1000

// PlatformConnector is implemented once per marketplace.
// Every outbound request goes through the SSRF guard, the platform's rate
// limit window and its circuit breaker, in that order.
type PlatformConnector interface {
	// Platform returns the platform this connector talks to
	Platform() PlatformCode

	// Authenticate exercises a lightweight read endpoint with the given credentials.
	// It never returns an error: any failure yields false.
	Authenticate(ctx context.Context, creds Credentials) bool

	// FetchOrders pages through orders modified since the given time (all when nil)
	// until exhaustion or MaxOrdersPerFetch.
	FetchOrders(ctx context.Context, since *time.Time) ([]RawOrder, error)

	// UpdateOrderStatus pushes a canonical status to the platform.
	// It returns false when the status has no platform mapping or the call fails.
	UpdateOrderStatus(ctx context.Context, externalID string, status OrderStatus) bool

	// VerifyWebhookSignature checks an inbound webhook body in constant time
	VerifyWebhookSignature(payload []byte, signature, secret string) bool

	// ConfigurationSchema describes the credential fields the platform needs
	ConfigurationSchema() ConfigSchema
}

// ConnectorProvider hands out connectors by platform code
type ConnectorProvider interface {
	Get(ctx context.Context, platform PlatformCode) (PlatformConnector, error)
	Invalidate(platform PlatformCode)
}

// CredentialProvider returns decrypted credentials for a platform.
// It returns (nil, nil) when none are stored.
type CredentialProvider interface {
	Get(ctx context.Context, platform PlatformCode) (Credentials, error)
}

// ---------------------------------------------------------------------------
// Configuration schema
// ---------------------------------------------------------------------------

// FieldType is the input type of a configuration field
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeSecret   FieldType = "secret"
	FieldTypeNumeric  FieldType = "numeric"
	FieldTypeInterval FieldType = "interval"
)

// ConfigField describes one credential or setting field
type ConfigField struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Secret      bool      `json:"secret"`
	Rule        string    `json:"rule,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ConfigSchema is the declarative description of a platform's configuration
type ConfigSchema struct {
	Platform    PlatformCode  `json:"platform"`
	DisplayName string        `json:"display_name"`
	Fields      []ConfigField `json:"fields"`
}

// RequiredFields returns the names of required fields
func (s ConfigSchema) RequiredFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// SyncIntervalField is appended to every platform schema
var SyncIntervalField = ConfigField{
	Name:        "sync_interval",
	Label:       "Sync interval (seconds)",
	Type:        FieldTypeInterval,
	Required:    false,
	Rule:        "min=60,max=86400",
	Description: "How often orders are pulled from the platform",
}
