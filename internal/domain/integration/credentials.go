package integration

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ---------------------------------------------------------------------------
// Credentials is a tagged union with one variant per platform
// ---------------------------------------------------------------------------

// Credentials is implemented by exactly one struct per platform.
// The variant is selected by PlatformCode through DecodeCredentials.
type Credentials interface {
	// Platform returns the platform the variant belongs to
	Platform() PlatformCode
	// Validate checks required fields and per-platform format rules
	Validate() error
	// Redacted returns the credential fields with secrets masked, safe for logs
	Redacted() map[string]string
	// WebhookSecret returns the secret used to verify inbound webhooks (may be empty)
	WebhookSecret() string
}

// TaobaoCredentials holds Taobao Open Platform credentials
type TaobaoCredentials struct {
	AppKey     string `json:"app_key" validate:"required,numeric_id,min=8"`
	AppSecret  string `json:"app_secret" validate:"required,min=32"`
	SessionKey string `json:"session_key" validate:"required,min=20"`
	Webhook    string `json:"webhook_secret,omitempty" validate:"omitempty,min=16"`
}

// JDCredentials holds JD Open Platform credentials
type JDCredentials struct {
	AppKey      string `json:"app_key" validate:"required,alphanum,min=16"`
	AppSecret   string `json:"app_secret" validate:"required,min=32"`
	AccessToken string `json:"access_token" validate:"required,min=20"`
	Webhook     string `json:"webhook_secret,omitempty" validate:"omitempty,min=16"`
}

// DouyinCredentials holds Douyin shop open platform credentials
type DouyinCredentials struct {
	AppKey      string `json:"app_key" validate:"required,numeric_id"`
	AppSecret   string `json:"app_secret" validate:"required,min=32"`
	AccessToken string `json:"access_token" validate:"required,token_prefix=act.,min=20"`
	ShopID      string `json:"shop_id" validate:"required,numeric_id"`
	Webhook     string `json:"webhook_secret,omitempty" validate:"omitempty,min=16"`
}

// PDDCredentials holds Pinduoduo open platform credentials
type PDDCredentials struct {
	ClientID     string `json:"client_id" validate:"required,hexadecimal,len=32"`
	ClientSecret string `json:"client_secret" validate:"required,min=32"`
	AccessToken  string `json:"access_token" validate:"required,min=20"`
	MallID       string `json:"mall_id" validate:"required,numeric_id"`
	Webhook      string `json:"webhook_secret,omitempty" validate:"omitempty,min=16"`
}

var (
	_ Credentials = (*TaobaoCredentials)(nil)
	_ Credentials = (*JDCredentials)(nil)
	_ Credentials = (*DouyinCredentials)(nil)
	_ Credentials = (*PDDCredentials)(nil)
)

func (c *TaobaoCredentials) Platform() PlatformCode { return PlatformCodeTaobao }
func (c *JDCredentials) Platform() PlatformCode     { return PlatformCodeJD }
func (c *DouyinCredentials) Platform() PlatformCode { return PlatformCodeDouyin }
func (c *PDDCredentials) Platform() PlatformCode    { return PlatformCodePDD }

func (c *TaobaoCredentials) Validate() error { return validateCredentials(c) }
func (c *JDCredentials) Validate() error     { return validateCredentials(c) }
func (c *DouyinCredentials) Validate() error { return validateCredentials(c) }
func (c *PDDCredentials) Validate() error    { return validateCredentials(c) }

func (c *TaobaoCredentials) WebhookSecret() string { return c.Webhook }
func (c *JDCredentials) WebhookSecret() string     { return c.Webhook }
func (c *DouyinCredentials) WebhookSecret() string { return c.Webhook }
func (c *PDDCredentials) WebhookSecret() string    { return c.Webhook }

func (c *TaobaoCredentials) Redacted() map[string]string {
	return map[string]string{
		"app_key":        c.AppKey,
		"app_secret":     RedactSecret(c.AppSecret),
		"session_key":    RedactSecret(c.SessionKey),
		"webhook_secret": RedactSecret(c.Webhook),
	}
}

func (c *JDCredentials) Redacted() map[string]string {
	return map[string]string{
		"app_key":        c.AppKey,
		"app_secret":     RedactSecret(c.AppSecret),
		"access_token":   RedactSecret(c.AccessToken),
		"webhook_secret": RedactSecret(c.Webhook),
	}
}

func (c *DouyinCredentials) Redacted() map[string]string {
	return map[string]string{
		"app_key":        c.AppKey,
		"app_secret":     RedactSecret(c.AppSecret),
		"access_token":   RedactSecret(c.AccessToken),
		"shop_id":        c.ShopID,
		"webhook_secret": RedactSecret(c.Webhook),
	}
}

func (c *PDDCredentials) Redacted() map[string]string {
	return map[string]string{
		"client_id":      c.ClientID,
		"client_secret":  RedactSecret(c.ClientSecret),
		"access_token":   RedactSecret(c.AccessToken),
		"mall_id":        c.MallID,
		"webhook_secret": RedactSecret(c.Webhook),
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// NewCredentials returns an empty variant for the platform
func NewCredentials(platform PlatformCode) (Credentials, error) {
	switch platform {
	case PlatformCodeTaobao:
		return &TaobaoCredentials{}, nil
	case PlatformCodeJD:
		return &JDCredentials{}, nil
	case PlatformCodeDouyin:
		return &DouyinCredentials{}, nil
	case PlatformCodePDD:
		return &PDDCredentials{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlatformCode, platform)
	}
}

// DecodeCredentials parses a JSON credential bundle into the platform's variant
// and strips unsafe characters from every field. It does not validate.
func DecodeCredentials(platform PlatformCode, raw []byte) (Credentials, error) {
	creds, err := NewCredentials(platform)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, creds); err != nil {
		return nil, fmt.Errorf("%w: malformed credentials: %v", ErrValidation, err)
	}
	sanitizeCredentials(creds)
	return creds, nil
}

// EncodeCredentials serializes a credential variant back to JSON
func EncodeCredentials(creds Credentials) ([]byte, error) {
	return json.Marshal(creds)
}

func sanitizeCredentials(creds Credentials) {
	switch c := creds.(type) {
	case *TaobaoCredentials:
		sanitizeFields(&c.AppKey, &c.AppSecret, &c.SessionKey, &c.Webhook)
	case *JDCredentials:
		sanitizeFields(&c.AppKey, &c.AppSecret, &c.AccessToken, &c.Webhook)
	case *DouyinCredentials:
		sanitizeFields(&c.AppKey, &c.AppSecret, &c.AccessToken, &c.ShopID, &c.Webhook)
	case *PDDCredentials:
		sanitizeFields(&c.ClientID, &c.ClientSecret, &c.AccessToken, &c.MallID, &c.Webhook)
	}
}

func sanitizeFields(fields ...*string) {
	for _, f := range fields {
		*f = SanitizeCredentialValue(*f)
	}
}

// SanitizeCredentialValue removes control characters, whitespace, quotes,
// angle brackets and backslashes from a credential value.
func SanitizeCredentialValue(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '"', '\'', '`', '<', '>', '\\':
			return -1
		}
		return r
	}, s)
}

// RedactSecret masks a secret, keeping at most the last four characters
// of values long enough that the suffix does not reveal the secret.
func RedactSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

var (
	numericIDPattern = regexp.MustCompile(`^[0-9]+$`)
	credValidator    = newCredentialValidator()
)

func newCredentialValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("numeric_id", func(fl validator.FieldLevel) bool {
		return numericIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("token_prefix", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(fl.Field().String(), fl.Param())
	})
	return v
}

func validateCredentials(creds Credentials) error {
	err := credValidator.Struct(creds)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s: %s", ErrValidation, creds.Platform(), strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "numeric_id":
		return fe.Field() + " must contain digits only"
	case "token_prefix":
		return fmt.Sprintf("%s must start with %q", fe.Field(), fe.Param())
	case "alphanum":
		return fe.Field() + " must be alphanumeric"
	case "hexadecimal":
		return fe.Field() + " must be hexadecimal"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
