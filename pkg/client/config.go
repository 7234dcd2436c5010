package client

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// DefaultEndpoint is the service URL used when Config.Endpoint is empty.
const DefaultEndpoint = "https://ai.mindney.com"

// Credentials authenticate the session. All three are required.
type Credentials struct {
	ClientID    string `json:"clientId" validate:"notblank"`
	APIKey      string `json:"apiKey" validate:"notblank"`
	SecretToken string `json:"secretToken" validate:"notblank"`
}

// Config configures a Client. It is copied by New and never modified.
type Config struct {
	Credentials

	// Endpoint overrides DefaultEndpoint.
	Endpoint string `json:"endpoint,omitempty"`

	// Debug enables log output. When false the logger is never called.
	Debug bool `json:"debug,omitempty"`
}

// EffectiveEndpoint returns the endpoint the client connects to.
func (c Config) EffectiveEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return DefaultEndpoint
}

// Validate checks that every credential is present and not blank.
// The returned error is a *ConfigurationError wrapping ErrMissingCredential.
func (c Config) Validate() error {
	err := credentialValidator().Struct(c.Credentials)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ConfigurationError{Field: fieldErrs[0].Field(), Err: ErrMissingCredential}
	}
	return &ConfigurationError{Field: "credentials", Err: err}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func credentialValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("notblank", validators.NotBlank)
	})
	return validate
}
