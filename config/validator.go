package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the global validator instance.
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("env", validateEnvironment)
	_ = validate.RegisterValidation("host", validateHost)
	validate.RegisterStructValidation(validateJournal, JournalConfig{})
	validate.RegisterStructValidation(validateIngress, IngressConfig{})
	validate.RegisterStructValidation(validateTracing, TracingConfig{})
}

// ConfigError represents a validation error for a specific field.
type ConfigError struct {
	Field   string
	Message string
	Value   interface{}
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of config errors.
type ValidationErrors []ConfigError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// ValidateWithDetails performs validation and returns detailed errors.
func ValidateWithDetails(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			var details ValidationErrors
			for _, fe := range validationErrors {
				details = append(details, ConfigError{
					Field:   fe.Namespace(),
					Message: formatValidationError(fe),
					Value:   fe.Value(),
				})
			}
			return details
		}
		return err
	}
	return nil
}

// formatValidationError converts validator.FieldError to a human-readable message.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "env":
		return "must be one of [development staging production]"
	case "host":
		return "must be a host name or IP address"
	case "required_for_backend":
		return fmt.Sprintf("is required when %s is selected", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// validateEnvironment is a custom validator for environment values.
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	validEnvs := []string{"development", "staging", "production"}
	for _, valid := range validEnvs {
		if env == valid {
			return true
		}
	}
	return false
}

// validateHost accepts an empty string, a host name or an IP literal.
func validateHost(fl validator.FieldLevel) bool {
	host := fl.Field().String()
	if host == "" {
		return true
	}
	for _, r := range host {
		if !isValidHostChar(r) {
			return false
		}
	}
	return true
}

func isValidHostChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '-', r == ':', r == '[', r == ']':
		return true
	}
	return false
}

func validateJournal(sl validator.StructLevel) {
	j := sl.Current().Interface().(JournalConfig)
	switch j.Type {
	case "badger":
		if strings.TrimSpace(j.Badger.Path) == "" {
			sl.ReportError(j.Badger.Path, "Badger.Path", "Path", "required_for_backend", "badger")
		}
	case "sqlite":
		if strings.TrimSpace(j.SQLite.Path) == "" {
			sl.ReportError(j.SQLite.Path, "SQLite.Path", "Path", "required_for_backend", "sqlite")
		}
	}
}

func validateIngress(sl validator.StructLevel) {
	in := sl.Current().Interface().(IngressConfig)
	if !in.Redis.Enabled {
		return
	}
	if strings.TrimSpace(in.Redis.Address) == "" {
		sl.ReportError(in.Redis.Address, "Redis.Address", "Address", "required_for_backend", "redis")
	}
	if strings.TrimSpace(in.Redis.Channel) == "" {
		sl.ReportError(in.Redis.Channel, "Redis.Channel", "Channel", "required_for_backend", "redis")
	}
}

func validateTracing(sl validator.StructLevel) {
	tc := sl.Current().Interface().(TracingConfig)
	if tc.Enabled && strings.TrimSpace(tc.Endpoint) == "" {
		sl.ReportError(tc.Endpoint, "Endpoint", "Endpoint", "required_for_backend", "tracing")
	}
}
