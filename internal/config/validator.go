package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator checks struct tags and cross-field rules.
type Validator struct {
	validate *validator.Validate
}

// NewValidator returns a Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate reports every violation in one error.
func (v *Validator) Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration is nil")
	}

	var messages []string
	if err := v.validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validation error: %w", err)
		}
		for _, e := range verrs {
			messages = append(messages, formatValidationError(e))
		}
	}
	if cfg.Engine.MaxIdleConns > cfg.Engine.MaxOpenConns {
		messages = append(messages, fmt.Sprintf("engine.max_idle_conns must not exceed engine.max_open_conns (got: %d > %d)",
			cfg.Engine.MaxIdleConns, cfg.Engine.MaxOpenConns))
	}
	if len(messages) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(messages, "\n  - "))
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := formatFieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s (got: %v)", field, e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s (got: %v)", field, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", field, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", field, e.Tag(), e.Value())
	}
}

// formatFieldPath turns "Config.Engine.MaxOpenConns" into "engine.max_open_conns".
func formatFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) <= 1 {
		return namespace
	}
	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		out = append(out, camelToSnake(p))
	}
	return strings.Join(out, ".")
}

func camelToSnake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
				b.WriteRune('_')
			}
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}
