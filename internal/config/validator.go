package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// audit_output: validates "stdout", "file" or "sqlite"
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout", "file", "sqlite"
func validateAuditOutput(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "stdout", "file", "sqlite":
		return true
	}
	return false
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: pool sizing
	if err := c.validatePoolSizing(); err != nil {
		return err
	}

	// Cross-field validation: router thresholds
	if err := c.validateRouterThresholds(); err != nil {
		return err
	}

	// Cross-field validation: audit output directory
	if err := c.validateAuditDir(); err != nil {
		return err
	}

	// Cross-field validation: subprocess driver command
	if err := c.validateSandboxDriver(); err != nil {
		return err
	}

	return nil
}

// validatePoolSizing ensures the warm floor fits under the instance cap.
func (c *Config) validatePoolSizing() error {
	if c.Sandbox.MinInstances > c.Sandbox.MaxInstances {
		return fmt.Errorf("sandbox: min_instances (%d) exceeds max_instances (%d)",
			c.Sandbox.MinInstances, c.Sandbox.MaxInstances)
	}
	return nil
}

// validateRouterThresholds ensures the confidence floor does not exceed the
// similarity threshold; a decision below the floor could otherwise never be
// produced in the first place.
func (c *Config) validateRouterThresholds() error {
	if c.Router.MinConfidence > c.Router.SimilarityThreshold {
		return fmt.Errorf("router: min_confidence (%.2f) exceeds similarity_threshold (%.2f)",
			c.Router.MinConfidence, c.Router.SimilarityThreshold)
	}
	return nil
}

// validateAuditDir ensures persistent audit outputs have a directory.
func (c *Config) validateAuditDir() error {
	if c.Audit.Output != "stdout" && c.Audit.Dir == "" {
		return fmt.Errorf("audit: output %q requires dir to be set", c.Audit.Output)
	}
	return nil
}

// validateSandboxDriver ensures the subprocess driver has a worker command.
func (c *Config) validateSandboxDriver() error {
	if c.Sandbox.Driver == "subprocess" && c.Sandbox.Command == "" {
		return errors.New("sandbox: driver \"subprocess\" requires command to be set")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "audit_output":
		return fmt.Sprintf("%s must be one of: stdout file sqlite", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
