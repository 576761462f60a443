package config

import (
	"fmt"
	"strings"

	"nascert/internal/mount"
)

// ValidationError is one rejected configuration field with context.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// Add appends a new validation error.
func (ve *ValidationErrors) Add(field, format string, args ...interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the whole configuration and converts every target into a
// validated mount.Target. It fails with the complete list of problems, not
// just the first.
func (c *Config) Validate() ([]*mount.Target, error) {
	var errs ValidationErrors

	if c.Syslog.Port < 1 || c.Syslog.Port > 65535 {
		errs.Add("syslog.port", "invalid port %d", c.Syslog.Port)
	}
	if c.Output.OwnerUID < 0 || c.Output.OwnerGID < 0 {
		errs.Add("output.ownerUid", "owner uid/gid must not be negative")
	}

	for i, app := range c.Appliances {
		field := fmt.Sprintf("appliances[%d]", i)
		if app.Vendor == "" {
			errs.Add(field+".vendor", "vendor is required")
		}
		if app.Management.Address == "" {
			errs.Add(field+".management.address", "management address is required")
		}
		switch strings.ToLower(app.Syslog.Protocol) {
		case "udp", "tcp":
		default:
			errs.Add(field+".syslog.protocol", "must be udp or tcp (got %q)", app.Syslog.Protocol)
		}
	}

	targets := make([]*mount.Target, 0, len(c.Targets))
	for i, tc := range c.Targets {
		target, err := BuildTarget(tc)
		if err != nil {
			errs.Add(fmt.Sprintf("targets[%d]", i), "%v", err)
			continue
		}
		targets = append(targets, target)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return targets, nil
}
