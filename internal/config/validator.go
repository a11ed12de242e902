package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/wesleyorama2/counterload/internal/threshold"
)

// ValidationError is a problem with one profile field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors collects every problem found in a profile.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add appends an error for field.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any errors were added.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the semantic rules the schema cannot express.
// It returns nil or a *ValidationErrors.
func (p *Profile) Validate() error {
	errs := &ValidationErrors{}

	validateBaseURL(p.BaseURL, errs)

	if len(p.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, s := range p.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if s.Duration <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0")
		}
		if s.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	for metric, exprs := range p.Thresholds {
		if !threshold.IsKnownMetric(metric) {
			errs.Add("thresholds."+metric, "unknown metric")
			continue
		}
		for i, expr := range exprs {
			if _, err := threshold.Parse(metric, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}

	if p.Timeout < 0 {
		errs.Add("timeout", "timeout cannot be negative")
	}
	if p.GracefulStop < 0 {
		errs.Add("gracefulStop", "gracefulStop cannot be negative")
	}
	if p.MaxIdleConnsPerHost < 0 {
		errs.Add("maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateBaseURL(raw string, errs *ValidationErrors) {
	if raw == "" {
		errs.Add("baseUrl", "baseUrl is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add("baseUrl", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add("baseUrl", "scheme must be http or https")
	}
	if u.Host == "" {
		errs.Add("baseUrl", "host is required")
	}
}
