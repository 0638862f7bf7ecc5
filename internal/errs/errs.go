package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrProviderRejected     = errors.New("provider rejected request")
	ErrProviderUnavailable  = errors.New("provider unavailable")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ConfigurationMissingError means no fallback tier holds a usable configuration for
// the provider. It is terminal and must not be retried.
type ConfigurationMissingError struct {
	Provider       string
	OrganizationID int64
	BranchID       *int64
	Missing        []string
}

func (e *ConfigurationMissingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s settings not configured for organization %d", e.Provider, e.OrganizationID)
	if e.BranchID != nil {
		fmt.Fprintf(&b, " / branch %d", *e.BranchID)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " (missing: %s)", strings.Join(e.Missing, ", "))
	}
	return b.String()
}

func (e *ConfigurationMissingError) Is(target error) bool {
	return target == ErrConfigurationMissing
}

// ProviderRejectedError is a 4xx answer from an external API. Hint names the likely
// operator misconfiguration.
type ProviderRejectedError struct {
	Provider   string
	StatusCode int
	Message    string
	Hint       string
}

func (e *ProviderRejectedError) Error() string {
	msg := fmt.Sprintf("%s rejected request (status %d)", e.Provider, e.StatusCode)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

func (e *ProviderRejectedError) Is(target error) bool {
	return target == ErrProviderRejected
}

// ProviderUnavailableError wraps network failures, timeouts and 5xx answers.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Err
}
