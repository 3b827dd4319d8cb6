package retrieval

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why an attempt failed.
type ErrorKind string

// Failure taxonomy.
const (
	KindTransient        ErrorKind = "transient"
	KindBlocked          ErrorKind = "blocked"
	KindPaywalled        ErrorKind = "paywalled"
	KindNotFound         ErrorKind = "not_found"
	KindExhaustedRetries ErrorKind = "exhausted_retries"
	KindBudgetExhausted  ErrorKind = "budget_exhausted"
	KindGarbage          ErrorKind = "garbage_content"
)

// Failure is the typed error every channel returns.
type Failure struct {
	Kind    ErrorKind
	Channel ChannelID
	Err     error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Channel, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Channel, f.Kind, f.Err)
}

// Unwrap exposes the underlying cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Fail builds a Failure of the given kind.
func Fail(kind ErrorKind, channel ChannelID, err error) *Failure {
	return &Failure{Kind: kind, Channel: channel, Err: err}
}

// Failf builds a Failure with a formatted cause.
func Failf(kind ErrorKind, channel ChannelID, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Channel: channel, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from err. Untyped errors count as transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindTransient
}

// ExhaustedError is returned when every selected channel failed. It carries
// the full attempt log.
type ExhaustedError struct {
	TargetID string
	Attempts []AttemptRecord
	Last     error
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	kinds := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Outcome == OutcomeFailure {
			kinds = append(kinds, fmt.Sprintf("%s=%s", a.Channel, a.ErrorKind))
		}
	}
	return fmt.Sprintf("target %s: all channels failed [%s]", e.TargetID, strings.Join(kinds, ", "))
}

// Unwrap exposes the last channel failure.
func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// NotFound reports whether a live channel confirmed a dead link.
func (e *ExhaustedError) NotFound() bool {
	for _, a := range e.Attempts {
		if a.ErrorKind == KindNotFound && a.Channel != ChannelSnapshot {
			return true
		}
	}
	return false
}

// ErrNoChannels is returned when no channel is available for a target.
var ErrNoChannels = errors.New("no retrieval channel available")
