package retrieval

import (
	"context"
	"time"
)

// Channel fetches a Target's content. Each channel owns its timeout.
// Failures are returned as *Failure.
type Channel interface {
	ID() ChannelID
	Attempt(ctx context.Context, target Target) (RetrievalResult, error)
}

// Gate rejects retrieved content that is a challenge page, a subscription
// gate or implausible text. It returns a *Failure for the given channel.
type Gate interface {
	Check(channel ChannelID, raw []byte, text string) error
}

// Budget is the admission and spend accounting view the orchestrator needs.
type Budget interface {
	Metered(channel ChannelID) bool
	Admit(channel ChannelID) bool
	ChargeAttempt(channel ChannelID) error
}

// Health guards the Direct Browser channel.
type Health interface {
	Check(ctx context.Context) error
	Available() bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Credentials are the login details for one authentication realm.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource supplies per-realm credentials from an external secret store.
type CredentialSource interface {
	Credentials(ctx context.Context, realm string) (Credentials, error)
}

// SystemClock implements Clock using UTC wall time.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
