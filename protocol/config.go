package protocol

import "time"

// ChatConfig provides policy constants for the chat protocol. Zero values
// fall back to the defaults below.
type ChatConfig struct {
	// MaxGroupNameLength bounds group names; longer names are rejected
	// before any external call.
	MaxGroupNameLength int

	// RevealValidity is the validity window written into disclosure
	// authorizations.
	RevealValidity time.Duration

	// RetryBaseDelay is the initial backoff after a transient failure.
	// Each retry doubles it up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// MaxRetryAttempts bounds reconciler retries of a historical read
	// before the failure is surfaced.
	MaxRetryAttempts int
}

// DefaultChatConfig returns the policy used when no overrides are given.
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		MaxGroupNameLength: 64,
		RevealValidity:     10 * 24 * time.Hour,
		RetryBaseDelay:     250 * time.Millisecond,
		RetryMaxDelay:      10 * time.Second,
		MaxRetryAttempts:   8,
	}
}

func (c *ChatConfig) withDefaults() *ChatConfig {
	def := DefaultChatConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxGroupNameLength == 0 {
		out.MaxGroupNameLength = def.MaxGroupNameLength
	}
	if out.RevealValidity == 0 {
		out.RevealValidity = def.RevealValidity
	}
	if out.RetryBaseDelay == 0 {
		out.RetryBaseDelay = def.RetryBaseDelay
	}
	if out.RetryMaxDelay == 0 {
		out.RetryMaxDelay = def.RetryMaxDelay
	}
	if out.MaxRetryAttempts == 0 {
		out.MaxRetryAttempts = def.MaxRetryAttempts
	}
	return &out
}

// backoffDelay returns the delay before retry attempt (0-based).
func (c *ChatConfig) backoffDelay(attempt int) time.Duration {
	delay := c.RetryBaseDelay << uint(attempt)
	if delay > c.RetryMaxDelay || delay <= 0 {
		delay = c.RetryMaxDelay
	}
	return delay
}
