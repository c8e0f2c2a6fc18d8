package ratelimit

import "time"

// Tier names used to build composite counter keys. A key always embeds the
// tier, so exhausting one tier/subject pair never affects another.
const (
	TierAuth            = "auth"
	TierAIAnonymous     = "ai-anonymous"
	TierAIAuthenticated = "ai-authenticated"
	TierGeneral         = "general"
)

// Policy is an immutable per-tier limit definition.
type Policy struct {
	Tier        string
	MaxRequests int
	Window      time.Duration
}

// DefaultPolicies returns the built-in tier limits. Callers may override
// individual tiers through configuration before constructing a Resolver.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		TierAuth:            {Tier: TierAuth, MaxRequests: 5, Window: 15 * time.Minute},
		TierAIAnonymous:     {Tier: TierAIAnonymous, MaxRequests: 10, Window: time.Hour},
		TierAIAuthenticated: {Tier: TierAIAuthenticated, MaxRequests: 20, Window: time.Hour},
		TierGeneral:         {Tier: TierGeneral, MaxRequests: 100, Window: time.Minute},
	}
}

// Decision is the outcome of a single rate-limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the whole seconds a denied caller should wait before the
// window resets. Never negative; rounds up so a retry lands inside the next
// window.
func (d Decision) RetryAfter(now time.Time) int {
	if !d.ResetAt.After(now) {
		return 0
	}
	secs := int((d.ResetAt.Sub(now) + time.Second - 1) / time.Second)
	return secs
}

// FailMode selects behavior when the counter store is unreachable. This is a
// security-relevant choice and therefore explicit configuration, not a
// default buried in error handling.
type FailMode string

const (
	// FailModeAllow lets the request proceed when the store errors
	// (availability over strictness).
	FailModeAllow FailMode = "allow"
	// FailModeDeny rejects the request when the store errors.
	FailModeDeny FailMode = "deny"
)

// Valid reports whether the mode is one of the named values.
func (m FailMode) Valid() bool {
	return m == FailModeAllow || m == FailModeDeny
}
