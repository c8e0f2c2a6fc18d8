package ratelimit

import "strings"

// RouteCategory selects which tier applies to a request.
type RouteCategory string

const (
	CategoryAuth            RouteCategory = "auth"
	CategoryAIAnonymous     RouteCategory = "ai-anonymous"
	CategoryAIAuthenticated RouteCategory = "ai-authenticated"
	CategoryGeneral         RouteCategory = "general"
)

// CallerIdentity carries the identifiers the HTTP layer extracted for a
// request. Preference order for the counter subject: user id, device id, IP.
type CallerIdentity struct {
	UserID   string
	DeviceID string
	IP       string
}

// Subject returns the strongest available identifier.
func (c CallerIdentity) Subject() string {
	if s := strings.TrimSpace(c.UserID); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.DeviceID); s != "" {
		return s
	}
	if s := strings.TrimSpace(c.IP); s != "" {
		return s
	}
	return "unknown"
}

// Resolver maps (route category, caller identity) to a policy and the
// composite counter key. Pure and side-effect free.
type Resolver struct {
	policies map[string]Policy
}

// NewResolver builds a Resolver from per-tier policies. Tiers missing from
// the map fall back to the built-in defaults, so a partial override is safe.
func NewResolver(policies map[string]Policy) *Resolver {
	merged := DefaultPolicies()
	for tier, p := range policies {
		if p.MaxRequests > 0 && p.Window > 0 {
			p.Tier = tier
			merged[tier] = p
		}
	}
	return &Resolver{policies: merged}
}

// Resolve returns the policy for the category and the composite key for the
// caller. An unknown category resolves to the general tier rather than
// failing the request.
func (r *Resolver) Resolve(category RouteCategory, identity CallerIdentity) (Policy, string) {
	policy, ok := r.policies[string(category)]
	if !ok {
		policy = r.policies[TierGeneral]
	}
	return policy, policy.Tier + ":" + identity.Subject()
}
