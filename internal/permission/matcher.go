package permission

import (
	"fmt"
	"log/slog"

	"trustd/internal/trust"
)

// Decision is the matcher's answer. Denials are values with a
// human-readable reason, never errors, so callers can render them
// directly.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	TrustLevel int        `json:"trust_level"`
	TrustTier  trust.Tier `json:"trust_tier,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Matcher evaluates actions against aggregated permission grants. It
// performs reads only and is safe for concurrent use.
type Matcher struct {
	resolver *trust.Resolver
	log      *slog.Logger
}

// NewMatcher creates a matcher backed by the given resolver.
func NewMatcher(resolver *trust.Resolver, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{resolver: resolver, log: log.With("component", "matcher")}
}

// CanPerform decides whether pubkey may perform action within scope.
//
// Two independent gates must both pass: some grant with every required
// permission flag must cover the scope hierarchy, and the resolved
// trust level must reach the action's minimum. The denial reasons are
// distinct so callers can tell which gate failed.
func (m *Matcher) CanPerform(pubkey, action string, scope Scope) Decision {
	// Missing input is rejected before any lookup.
	if pubkey == "" {
		return Decision{Reason: "Missing pubkey"}
	}
	if action == "" {
		return Decision{Reason: "Missing action"}
	}
	if scope.Type == "" {
		return Decision{Reason: "Missing scope type"}
	}

	req, ok := Lookup(action)
	if !ok {
		return Decision{Reason: "Unknown action"}
	}

	rec := m.resolver.Resolve(pubkey)
	hierarchy := Hierarchy(scope)

	matched := false
	for _, g := range rec.Grants {
		if !flagsSatisfy(g.Flags, req.Keys) {
			continue
		}
		if grantMatches(g.Scope, scope, hierarchy) {
			matched = true
			break
		}
	}

	if !matched {
		return Decision{
			TrustLevel: rec.TrustLevel,
			TrustTier:  rec.Tier,
			Reason:     "No permission for scope",
		}
	}

	if rec.TrustLevel < req.MinTrustLevel {
		return Decision{
			TrustLevel: rec.TrustLevel,
			TrustTier:  rec.Tier,
			Reason:     fmt.Sprintf("Trust level %d below required %d", rec.TrustLevel, req.MinTrustLevel),
		}
	}

	return Decision{Allowed: true, TrustLevel: rec.TrustLevel, TrustTier: rec.Tier}
}

// flagsSatisfy reports whether the grant's enabled flags are a superset
// of the required keys.
func flagsSatisfy(flags map[string]bool, required []string) bool {
	for _, key := range required {
		if !flags[key] {
			return false
		}
	}
	return true
}
