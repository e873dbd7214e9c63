package trust

import (
	"log/slog"
	"time"

	"trustd/internal/identity"
	"trustd/internal/store"
)

// Source is the read surface the resolver needs from the trust store.
type Source interface {
	AdminKeypairs(representations []string) ([]store.AdminKeypair, error)
	ActiveDeclarations() ([]store.Declaration, error)
	Assignments(representations []string) ([]store.Assignment, error)
}

// Grant is one aggregated permission entry: the flags a declaration
// enables over one of its declared scopes.
type Grant struct {
	DeclarationID string
	Scope         store.PermissionScope
	Flags         map[string]bool
}

// Record is the resolver's output for one identity: the effective trust
// level, its tier, and everything that contributed. It is derived on
// every call and never persisted.
type Record struct {
	Pubkey          string
	Representations []string

	TrustLevel int
	Tier       Tier

	AdminLevel            int
	DeclarationLevel      int
	DeclarationTrustLimit *int

	Declarations []store.Declaration
	Assignments  []store.Assignment
	Grants       []Grant
}

// Resolver computes effective trust records. It holds no mutable state
// and is safe for concurrent use.
type Resolver struct {
	src Source
	log *slog.Logger
	now func() time.Time
}

// NewResolver creates a resolver over the given source.
func NewResolver(src Source, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{src: src, log: log.With("component", "resolver"), now: time.Now}
}

// Resolve computes the effective trust record for a pubkey.
//
// Resolution is total: a failing data source contributes nothing but
// never aborts the call, so every reachable store state (including an
// empty one) yields a usable record.
func (r *Resolver) Resolve(pubkey string) Record {
	rec := Record{Pubkey: pubkey, TrustLevel: DefaultLevel}

	reps, err := identity.Representations(pubkey)
	if err != nil {
		r.log.Warn("identity expansion incomplete", "pubkey", pubkey, "error", err)
	}
	if len(reps) == 0 {
		reps = []string{pubkey}
	}
	rec.Representations = reps

	level := DefaultLevel

	// Admin grants raise the floor to the strongest grant.
	if adminLevel, ok := r.adminLevel(reps); ok {
		rec.AdminLevel = adminLevel
		if adminLevel > level {
			level = adminLevel
		}
	}

	// Declarations raise the level, then their limits cap it. The order
	// matters: a limit can only suppress, never become a floor.
	declLevel, declLimit, matched, grants := r.declarationContribution(reps)
	rec.Declarations = matched
	rec.Grants = grants
	if len(matched) > 0 {
		rec.DeclarationLevel = declLevel
		rec.DeclarationTrustLimit = declLimit
		if declLevel > level {
			level = declLevel
		}
		if declLimit != nil && *declLimit < level {
			level = *declLimit
		}
	}

	// Manual assignments: non-positive levels are floors, positive
	// levels ceiling candidates; the smallest limit caps everything.
	assignments, assignLimit := r.assignments(reps)
	rec.Assignments = assignments
	for _, a := range assignments {
		if a.AssignedTrustLevel <= 0 {
			if a.AssignedTrustLevel < level {
				level = a.AssignedTrustLevel
			}
		} else if a.AssignedTrustLevel > level {
			level = a.AssignedTrustLevel
		}
	}
	if assignLimit != nil && *assignLimit < level {
		level = *assignLimit
	}

	rec.TrustLevel = Clamp(level)
	rec.Tier = TierFor(rec.TrustLevel)
	return rec
}

func (r *Resolver) adminLevel(reps []string) (int, bool) {
	rows, err := r.src.AdminKeypairs(reps)
	if err != nil {
		r.log.Warn("admin keypair query failed", "error", err)
		return 0, false
	}

	best := 0
	found := false
	for _, kp := range rows {
		if kp.TrustLevel != nil {
			found = true
			if *kp.TrustLevel > best {
				best = *kp.TrustLevel
			}
		}
		if l, ok := UsageLevel(kp.KeyUsage); ok {
			found = true
			if l > best {
				best = l
			}
		}
	}
	return best, found
}

func (r *Resolver) declarationContribution(reps []string) (level int, limit *int, matched []store.Declaration, grants []Grant) {
	rows, err := r.src.ActiveDeclarations()
	if err != nil {
		r.log.Warn("declaration query failed", "error", err)
		return 0, nil, nil, nil
	}

	repSet := make(map[string]bool, len(reps))
	for _, rep := range reps {
		repSet[rep] = true
	}
	now := r.now()

	for _, d := range rows {
		if d.DeclarationType != store.DeclarationTypeTrust {
			continue
		}
		if d.Revoked || d.Status == store.StatusDraft {
			continue
		}
		if !d.ValidAt(now) {
			continue
		}
		if !d.CountersignaturesSatisfied() {
			continue
		}
		if !repSet[d.Content.Subject.Pubkey] && !repSet[d.Content.Subject.Npub] {
			continue
		}

		matched = append(matched, d)

		if l, ok := r.declarationLevel(d); ok && l > level {
			level = l
		}
		if d.Content.TrustLimit > 0 {
			if limit == nil || d.Content.TrustLimit < *limit {
				l := d.Content.TrustLimit
				limit = &l
			}
		}

		scopes := d.Content.Scopes
		if len(scopes) == 0 {
			scopes = []store.PermissionScope{{Type: "global"}}
		}
		for _, sc := range scopes {
			grants = append(grants, Grant{
				DeclarationID: d.ID,
				Scope:         sc,
				Flags:         d.Content.Permissions,
			})
		}
	}
	return level, limit, matched, grants
}

func (r *Resolver) declarationLevel(d store.Declaration) (int, bool) {
	v := d.Content.TrustLevel
	if v.IsZero() {
		return 0, false
	}
	if v.Numeric {
		return v.Level, true
	}
	if l, ok := RoleLevel(v.Role); ok {
		return l, true
	}
	r.log.Debug("unknown trust role", "declaration", d.ID, "role", v.Role)
	return 0, false
}

func (r *Resolver) assignments(reps []string) ([]store.Assignment, *int) {
	rows, err := r.src.Assignments(reps)
	if err != nil {
		r.log.Warn("assignment query failed", "error", err)
		return nil, nil
	}

	now := r.now()
	var kept []store.Assignment
	var limit *int
	for _, a := range rows {
		if a.Expired(now) {
			continue
		}
		kept = append(kept, a)
		if a.TrustLimit != nil && (limit == nil || *a.TrustLimit < *limit) {
			l := *a.TrustLimit
			limit = &l
		}
	}
	return kept, limit
}
