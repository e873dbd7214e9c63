package permission

import (
	"strings"

	"trustd/internal/store"
)

// Scope is a target a caller wants to act within.
type Scope struct {
	Type   string `json:"type"`
	Target string `json:"target,omitempty"`
}

// Scope types.
const (
	ScopeGlobal  = "global"
	ScopeSection = "section"
	ScopeChannel = "channel"
	ScopeForum   = "forum"
	ScopeGame    = "game"
	ScopeUser    = "user"
)

// delimiter separates a section prefix from the rest of a target
// identifier, e.g. "kaizo:intro" belongs to section "kaizo".
const delimiter = ":"

// Hierarchy expands a target scope into the ordered set of nodes a
// grant may match: the exact scope, its compound and parent section
// forms, and finally the global scope. A hit on any node is sufficient.
func Hierarchy(s Scope) []Scope {
	nodes := []Scope{s}

	switch s.Type {
	case ScopeChannel, ScopeForum, ScopeGame:
		nodes = append(nodes, Scope{Type: ScopeSection, Target: s.Type + delimiter + s.Target})
		if i := strings.Index(s.Target, delimiter); i > 0 {
			nodes = append(nodes, Scope{Type: ScopeSection, Target: s.Target[:i]})
		}
	}

	return append(nodes, Scope{Type: ScopeGlobal, Target: "*"})
}

// grantMatches reports whether a granted scope entry covers the
// requested target through any node of its hierarchy.
func grantMatches(entry store.PermissionScope, target Scope, hierarchy []Scope) bool {
	// An excluded target never matches, regardless of scope type or any
	// allow-list entry.
	if excluded(entry.Exclude, target) {
		return false
	}

	for _, node := range hierarchy {
		if nodeMatches(entry, node) {
			return true
		}
	}
	return false
}

func excluded(exclude []string, target Scope) bool {
	for _, e := range exclude {
		if e == target.Target || e == target.Type+delimiter+target.Target {
			return true
		}
	}
	return false
}

func nodeMatches(entry store.PermissionScope, node Scope) bool {
	allowed := entryTargets(entry)
	switch {
	case entry.Type == ScopeGlobal:
		return true
	case entry.Type == node.Type:
		return targetAllowed(allowed, node.Target)
	case entry.Type == ScopeSection:
		// Section grants also match concrete nodes through their
		// compound "type:target" identifier.
		return targetAllowed(allowed, node.Type+delimiter+node.Target)
	}
	return false
}

// entryTargets folds the singular target form into the allow-list.
func entryTargets(entry store.PermissionScope) []string {
	if entry.Target == "" {
		return entry.Targets
	}
	return append([]string{entry.Target}, entry.Targets...)
}

// targetAllowed applies the allow-list rules: empty list or "*" allows
// everything; otherwise the exact target or its section prefix must be
// listed.
func targetAllowed(targets []string, target string) bool {
	if len(targets) == 0 {
		return true
	}
	prefix := ""
	if i := strings.Index(target, delimiter); i > 0 {
		prefix = target[:i]
	}
	for _, t := range targets {
		if t == "*" || t == target {
			return true
		}
		if prefix != "" && t == prefix {
			return true
		}
	}
	return false
}
