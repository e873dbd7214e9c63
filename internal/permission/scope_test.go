package permission

import (
	"testing"

	"trustd/internal/store"
)

func TestHierarchyChannel(t *testing.T) {
	nodes := Hierarchy(Scope{Type: "channel", Target: "kaizo:intro"})
	want := []Scope{
		{Type: "channel", Target: "kaizo:intro"},
		{Type: "section", Target: "channel:kaizo:intro"},
		{Type: "section", Target: "kaizo"},
		{Type: "global", Target: "*"},
	}
	if len(nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d: %v", len(want), len(nodes), nodes)
	}
	for i, n := range nodes {
		if n != want[i] {
			t.Errorf("node %d = %+v, want %+v", i, n, want[i])
		}
	}
}

func TestHierarchyNoDelimiter(t *testing.T) {
	nodes := Hierarchy(Scope{Type: "game", Target: "invictus"})
	want := []Scope{
		{Type: "game", Target: "invictus"},
		{Type: "section", Target: "game:invictus"},
		{Type: "global", Target: "*"},
	}
	if len(nodes) != len(want) {
		t.Fatalf("expected %d nodes, got %d: %v", len(want), len(nodes), nodes)
	}
}

func TestHierarchyGlobal(t *testing.T) {
	nodes := Hierarchy(Scope{Type: "global"})
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if nodes[1].Type != "global" || nodes[1].Target != "*" {
		t.Errorf("hierarchy must terminate with the global scope, got %+v", nodes[1])
	}
}

func TestHierarchyUserScope(t *testing.T) {
	// User scopes have no section form.
	nodes := Hierarchy(Scope{Type: "user", Target: "somebody"})
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d: %v", len(nodes), nodes)
	}
}

func testMatch(t *testing.T, entry store.PermissionScope, target Scope) bool {
	t.Helper()
	return grantMatches(entry, target, Hierarchy(target))
}

func TestSectionPrefixMatch(t *testing.T) {
	entry := store.PermissionScope{Type: "section", Targets: []string{"kaizo"}}

	if !testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("section grant should match channels under its prefix")
	}
	if testMatch(t, entry, Scope{Type: "channel", Target: "other:intro"}) {
		t.Error("section grant must not match channels under other prefixes")
	}
}

func TestGlobalEntryMatchesEverything(t *testing.T) {
	entry := store.PermissionScope{Type: "global"}
	for _, target := range []Scope{
		{Type: "channel", Target: "kaizo:intro"},
		{Type: "game", Target: "invictus"},
		{Type: "global"},
	} {
		if !testMatch(t, entry, target) {
			t.Errorf("global entry should match %+v", target)
		}
	}
}

func TestExcludeOverridesAllowAll(t *testing.T) {
	entry := store.PermissionScope{
		Type:    "channel",
		Targets: []string{"*"},
		Exclude: []string{"kaizo:intro"},
	}
	if testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("excluded target must not match despite allow-all")
	}
	if !testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:outro"}) {
		t.Error("non-excluded target should still match")
	}
}

func TestExcludeCompoundForm(t *testing.T) {
	entry := store.PermissionScope{
		Type:    "global",
		Exclude: []string{"channel:kaizo:intro"},
	}
	if testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("compound exclude must reject the target")
	}
}

func TestSameTypeExactTarget(t *testing.T) {
	entry := store.PermissionScope{Type: "channel", Targets: []string{"kaizo:intro"}}
	if !testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("exact target should match")
	}
	if testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:outro"}) {
		t.Error("different target must not match")
	}
}

func TestSameTypePrefixTarget(t *testing.T) {
	entry := store.PermissionScope{Type: "channel", Targets: []string{"kaizo"}}
	if !testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("prefix before the delimiter should match")
	}
}

func TestEmptyAllowListMatchesType(t *testing.T) {
	entry := store.PermissionScope{Type: "forum"}
	if !testMatch(t, entry, Scope{Type: "forum", Target: "speedruns"}) {
		t.Error("empty allow-list should match any target of the type")
	}
	if testMatch(t, entry, Scope{Type: "user", Target: "speedruns"}) {
		t.Error("entry must not match a different scope type")
	}
}

func TestSingularTargetForm(t *testing.T) {
	entry := store.PermissionScope{Type: "channel", Target: "kaizo:intro"}
	if !testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:intro"}) {
		t.Error("singular target form should match")
	}
	if testMatch(t, entry, Scope{Type: "channel", Target: "kaizo:outro"}) {
		t.Error("singular target must not allow other targets")
	}
}

func TestSectionCompoundMatch(t *testing.T) {
	entry := store.PermissionScope{Type: "section", Targets: []string{"game:invictus"}}
	if !testMatch(t, entry, Scope{Type: "game", Target: "invictus"}) {
		t.Error("section grant should match a node by its compound identifier")
	}
}
