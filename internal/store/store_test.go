package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "trust.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "deeper", "trust.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close on nil db should not error: %v", err)
	}
}

func TestAdminKeypairs(t *testing.T) {
	s := openTestStore(t)

	level := 25
	if err := s.InsertAdminKeypair(&AdminKeypair{PublicKey: "aaa", TrustLevel: &level}); err != nil {
		t.Fatalf("InsertAdminKeypair failed: %v", err)
	}
	if err := s.InsertAdminKeypair(&AdminKeypair{PublicKey: "bbb", KeyUsage: "master-admin-signing"}); err != nil {
		t.Fatalf("InsertAdminKeypair failed: %v", err)
	}

	rows, err := s.AdminKeypairs([]string{"aaa", "bbb"})
	if err != nil {
		t.Fatalf("AdminKeypairs failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	rows, err = s.AdminKeypairs([]string{"ccc"})
	if err != nil {
		t.Fatalf("AdminKeypairs failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows for unknown key, got %d", len(rows))
	}

	if rows, _ := s.AdminKeypairs(nil); rows != nil {
		t.Error("empty representation set should return nothing")
	}
}

func TestUpsertAndGetDeclaration(t *testing.T) {
	s := openTestStore(t)

	until := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	d := &Declaration{
		ID:              "decl-1",
		DeclarationType: DeclarationTypeTrust,
		Status:          StatusPublished,
		Content: DeclarationContent{
			Subject:     Subject{Pubkey: "aaa"},
			TrustLevel:  LevelValue{Role: "moderator"},
			Permissions: map[string]bool{"can_moderate": true},
			Scopes:      []PermissionScope{{Type: "section", Targets: []string{"kaizo"}}},
		},
		ContentHash: "deadbeef",
		ValidUntil:  &until,
	}
	if err := s.UpsertDeclaration(d); err != nil {
		t.Fatalf("UpsertDeclaration failed: %v", err)
	}

	got, err := s.GetDeclaration("decl-1")
	if err != nil {
		t.Fatalf("GetDeclaration failed: %v", err)
	}
	if got.Content.Subject.Pubkey != "aaa" {
		t.Errorf("subject mismatch: %q", got.Content.Subject.Pubkey)
	}
	if got.Content.TrustLevel.Role != "moderator" {
		t.Errorf("trust level mismatch: %+v", got.Content.TrustLevel)
	}
	if got.ValidUntil == nil || !got.ValidUntil.Equal(until) {
		t.Errorf("valid_until mismatch: %v", got.ValidUntil)
	}
	if !got.Content.Permissions["can_moderate"] {
		t.Error("permissions not round-tripped")
	}

	// Update in place.
	d.Status = StatusActive
	d.CurrentCountersignatures = 2
	if err := s.UpsertDeclaration(d); err != nil {
		t.Fatalf("UpsertDeclaration update failed: %v", err)
	}
	got, err = s.GetDeclaration("decl-1")
	if err != nil {
		t.Fatalf("GetDeclaration failed: %v", err)
	}
	if got.Status != StatusActive || got.CurrentCountersignatures != 2 {
		t.Errorf("update not applied: %s %d", got.Status, got.CurrentCountersignatures)
	}
}

func TestActiveDeclarationsExcludesDrafts(t *testing.T) {
	s := openTestStore(t)

	for _, d := range []*Declaration{
		{ID: "pub", DeclarationType: DeclarationTypeTrust, Status: StatusPublished, Content: DeclarationContent{Subject: Subject{Pubkey: "aaa"}}},
		{ID: "draft", DeclarationType: DeclarationTypeTrust, Status: StatusDraft, Content: DeclarationContent{Subject: Subject{Pubkey: "aaa"}}},
		{ID: "revoked", DeclarationType: DeclarationTypeTrust, Status: StatusActive, Revoked: true, Content: DeclarationContent{Subject: Subject{Pubkey: "aaa"}}},
	} {
		if err := s.UpsertDeclaration(d); err != nil {
			t.Fatalf("UpsertDeclaration failed: %v", err)
		}
	}

	rows, err := s.ActiveDeclarations()
	if err != nil {
		t.Fatalf("ActiveDeclarations failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "pub" {
		t.Errorf("expected only the published declaration, got %d rows", len(rows))
	}
}

func TestAssignments(t *testing.T) {
	s := openTestStore(t)

	limit := 10
	id, err := s.InsertAssignment(&Assignment{
		Pubkey:             "aaa",
		AssignedTrustLevel: 15,
		TrustLimit:         &limit,
		AssignedBy:         "admin",
		Source:             "test",
		Reason:             "spot check",
	})
	if err != nil {
		t.Fatalf("InsertAssignment failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero id")
	}

	past := time.Now().Add(-time.Hour)
	if _, err := s.InsertAssignment(&Assignment{Pubkey: "aaa", AssignedTrustLevel: 30, ExpiresAt: &past}); err != nil {
		t.Fatalf("InsertAssignment failed: %v", err)
	}

	rows, err := s.Assignments([]string{"aaa"})
	if err != nil {
		t.Fatalf("Assignments failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expired assignment should be excluded, got %d rows", len(rows))
	}
	if rows[0].TrustLimit == nil || *rows[0].TrustLimit != 10 {
		t.Errorf("trust limit not round-tripped: %v", rows[0].TrustLimit)
	}

	if err := s.DeleteAssignment(id); err != nil {
		t.Fatalf("DeleteAssignment failed: %v", err)
	}
	rows, _ = s.Assignments([]string{"aaa"})
	if len(rows) != 0 {
		t.Errorf("expected no assignments after delete, got %d", len(rows))
	}
}

func TestDeleteExpiredAssignments(t *testing.T) {
	s := openTestStore(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	s.InsertAssignment(&Assignment{Pubkey: "aaa", AssignedTrustLevel: 5, ExpiresAt: &past})
	s.InsertAssignment(&Assignment{Pubkey: "bbb", AssignedTrustLevel: 5, ExpiresAt: &future})

	n, err := s.DeleteExpiredAssignments(time.Now())
	if err != nil {
		t.Fatalf("DeleteExpiredAssignments failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row deleted, got %d", n)
	}
}

func TestDeclarationValidAt(t *testing.T) {
	now := time.Now()
	from := now.Add(-time.Hour)
	until := now.Add(time.Hour)

	d := &Declaration{ValidFrom: &from, ValidUntil: &until}
	if !d.ValidAt(now) {
		t.Error("inside window should be valid")
	}
	if d.ValidAt(now.Add(2 * time.Hour)) {
		t.Error("after window should be invalid")
	}
	if d.ValidAt(now.Add(-2 * time.Hour)) {
		t.Error("before window should be invalid")
	}

	open := &Declaration{}
	if !open.ValidAt(now) {
		t.Error("open window should always be valid")
	}
}

func TestCountersignaturesSatisfied(t *testing.T) {
	d := &Declaration{Status: StatusSigned, RequiredCountersignatures: 2, CurrentCountersignatures: 1}
	if d.CountersignaturesSatisfied() {
		t.Error("under-countersigned declaration should not be satisfied")
	}
	d.CurrentCountersignatures = 2
	if !d.CountersignaturesSatisfied() {
		t.Error("fully countersigned declaration should be satisfied")
	}
	published := &Declaration{Status: StatusPublished, RequiredCountersignatures: 3}
	if !published.CountersignaturesSatisfied() {
		t.Error("non-signed statuses carry no countersignature requirement")
	}
}

func TestLevelValueJSON(t *testing.T) {
	var v LevelValue
	if err := v.UnmarshalJSON([]byte(`"moderator"`)); err != nil {
		t.Fatalf("unmarshal role failed: %v", err)
	}
	if v.Role != "moderator" || v.Numeric {
		t.Errorf("role not decoded: %+v", v)
	}

	if err := v.UnmarshalJSON([]byte(`12`)); err != nil {
		t.Fatalf("unmarshal number failed: %v", err)
	}
	if !v.Numeric || v.Level != 12 {
		t.Errorf("number not decoded: %+v", v)
	}

	if err := v.UnmarshalJSON([]byte(`1.5`)); err == nil {
		t.Error("fractional level should fail")
	}
}
