package trust

import (
	"errors"
	"testing"
	"time"

	"trustd/internal/identity"
	"trustd/internal/store"
)

const testKey = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

type fakeSource struct {
	admins       []store.AdminKeypair
	declarations []store.Declaration
	assignments  []store.Assignment

	adminErr       error
	declarationErr error
	assignmentErr  error
}

func (f *fakeSource) AdminKeypairs(reps []string) ([]store.AdminKeypair, error) {
	if f.adminErr != nil {
		return nil, f.adminErr
	}
	set := map[string]bool{}
	for _, r := range reps {
		set[r] = true
	}
	var out []store.AdminKeypair
	for _, kp := range f.admins {
		if set[kp.PublicKey] {
			out = append(out, kp)
		}
	}
	return out, nil
}

func (f *fakeSource) ActiveDeclarations() ([]store.Declaration, error) {
	if f.declarationErr != nil {
		return nil, f.declarationErr
	}
	return f.declarations, nil
}

func (f *fakeSource) Assignments(reps []string) ([]store.Assignment, error) {
	if f.assignmentErr != nil {
		return nil, f.assignmentErr
	}
	return f.assignments, nil
}

func newTestResolver(src *fakeSource) *Resolver {
	return NewResolver(src, nil)
}

func trustDecl(id string, level LevelArg, limit int) store.Declaration {
	return store.Declaration{
		ID:              id,
		DeclarationType: store.DeclarationTypeTrust,
		Status:          store.StatusPublished,
		Content: store.DeclarationContent{
			Subject:    store.Subject{Pubkey: testKey},
			TrustLevel: level.value(),
			TrustLimit: limit,
		},
	}
}

// LevelArg lets table entries express either a role or a number.
type LevelArg struct {
	role string
	num  int
}

func role(r string) LevelArg { return LevelArg{role: r} }
func num(n int) LevelArg     { return LevelArg{num: n} }

func (l LevelArg) value() store.LevelValue {
	if l.role != "" {
		return store.LevelValue{Role: l.role}
	}
	return store.LevelValue{Level: l.num, Numeric: true}
}

func TestResolveEmptyStore(t *testing.T) {
	rec := newTestResolver(&fakeSource{}).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("expected default level %d, got %d", DefaultLevel, rec.TrustLevel)
	}
	if rec.Tier != TierUnverified {
		t.Errorf("expected unverified tier, got %s", rec.Tier)
	}
	if len(rec.Representations) != 2 {
		t.Errorf("expected hex and npub representations, got %v", rec.Representations)
	}
}

func TestResolveAdminExplicitLevel(t *testing.T) {
	level := 25
	src := &fakeSource{admins: []store.AdminKeypair{{PublicKey: testKey, TrustLevel: &level}}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 25 {
		t.Errorf("expected level 25, got %d", rec.TrustLevel)
	}
	if rec.AdminLevel != 25 {
		t.Errorf("expected admin level 25, got %d", rec.AdminLevel)
	}
	if rec.Tier != TierTrusted {
		t.Errorf("expected trusted tier, got %s", rec.Tier)
	}
}

func TestResolveAdminUsageTag(t *testing.T) {
	cases := map[string]int{
		"master-admin-signing":    30,
		"operating-admin-signing": 20,
		"authorized-admin":        11,
	}
	for tag, want := range cases {
		src := &fakeSource{admins: []store.AdminKeypair{{PublicKey: testKey, KeyUsage: tag}}}
		rec := newTestResolver(src).Resolve(testKey)
		if rec.TrustLevel != want {
			t.Errorf("usage %q: expected level %d, got %d", tag, want, rec.TrustLevel)
		}
	}
}

func TestResolveAdminMaxAcrossRows(t *testing.T) {
	low, high := 5, 20
	src := &fakeSource{admins: []store.AdminKeypair{
		{PublicKey: testKey, TrustLevel: &low},
		{PublicKey: testKey, TrustLevel: &high},
	}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 20 {
		t.Errorf("expected max across rows, got %d", rec.TrustLevel)
	}
}

func TestResolveAdminMatchesNpubRepresentation(t *testing.T) {
	npub, err := identity.EncodeNpub(testKey)
	if err != nil {
		t.Fatal(err)
	}
	level := 11
	src := &fakeSource{admins: []store.AdminKeypair{{PublicKey: npub, TrustLevel: &level}}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 11 {
		t.Errorf("npub admin row should match hex input, got %d", rec.TrustLevel)
	}
}

func TestResolveDeclarationRole(t *testing.T) {
	src := &fakeSource{declarations: []store.Declaration{trustDecl("d1", role("moderator"), 0)}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 8 {
		t.Errorf("moderator role should resolve to 8, got %d", rec.TrustLevel)
	}
	if rec.Tier != TierTrusted {
		t.Errorf("expected trusted tier, got %s", rec.Tier)
	}
	if len(rec.Declarations) != 1 {
		t.Errorf("expected 1 matching declaration, got %d", len(rec.Declarations))
	}
}

func TestResolveDeclarationSubjectByNpub(t *testing.T) {
	npub, _ := identity.EncodeNpub(testKey)
	d := trustDecl("d1", num(10), 0)
	d.Content.Subject = store.Subject{Npub: npub}
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 10 {
		t.Errorf("npub subject should match, got %d", rec.TrustLevel)
	}
}

func TestResolveDeclarationTrustLimitCapsLevel(t *testing.T) {
	src := &fakeSource{declarations: []store.Declaration{trustDecl("d1", num(20), 10)}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 10 {
		t.Errorf("trust limit should cap level at 10, got %d", rec.TrustLevel)
	}
	if rec.DeclarationLevel != 20 {
		t.Errorf("raw declaration level should be 20, got %d", rec.DeclarationLevel)
	}
}

func TestResolveDeclarationLimitNeverAFloor(t *testing.T) {
	// A limit above the granted level must not raise it.
	src := &fakeSource{declarations: []store.Declaration{trustDecl("d1", num(4), 25)}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 4 {
		t.Errorf("limit must only suppress, got %d", rec.TrustLevel)
	}
}

func TestResolveRevokedDeclarationIgnored(t *testing.T) {
	d := trustDecl("d1", num(20), 0)
	d.Revoked = true
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("revoked declaration should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveTimeInvalidDeclarationIgnored(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	d := trustDecl("d1", num(20), 0)
	d.ValidUntil = &past
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("expired declaration should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveUnderCountersignedIgnored(t *testing.T) {
	d := trustDecl("d1", num(20), 0)
	d.Status = store.StatusSigned
	d.RequiredCountersignatures = 2
	d.CurrentCountersignatures = 1
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("under-countersigned declaration should be equivalent to absent, got %d", rec.TrustLevel)
	}

	d.CurrentCountersignatures = 2
	src = &fakeSource{declarations: []store.Declaration{d}}
	rec = newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 20 {
		t.Errorf("satisfied countersignatures should contribute, got %d", rec.TrustLevel)
	}
}

func TestResolveOtherDeclarationTypesIgnored(t *testing.T) {
	d := trustDecl("d1", num(20), 0)
	d.DeclarationType = "usage-declaration"
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("non-trust declaration should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveUnknownRoleContributesNothing(t *testing.T) {
	src := &fakeSource{declarations: []store.Declaration{trustDecl("d1", role("archwizard"), 0)}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("unknown role should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveAssignmentCeiling(t *testing.T) {
	src := &fakeSource{assignments: []store.Assignment{{Pubkey: testKey, AssignedTrustLevel: 15}}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 15 {
		t.Errorf("positive assignment should raise level, got %d", rec.TrustLevel)
	}
}

func TestResolveAssignmentFloor(t *testing.T) {
	level := 25
	src := &fakeSource{
		admins:      []store.AdminKeypair{{PublicKey: testKey, TrustLevel: &level}},
		assignments: []store.Assignment{{Pubkey: testKey, AssignedTrustLevel: -2}},
	}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != -2 {
		t.Errorf("non-positive assignment should floor the level, got %d", rec.TrustLevel)
	}
	if rec.Tier != TierRestricted {
		t.Errorf("expected restricted tier, got %s", rec.Tier)
	}
}

func TestResolveAssignmentTrustLimitCaps(t *testing.T) {
	level := 25
	limit := 3
	src := &fakeSource{
		admins:      []store.AdminKeypair{{PublicKey: testKey, TrustLevel: &level}},
		assignments: []store.Assignment{{Pubkey: testKey, AssignedTrustLevel: 2, TrustLimit: &limit}},
	}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != 3 {
		t.Errorf("assignment trust limit should cap at 3, got %d", rec.TrustLevel)
	}
}

func TestResolveExpiredAssignmentIgnored(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	src := &fakeSource{assignments: []store.Assignment{
		{Pubkey: testKey, AssignedTrustLevel: 20, ExpiresAt: &past},
	}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("expired assignment should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveClampsLevel(t *testing.T) {
	src := &fakeSource{declarations: []store.Declaration{trustDecl("d1", num(99), 0)}}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != MaxLevel {
		t.Errorf("level should clamp to %d, got %d", MaxLevel, rec.TrustLevel)
	}

	src = &fakeSource{assignments: []store.Assignment{{Pubkey: testKey, AssignedTrustLevel: -50}}}
	rec = newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != MinLevel {
		t.Errorf("level should clamp to %d, got %d", MinLevel, rec.TrustLevel)
	}
}

func TestResolveSourceFailuresAreNonFatal(t *testing.T) {
	boom := errors.New("store offline")
	level := 25
	src := &fakeSource{
		admins:         []store.AdminKeypair{{PublicKey: testKey, TrustLevel: &level}},
		adminErr:       boom,
		declarationErr: boom,
		assignmentErr:  boom,
	}
	rec := newTestResolver(src).Resolve(testKey)
	if rec.TrustLevel != DefaultLevel {
		t.Errorf("failing sources should contribute nothing, got %d", rec.TrustLevel)
	}
}

func TestResolveGrantsDefaultGlobalScope(t *testing.T) {
	d := trustDecl("d1", role("moderator"), 0)
	d.Content.Permissions = map[string]bool{"can_moderate": true}
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if len(rec.Grants) != 1 {
		t.Fatalf("expected 1 grant, got %d", len(rec.Grants))
	}
	if rec.Grants[0].Scope.Type != "global" {
		t.Errorf("declarations without scopes default to global, got %q", rec.Grants[0].Scope.Type)
	}
}

func TestResolveGrantPerDeclaredScope(t *testing.T) {
	d := trustDecl("d1", role("moderator"), 0)
	d.Content.Scopes = []store.PermissionScope{
		{Type: "section", Targets: []string{"kaizo"}},
		{Type: "channel", Targets: []string{"kaizo:intro"}},
	}
	src := &fakeSource{declarations: []store.Declaration{d}}
	rec := newTestResolver(src).Resolve(testKey)
	if len(rec.Grants) != 2 {
		t.Errorf("expected one grant per declared scope, got %d", len(rec.Grants))
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		level int
		want  Tier
	}{
		{-2, TierRestricted},
		{0, TierRestricted},
		{1, TierUnverified},
		{4, TierUnverified},
		{5, TierVerified},
		{7, TierVerified},
		{8, TierTrusted},
		{30, TierTrusted},
	}
	for _, tc := range cases {
		if got := TierFor(tc.level); got != tc.want {
			t.Errorf("TierFor(%d) = %s, want %s", tc.level, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if Clamp(99) != MaxLevel {
		t.Error("clamp above max")
	}
	if Clamp(-99) != MinLevel {
		t.Error("clamp below min")
	}
	if Clamp(7) != 7 {
		t.Error("in-range value should pass through")
	}
}
