// Package store provides SQLite-backed persistence for the trust engine.
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Status is the lifecycle state of a trust declaration.
type Status string

const (
	// StatusDraft is an unsigned declaration under construction.
	StatusDraft Status = "draft"
	// StatusPublished is a declaration released by its issuer without a
	// signature requirement.
	StatusPublished Status = "published"
	// StatusSigned is a declaration signed by its issuer, possibly still
	// waiting for countersignatures.
	StatusSigned Status = "signed"
	// StatusActive is a declaration whose countersignature requirement
	// has been met.
	StatusActive Status = "active"
)

// DeclarationTypeTrust is the only declaration type that contributes to
// trust resolution. Other types pass through the store untouched.
const DeclarationTypeTrust = "trust-declaration"

// AdminKeypair is a root-of-trust grant row. Rows are created out of
// band by a higher-privilege process; the engine only reads them.
type AdminKeypair struct {
	PublicKey  string
	TrustLevel *int
	KeyUsage   string
}

// Subject identifies a key inside a declaration, in whichever
// representations the issuer recorded.
type Subject struct {
	Pubkey string `json:"pubkey,omitempty"`
	Npub   string `json:"npub,omitempty"`
	Name   string `json:"name,omitempty"`
}

// PermissionScope is a scope entry inside a declaration's content. An
// empty Targets list (or one containing "*") allows every target of the
// scope type; Exclude entries override any allow.
type PermissionScope struct {
	Type    string   `json:"type"`
	Target  string   `json:"target,omitempty"`
	Targets []string `json:"targets,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// LevelValue is a declaration trust level, which appears in content
// either as a number or as a named role.
type LevelValue struct {
	Role    string
	Level   int
	Numeric bool
}

func (v *LevelValue) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = LevelValue{Role: s}
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("trust level: %w", err)
	}
	*v = LevelValue{Level: n, Numeric: true}
	return nil
}

func (v LevelValue) MarshalJSON() ([]byte, error) {
	if v.Numeric {
		return json.Marshal(v.Level)
	}
	return json.Marshal(v.Role)
}

// IsZero reports whether the value was absent from the content payload.
func (v LevelValue) IsZero() bool {
	return !v.Numeric && v.Role == ""
}

// DeclarationContent is the payload a declaration grants trust over.
type DeclarationContent struct {
	Subject     Subject           `json:"subject"`
	TrustLevel  LevelValue        `json:"trust_level,omitempty"`
	TrustLimit  int               `json:"trust_limit,omitempty"`
	Scopes      []PermissionScope `json:"scopes,omitempty"`
	Permissions map[string]bool   `json:"permissions,omitempty"`
	UsageTypes  []string          `json:"usage_types,omitempty"`
}

// SignatureLayer is one link of a declaration's signature chain. The
// first layer signs the hash of the signable projection; each later
// layer signs the hash of the document including every earlier layer.
// Layers are append-only and never mutated.
type SignatureLayer struct {
	SignerPubkey  string          `json:"signer_pubkey"`
	HashAlgorithm string          `json:"hash_algorithm"`
	PreviousHash  string          `json:"previous_hash"`
	Signature     string          `json:"signature"`
	SignedAt      time.Time       `json:"signed_at"`
	Event         json.RawMessage `json:"event,omitempty"`
}

// Declaration is a persisted trust declaration record.
type Declaration struct {
	ID              string
	DeclarationType string
	Status          Status
	Content         DeclarationContent

	// ContentHash is the SHA-256 of the canonical content JSON, fixed
	// when the content is finalized, before any signing.
	ContentHash string

	Signer Subject
	Target *Subject

	ValidFrom  *time.Time
	ValidUntil *time.Time
	Revoked    bool

	RequiredCountersignatures int
	CurrentCountersignatures  int

	SigningTimestamp *time.Time
	SignedData       []byte
	SignedDataSHA256 string
	Layers           []SignatureLayer

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidAt reports whether t falls inside the declaration's validity
// window. Open ends are unbounded.
func (d *Declaration) ValidAt(t time.Time) bool {
	if d.ValidFrom != nil && t.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && t.After(*d.ValidUntil) {
		return false
	}
	return true
}

// CountersignaturesSatisfied reports whether a signed declaration has
// collected enough countersignatures to be trusted. Declarations in
// other states carry no countersignature requirement.
func (d *Declaration) CountersignaturesSatisfied() bool {
	if d.Status != StatusSigned {
		return true
	}
	return d.CurrentCountersignatures >= d.RequiredCountersignatures
}

// Assignment is a manual trust override row. Assignments are unsigned
// in-client emergency adjustments with an optional expiry.
type Assignment struct {
	ID                 int64
	Pubkey             string
	AssignedTrustLevel int
	TrustLimit         *int
	Scope              string
	AssignedBy         string
	Source             string
	Reason             string
	ExpiresAt          *time.Time
	CreatedAt          time.Time
}

// Expired reports whether the assignment has lapsed at time t.
func (a *Assignment) Expired(t time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(t)
}
