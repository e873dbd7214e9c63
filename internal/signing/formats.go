package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"trustd/internal/store"
)

// A declaration moves through four export formats:
//
//	Format 1: the content payload alone.
//	Format 2: the signable projection; its serialization is hashed and
//	          signed by the issuer.
//	Format 3: Format 2 plus the signature chain; its hash is what the
//	          next countersigner signs.
//	Format 4: the full record minus signature-bearing fields, used for
//	          import and export.
//
// Serialization is deterministic: struct field order is fixed and
// output is compact, so hashing the bytes is reproducible.

// HashAlgorithm tags every signature block in the chain.
const HashAlgorithm = "SHA-256"

// Format2 is the signable projection of a declaration.
type Format2 struct {
	DeclarationUUID  string `json:"declaration_uuid"`
	DeclarationType  string `json:"declaration_type"`
	ContentHash      string `json:"content_hash_sha256"`
	SignerPubkey     string `json:"signer_pubkey"`
	SignerNpub       string `json:"signer_npub,omitempty"`
	TargetPubkey     string `json:"target_pubkey,omitempty"`
	TargetNpub       string `json:"target_npub,omitempty"`
	ValidFrom        string `json:"valid_from,omitempty"`
	ValidUntil       string `json:"valid_until,omitempty"`
	SigningTimestamp string `json:"signing_timestamp"`
}

// SignatureBlock is the wire form of one signature layer.
type SignatureBlock struct {
	SignerPubkey       string          `json:"signer_pubkey"`
	HashAlgorithm      string          `json:"hash_algorithm"`
	SignatureHashValue string          `json:"signature_hash_value"`
	DigitalSignature   string          `json:"digital_signature"`
	SignedAt           string          `json:"signed_at"`
	Event              json.RawMessage `json:"event,omitempty"`
}

// format3 is Format 2 plus the signature chain.
type format3 struct {
	Format2
	Signature         SignatureBlock   `json:"signature"`
	Countersignatures []SignatureBlock `json:"countersignatures,omitempty"`
}

// format4 is the import/export projection.
type format4 struct {
	ID                        string                   `json:"id"`
	DeclarationType           string                   `json:"declaration_type"`
	Status                    store.Status             `json:"status"`
	Content                   store.DeclarationContent `json:"content"`
	ContentHash               string                   `json:"content_hash_sha256,omitempty"`
	Signer                    store.Subject            `json:"signer,omitempty"`
	Target                    *store.Subject           `json:"target,omitempty"`
	ValidFrom                 string                   `json:"valid_from,omitempty"`
	ValidUntil                string                   `json:"valid_until,omitempty"`
	Revoked                   bool                     `json:"revoked,omitempty"`
	RequiredCountersignatures int                      `json:"required_countersignatures,omitempty"`
	CurrentCountersignatures  int                      `json:"current_countersignatures,omitempty"`
	CreatedAt                 string                   `json:"created_at,omitempty"`
	UpdatedAt                 string                   `json:"updated_at,omitempty"`
}

// FinalizeContent fixes the content hash of a declaration. It is
// computed once here and reused verbatim at signing time.
func FinalizeContent(rec *store.Declaration) error {
	b, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	sum := sha256.Sum256(b)
	rec.ContentHash = hex.EncodeToString(sum[:])
	return nil
}

// ContentJSON returns Format 1, the declaration content alone.
func ContentJSON(rec *store.Declaration) ([]byte, error) {
	return json.Marshal(rec.Content)
}

// BuildSignable assembles the Format 2 projection for the given signer
// and signing timestamp.
func BuildSignable(rec *store.Declaration, signer store.Subject, ts time.Time) (Format2, error) {
	if rec.ContentHash == "" {
		return Format2{}, ErrContentNotFinalized
	}
	f2 := Format2{
		DeclarationUUID:  rec.ID,
		DeclarationType:  rec.DeclarationType,
		ContentHash:      rec.ContentHash,
		SignerPubkey:     signer.Pubkey,
		SignerNpub:       signer.Npub,
		SigningTimestamp: ts.UTC().Format(time.RFC3339),
	}
	if rec.Target != nil {
		f2.TargetPubkey = rec.Target.Pubkey
		f2.TargetNpub = rec.Target.Npub
	}
	if rec.ValidFrom != nil {
		f2.ValidFrom = rec.ValidFrom.UTC().Format(time.RFC3339)
	}
	if rec.ValidUntil != nil {
		f2.ValidUntil = rec.ValidUntil.UTC().Format(time.RFC3339)
	}
	return f2, nil
}

// Marshal serializes the projection deterministically.
func (f Format2) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Hash returns the SHA-256 of the serialized projection as lowercase
// hex. This is the value the issuer signs.
func (f Format2) Hash() (string, []byte, error) {
	b, err := f.Marshal()
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), sum[:], nil
}

// layerBlock converts a stored signature layer to its wire form.
func layerBlock(l store.SignatureLayer) SignatureBlock {
	return SignatureBlock{
		SignerPubkey:       l.SignerPubkey,
		HashAlgorithm:      l.HashAlgorithm,
		SignatureHashValue: l.PreviousHash,
		DigitalSignature:   l.Signature,
		SignedAt:           l.SignedAt.UTC().Format(time.RFC3339),
		Event:              l.Event,
	}
}

// LayeredDocument serializes Format 3 for the given layer list. The
// document is a pure function of the projection and the layers, so
// appending a layer never mutates an earlier one.
func LayeredDocument(f2 Format2, layers []store.SignatureLayer) ([]byte, error) {
	if len(layers) == 0 {
		return nil, ErrUnsigned
	}
	doc := format3{Format2: f2, Signature: layerBlock(layers[0])}
	for _, l := range layers[1:] {
		doc.Countersignatures = append(doc.Countersignatures, layerBlock(l))
	}
	return json.Marshal(doc)
}

// LayeredHash returns the SHA-256 of the layered document: the value
// the next countersigner signs.
func LayeredHash(f2 Format2, layers []store.SignatureLayer) (string, []byte, error) {
	b, err := LayeredDocument(f2, layers)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), sum[:], nil
}

// Export returns Format 4: the full record minus signature-bearing
// fields.
func Export(rec *store.Declaration) ([]byte, error) {
	f4 := format4{
		ID:                        rec.ID,
		DeclarationType:           rec.DeclarationType,
		Status:                    rec.Status,
		Content:                   rec.Content,
		ContentHash:               rec.ContentHash,
		Signer:                    rec.Signer,
		Target:                    rec.Target,
		Revoked:                   rec.Revoked,
		RequiredCountersignatures: rec.RequiredCountersignatures,
		CurrentCountersignatures:  rec.CurrentCountersignatures,
	}
	if rec.ValidFrom != nil {
		f4.ValidFrom = rec.ValidFrom.UTC().Format(time.RFC3339)
	}
	if rec.ValidUntil != nil {
		f4.ValidUntil = rec.ValidUntil.UTC().Format(time.RFC3339)
	}
	if !rec.CreatedAt.IsZero() {
		f4.CreatedAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !rec.UpdatedAt.IsZero() {
		f4.UpdatedAt = rec.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return json.MarshalIndent(f4, "", "  ")
}

// SignedData rebuilds the Format 2 bytes of a signed declaration.
func SignedData(rec *store.Declaration) ([]byte, error) {
	if rec.SigningTimestamp == nil {
		return nil, ErrUnsigned
	}
	f2, err := BuildSignable(rec, rec.Signer, *rec.SigningTimestamp)
	if err != nil {
		return nil, err
	}
	return f2.Marshal()
}

// SignedDataWithSignature rebuilds the Format 3 bytes of a signed
// declaration from its signature layers.
func SignedDataWithSignature(rec *store.Declaration) ([]byte, error) {
	if rec.SigningTimestamp == nil || len(rec.Layers) == 0 {
		return nil, ErrUnsigned
	}
	f2, err := BuildSignable(rec, rec.Signer, *rec.SigningTimestamp)
	if err != nil {
		return nil, err
	}
	return LayeredDocument(f2, rec.Layers)
}
