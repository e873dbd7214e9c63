package signing

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"trustd/internal/identity"
	"trustd/internal/store"
)

// Result is the outcome of a signing call: everything the caller needs
// to persist alongside the declaration.
type Result struct {
	SignedData       []byte
	SignedDataSHA256 string
	DigitalSignature string
	Signer           store.Subject
	SignedAt         time.Time
	Layers           []store.SignatureLayer
	Event            json.RawMessage
}

// Signer signs declarations and appends countersignatures. Signing is
// atomic from the caller's perspective: it either returns a complete
// result or an error, never a partial signature.
type Signer struct {
	finalizer EventFinalizer
	log       *slog.Logger
}

// NewSigner creates a signer. The finalizer is only consulted for
// decentralized-event keys and may be nil when none are in use.
func NewSigner(finalizer EventFinalizer, log *slog.Logger) *Signer {
	if log == nil {
		log = slog.Default()
	}
	return &Signer{finalizer: finalizer, log: log.With("component", "signer")}
}

// Sign produces the issuer signature for a declaration. The content
// hash must already be finalized; Sign never re-derives it.
func (s *Signer) Sign(ctx context.Context, rec *store.Declaration, kp *Keypair, ts time.Time) (*Result, error) {
	if len(rec.Layers) > 0 {
		return nil, ErrAlreadySigned
	}

	signer := signerSubject(kp)
	f2, err := BuildSignable(rec, signer, ts)
	if err != nil {
		return nil, err
	}
	payload, err := f2.Marshal()
	if err != nil {
		return nil, fmt.Errorf("serialize signable: %w", err)
	}
	hashHex, digest, err := f2.Hash()
	if err != nil {
		return nil, err
	}

	sigHex, eventJSON, err := s.signDigest(ctx, rec, kp, payload, digest, ts)
	if err != nil {
		return nil, err
	}

	layer := store.SignatureLayer{
		SignerPubkey:  signer.Pubkey,
		HashAlgorithm: HashAlgorithm,
		PreviousHash:  hashHex,
		Signature:     sigHex,
		SignedAt:      ts.UTC(),
		Event:         eventJSON,
	}
	layers := []store.SignatureLayer{layer}

	return s.finish(f2, layers, signer, sigHex, eventJSON, ts)
}

// Countersign appends a signature over the hash of the current layered
// document, chaining trust through successive signatures instead of
// re-signing the original content.
func (s *Signer) Countersign(ctx context.Context, rec *store.Declaration, kp *Keypair, ts time.Time) (*Result, error) {
	if rec.SigningTimestamp == nil || len(rec.Layers) == 0 {
		return nil, ErrUnsigned
	}

	f2, err := BuildSignable(rec, rec.Signer, *rec.SigningTimestamp)
	if err != nil {
		return nil, err
	}
	prevHex, prevDigest, err := LayeredHash(f2, rec.Layers)
	if err != nil {
		return nil, err
	}

	signer := signerSubject(kp)
	sigHex, eventJSON, err := s.signDigest(ctx, rec, kp, []byte(prevHex), prevDigest, ts)
	if err != nil {
		return nil, err
	}

	layers := make([]store.SignatureLayer, len(rec.Layers), len(rec.Layers)+1)
	copy(layers, rec.Layers)
	layers = append(layers, store.SignatureLayer{
		SignerPubkey:  signer.Pubkey,
		HashAlgorithm: HashAlgorithm,
		PreviousHash:  prevHex,
		Signature:     sigHex,
		SignedAt:      ts.UTC(),
		Event:         eventJSON,
	})

	return s.finish(f2, layers, signer, sigHex, eventJSON, ts)
}

func (s *Signer) finish(f2 Format2, layers []store.SignatureLayer, signer store.Subject, sigHex string, eventJSON json.RawMessage, ts time.Time) (*Result, error) {
	doc, err := LayeredDocument(f2, layers)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(doc)

	return &Result{
		SignedData:       doc,
		SignedDataSHA256: hex.EncodeToString(sum[:]),
		DigitalSignature: sigHex,
		Signer:           signer,
		SignedAt:         ts.UTC(),
		Layers:           layers,
		Event:            eventJSON,
	}, nil
}

// signDigest dispatches on the key variant decided at load time.
func (s *Signer) signDigest(ctx context.Context, rec *store.Declaration, kp *Keypair, payload, digest []byte, ts time.Time) (sigHex string, eventJSON json.RawMessage, err error) {
	if len(kp.PrivateKey) == 0 {
		return "", nil, ErrMissingKeyMaterial
	}

	switch kp.Type {
	case KeyTypeDecentralizedEvent:
		if s.finalizer == nil {
			return "", nil, fmt.Errorf("signing: no event finalizer configured")
		}
		template := buildEventTemplate(rec, payload, ts)
		finalized, err := s.finalizer.Finalize(ctx, template, kp.PrivateKey)
		if err != nil {
			return "", nil, fmt.Errorf("finalize event: %w", err)
		}
		raw, err := json.Marshal(finalized)
		if err != nil {
			return "", nil, fmt.Errorf("encode event: %w", err)
		}
		return finalized.Sig, raw, nil

	case KeyTypeEllipticCurve:
		priv, err := ed25519Key(kp.PrivateKey)
		if err != nil {
			return "", nil, err
		}
		sig := ed25519.Sign(priv, digest)
		return hex.EncodeToString(sig), nil, nil

	case KeyTypeRSA:
		key, err := x509.ParsePKCS1PrivateKey(kp.PrivateKey)
		if err != nil {
			return "", nil, fmt.Errorf("parse rsa key: %w", err)
		}
		sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, nil)
		if err != nil {
			return "", nil, fmt.Errorf("rsa sign: %w", err)
		}
		return hex.EncodeToString(sig), nil, nil

	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kp.TypeName)
	}
}

func ed25519Key(material []byte) (ed25519.PrivateKey, error) {
	switch len(material) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(material), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(material), nil
	default:
		return nil, ErrInvalidKeyFormat
	}
}

func signerSubject(kp *Keypair) store.Subject {
	sub := store.Subject{Pubkey: kp.PublicKey, Name: kp.CanonicalName}
	if npub, err := identity.EncodeNpub(kp.PublicKey); err == nil {
		sub.Npub = npub
	}
	return sub
}

// Apply writes a signing result onto the declaration record and
// advances its lifecycle. The caller persists the record in a single
// upsert afterwards, so a signature and its signed data always land
// together.
func Apply(rec *store.Declaration, res *Result) {
	if rec.SigningTimestamp == nil {
		ts := res.SignedAt
		rec.SigningTimestamp = &ts
		rec.Signer = res.Signer
	}
	rec.SignedData = res.SignedData
	rec.SignedDataSHA256 = res.SignedDataSHA256
	rec.Layers = res.Layers
	rec.CurrentCountersignatures = len(res.Layers) - 1

	if rec.Status == store.StatusDraft || rec.Status == store.StatusPublished {
		rec.Status = store.StatusSigned
	}
	if rec.Status == store.StatusSigned && rec.CurrentCountersignatures >= rec.RequiredCountersignatures {
		rec.Status = store.StatusActive
	}
}
