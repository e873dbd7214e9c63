// Package signing implements the declaration signing protocol: the
// four declaration export formats, the signature layer chain used for
// countersigning, and the per-key-type signing dispatch.
package signing

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"

	"trustd/internal/identity"
)

// Errors fatal to a signing call. No partial signature is ever
// persisted after any of these.
var (
	ErrUnsupportedKeyType  = errors.New("signing: unsupported key type")
	ErrInvalidKeyFormat    = errors.New("signing: invalid key format")
	ErrKeyDecryption       = errors.New("signing: key is encrypted (passphrase required)")
	ErrMissingKeyMaterial  = errors.New("signing: missing private key material")
	ErrContentNotFinalized = errors.New("signing: declaration content has not been finalized")
	ErrAlreadySigned       = errors.New("signing: declaration already carries a signature (countersign instead)")
	ErrUnsigned            = errors.New("signing: declaration carries no signature")
)

// KeyType is the closed set of signing algorithms. It is decided once
// when a key is loaded, never re-derived from its name afterwards.
type KeyType int

const (
	// KeyTypeUnsupported marks key types the engine cannot sign with,
	// e.g. post-quantum schemes announced but not yet implemented.
	KeyTypeUnsupported KeyType = iota
	// KeyTypeDecentralizedEvent signs by wrapping the payload in a
	// protocol event finalized by an external collaborator.
	KeyTypeDecentralizedEvent
	// KeyTypeEllipticCurve signs the raw payload hash with Ed25519.
	KeyTypeEllipticCurve
	// KeyTypeRSA signs with RSA-PSS over SHA-256.
	KeyTypeRSA
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeDecentralizedEvent:
		return "decentralized-event"
	case KeyTypeEllipticCurve:
		return "elliptic-curve"
	case KeyTypeRSA:
		return "rsa"
	default:
		return "unsupported"
	}
}

// ClassifyKeyType maps a declared key type name to its variant.
func ClassifyKeyType(name string) KeyType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "nostr", "nostr-event", "decentralized-event", "secp256k1-schnorr":
		return KeyTypeDecentralizedEvent
	case "ed25519", "elliptic-curve", "ecdsa":
		return KeyTypeEllipticCurve
	case "rsa", "rsa-pss":
		return KeyTypeRSA
	default:
		return KeyTypeUnsupported
	}
}

// Keypair is signing key material supplied by a key provider. The
// engine never generates or stores private keys itself.
type Keypair struct {
	Type          KeyType
	TypeName      string
	CanonicalName string
	Fingerprint   string
	PublicKey     string // lowercase hex
	PrivateKey    []byte
}

// Provider supplies signing keys for an identity.
type Provider interface {
	SigningKey(identityKey string) (*Keypair, error)
}

// LoadKeypair reads private key material from a file and classifies it
// by the declared type name.
//
// Ed25519 keys may be raw seeds, raw 64-byte keys, or OpenSSH/PEM
// encoded (via golang.org/x/crypto/ssh). RSA keys may be PEM encoded.
// Decentralized-event keys are raw 32-byte secrets, optionally hex.
func LoadKeypair(path, typeName string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	kp := &Keypair{
		Type:          ClassifyKeyType(typeName),
		TypeName:      typeName,
		CanonicalName: strings.TrimSuffix(path, ".key"),
	}

	switch kp.Type {
	case KeyTypeEllipticCurve:
		priv, err := parseEd25519Key(data)
		if err != nil {
			return nil, err
		}
		kp.PrivateKey = priv
		kp.PublicKey = hex.EncodeToString(priv.Public().(ed25519.PublicKey))
	case KeyTypeRSA:
		der, pubHex, err := parseRSAKey(data)
		if err != nil {
			return nil, err
		}
		kp.PrivateKey = der
		kp.PublicKey = pubHex
	case KeyTypeDecentralizedEvent:
		secret, err := parseEventKey(data)
		if err != nil {
			return nil, err
		}
		kp.PrivateKey = secret
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, typeName)
	}

	if kp.PublicKey != "" {
		kp.Fingerprint = identity.Fingerprint(kp.PublicKey)
	}
	return kp, nil
}

func parseEd25519Key(data []byte) (ed25519.PrivateKey, error) {
	if len(data) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(data), nil
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}

	if block, _ := pem.Decode(data); block == nil {
		return nil, ErrInvalidKeyFormat
	}
	parsed, err := ssh.ParseRawPrivateKey(data)
	if err != nil {
		if _, ok := err.(*ssh.PassphraseMissingError); ok {
			return nil, ErrKeyDecryption
		}
		return nil, fmt.Errorf("parse key: %w", err)
	}
	switch k := parsed.(type) {
	case *ed25519.PrivateKey:
		return *k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedKeyType, parsed)
	}
}

func parseRSAKey(data []byte) (der []byte, pubHex string, err error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, "", ErrInvalidKeyFormat
	}

	var key *rsa.PrivateKey
	if k, perr := x509.ParsePKCS1PrivateKey(block.Bytes); perr == nil {
		key = k
	} else if k, perr := x509.ParsePKCS8PrivateKey(block.Bytes); perr == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, "", fmt.Errorf("%w: got %T", ErrUnsupportedKeyType, k)
		}
		key = rsaKey
	} else {
		return nil, "", fmt.Errorf("parse rsa key: %w", perr)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("encode rsa public key: %w", err)
	}
	return x509.MarshalPKCS1PrivateKey(key), hex.EncodeToString(pubDER), nil
}

func parseEventKey(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 64 {
		if secret, err := hex.DecodeString(trimmed); err == nil {
			return secret, nil
		}
	}
	if len(data) == 32 {
		return data, nil
	}
	return nil, fmt.Errorf("%w: expected 32-byte event secret", ErrInvalidKeyFormat)
}

// FileProvider loads signing keys from a directory, one file per
// identity, named "<identity>.key" with a sibling "<identity>.type"
// naming the algorithm.
type FileProvider struct {
	Dir string
}

// SigningKey implements Provider.
func (p *FileProvider) SigningKey(identityKey string) (*Keypair, error) {
	canonical, err := identity.Canonical(identityKey)
	if err != nil {
		canonical = identityKey
	}

	typeName := "ed25519"
	if b, err := os.ReadFile(p.keyFile(canonical, ".type")); err == nil {
		typeName = strings.TrimSpace(string(b))
	}

	kp, err := LoadKeypair(p.keyFile(canonical, ".key"), typeName)
	if err != nil {
		return nil, err
	}
	if kp.PublicKey == "" {
		kp.PublicKey = canonical
		kp.Fingerprint = identity.Fingerprint(canonical)
	}
	kp.CanonicalName = canonical
	return kp, nil
}

func (p *FileProvider) keyFile(name, ext string) string {
	return p.Dir + string(os.PathSeparator) + name + ext
}
