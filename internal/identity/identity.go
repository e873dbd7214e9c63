// Package identity normalizes public keys into their comparable forms.
//
// Every identity in the trust engine is a 32-byte public key whose
// canonical form is lowercase hex. The same key also circulates as a
// bech32-encoded npub string, and persisted records may reference either
// form. Representations expands a key into the full set of known
// equivalents so lookups can match both.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrUnknownEncoding indicates a key string that is neither hex nor npub.
var ErrUnknownEncoding = errors.New("identity: unknown key encoding")

const hexKeyLen = 64

// IsHex reports whether s is a 64-character lowercase hex public key.
func IsHex(s string) bool {
	if len(s) != hexKeyLen {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// EncodeNpub converts a hex public key to its npub form.
func EncodeNpub(hexKey string) (string, error) {
	if !IsHex(hexKey) {
		return "", fmt.Errorf("identity: not a hex public key: %q", truncate(hexKey))
	}
	npub, err := nip19.EncodePublicKey(hexKey)
	if err != nil {
		return "", fmt.Errorf("encode npub: %w", err)
	}
	return npub, nil
}

// DecodeNpub converts an npub string to its canonical hex form.
func DecodeNpub(npub string) (string, error) {
	prefix, value, err := nip19.Decode(npub)
	if err != nil {
		return "", fmt.Errorf("decode npub: %w", err)
	}
	if prefix != "npub" {
		return "", fmt.Errorf("identity: unexpected bech32 prefix %q", prefix)
	}
	hexKey, ok := value.(string)
	if !ok || !IsHex(hexKey) {
		return "", errors.New("identity: npub did not decode to a hex key")
	}
	return hexKey, nil
}

// Canonical returns the lowercase hex form of a key supplied in either
// encoding.
func Canonical(key string) (string, error) {
	key = strings.TrimSpace(key)
	if IsHex(strings.ToLower(key)) {
		return strings.ToLower(key), nil
	}
	if strings.HasPrefix(key, "npub") {
		return DecodeNpub(key)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEncoding, truncate(key))
}

// Representations expands a key into all known equivalent forms.
//
// The result always contains at least the input itself, so lookups stay
// possible even for keys in an encoding this package does not recognize.
// A non-nil error reports derivations that failed; it never empties the
// result and callers treat it as a warning.
func Representations(key string) ([]string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("identity: empty key")
	}

	canonical, err := Canonical(key)
	if err != nil {
		return []string{key}, err
	}

	reps := []string{canonical}
	npub, err := EncodeNpub(canonical)
	if err != nil {
		return reps, err
	}
	reps = append(reps, npub)

	// Preserve the caller's original spelling when it differs from both
	// derived forms (e.g. uppercase hex).
	if key != canonical && key != npub {
		reps = append(reps, key)
	}
	return reps, nil
}

// Fingerprint returns a short hash-derived identifier for a key,
// distinct from either encoded representation.
func Fingerprint(hexKey string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(hexKey)))
	return hex.EncodeToString(sum[:8])
}

func truncate(s string) string {
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}
