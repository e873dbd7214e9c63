package signing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"trustd/internal/store"
)

// declarationSchema validates imported declaration documents (Format 4)
// before they reach the store.
const declarationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "declaration_type", "status", "content"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "declaration_type": {"type": "string", "minLength": 1},
    "status": {"enum": ["draft", "published", "signed", "active"]},
    "content": {
      "type": "object",
      "required": ["subject"],
      "properties": {
        "subject": {
          "type": "object",
          "properties": {
            "pubkey": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
            "npub": {"type": "string", "pattern": "^npub1[a-z0-9]+$"},
            "name": {"type": "string"}
          }
        },
        "trust_level": {"type": ["integer", "string"]},
        "trust_limit": {"type": "integer", "minimum": 0, "maximum": 30},
        "scopes": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type"],
            "properties": {
              "type": {"enum": ["global", "section", "channel", "forum", "game", "user"]},
              "target": {"type": "string"},
              "targets": {"type": "array", "items": {"type": "string"}},
              "exclude": {"type": "array", "items": {"type": "string"}}
            }
          }
        },
        "permissions": {
          "type": "object",
          "additionalProperties": {"type": "boolean"}
        },
        "usage_types": {"type": "array", "items": {"type": "string"}}
      }
    },
    "content_hash_sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "valid_from": {"type": "string"},
    "valid_until": {"type": "string"},
    "revoked": {"type": "boolean"},
    "required_countersignatures": {"type": "integer", "minimum": 0},
    "current_countersignatures": {"type": "integer", "minimum": 0}
  }
}`

var compiledSchema = jsonschema.MustCompileString("trust-declaration.schema.json", declarationSchema)

// ValidateImport checks an imported declaration document against the
// schema and decodes it into a record. The record is not persisted
// here; the caller decides what to upsert.
func ValidateImport(doc []byte) (*store.Declaration, error) {
	var instance any
	if err := json.Unmarshal(doc, &instance); err != nil {
		return nil, fmt.Errorf("decode declaration document: %w", err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("declaration document invalid: %w", err)
	}

	var f4 format4
	if err := json.Unmarshal(doc, &f4); err != nil {
		return nil, fmt.Errorf("decode declaration document: %w", err)
	}

	rec := &store.Declaration{
		ID:                        f4.ID,
		DeclarationType:           f4.DeclarationType,
		Status:                    f4.Status,
		Content:                   f4.Content,
		ContentHash:               f4.ContentHash,
		Signer:                    f4.Signer,
		Target:                    f4.Target,
		Revoked:                   f4.Revoked,
		RequiredCountersignatures: f4.RequiredCountersignatures,
		CurrentCountersignatures:  f4.CurrentCountersignatures,
	}
	var err error
	if rec.ValidFrom, err = parseTimePtr(f4.ValidFrom); err != nil {
		return nil, fmt.Errorf("valid_from: %w", err)
	}
	if rec.ValidUntil, err = parseTimePtr(f4.ValidUntil); err != nil {
		return nil, fmt.Errorf("valid_until: %w", err)
	}
	return rec, nil
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	u := t.UTC()
	return &u, nil
}
