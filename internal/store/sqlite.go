package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Schema for the trust store.
const schema = `
CREATE TABLE IF NOT EXISTS admin_keypairs (
    public_key   TEXT NOT NULL,
    trust_level  INTEGER,
    key_usage    TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_admin_pubkey ON admin_keypairs(public_key);

CREATE TABLE IF NOT EXISTS trust_declarations (
    id                          TEXT PRIMARY KEY,
    declaration_type            TEXT NOT NULL,
    status                      TEXT NOT NULL,
    content                     TEXT NOT NULL,
    content_hash_sha256         TEXT NOT NULL DEFAULT '',
    signer                      TEXT NOT NULL DEFAULT '{}',
    target                      TEXT,
    valid_from                  INTEGER,
    valid_until                 INTEGER,
    revoked                     INTEGER NOT NULL DEFAULT 0,
    required_countersignatures  INTEGER NOT NULL DEFAULT 0,
    current_countersignatures   INTEGER NOT NULL DEFAULT 0,
    signing_timestamp           INTEGER,
    signed_data                 BLOB,
    signed_data_sha256          TEXT NOT NULL DEFAULT '',
    signature_layers            TEXT NOT NULL DEFAULT '[]',
    created_at                  INTEGER NOT NULL,
    updated_at                  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_declarations_status ON trust_declarations(declaration_type, status);

CREATE TABLE IF NOT EXISTS trust_assignments (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    pubkey                TEXT NOT NULL,
    assigned_trust_level  INTEGER NOT NULL,
    trust_limit           INTEGER,
    scope                 TEXT NOT NULL DEFAULT '',
    assigned_by           TEXT NOT NULL DEFAULT '',
    source                TEXT NOT NULL DEFAULT '',
    reason                TEXT NOT NULL DEFAULT '',
    expires_at            INTEGER,
    created_at            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assignments_pubkey ON trust_assignments(pubkey);
`

// Store is the SQLite trust store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and
// applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// AdminKeypairs returns admin grant rows whose public key matches any of
// the given representations.
func (s *Store) AdminKeypairs(representations []string) ([]AdminKeypair, error) {
	if len(representations) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		"SELECT public_key, trust_level, key_usage FROM admin_keypairs WHERE public_key IN (%s)",
		placeholders(len(representations)))
	rows, err := s.db.Query(query, args(representations)...)
	if err != nil {
		return nil, fmt.Errorf("query admin keypairs: %w", err)
	}
	defer rows.Close()

	var out []AdminKeypair
	for rows.Next() {
		var kp AdminKeypair
		var level sql.NullInt64
		if err := rows.Scan(&kp.PublicKey, &level, &kp.KeyUsage); err != nil {
			return nil, fmt.Errorf("scan admin keypair: %w", err)
		}
		if level.Valid {
			l := int(level.Int64)
			kp.TrustLevel = &l
		}
		out = append(out, kp)
	}
	return out, rows.Err()
}

// InsertAdminKeypair adds a root-of-trust grant row. Used by
// provisioning tooling and tests; the engine itself only reads.
func (s *Store) InsertAdminKeypair(kp *AdminKeypair) error {
	var level sql.NullInt64
	if kp.TrustLevel != nil {
		level = sql.NullInt64{Int64: int64(*kp.TrustLevel), Valid: true}
	}
	_, err := s.db.Exec(
		"INSERT INTO admin_keypairs (public_key, trust_level, key_usage, created_at) VALUES (?, ?, ?, ?)",
		kp.PublicKey, level, kp.KeyUsage, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert admin keypair: %w", err)
	}
	return nil
}

// ActiveDeclarations returns declarations that are past draft and not
// revoked. Finer filtering (validity window, countersignature state,
// subject match) is the resolver's job.
func (s *Store) ActiveDeclarations() ([]Declaration, error) {
	rows, err := s.db.Query(declarationColumns + " FROM trust_declarations WHERE status != ? AND revoked = 0", string(StatusDraft))
	if err != nil {
		return nil, fmt.Errorf("query declarations: %w", err)
	}
	defer rows.Close()

	var out []Declaration
	for rows.Next() {
		d, err := scanDeclaration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// GetDeclaration loads a single declaration by id.
func (s *Store) GetDeclaration(id string) (*Declaration, error) {
	row := s.db.QueryRow(declarationColumns+" FROM trust_declarations WHERE id = ?", id)
	d, err := scanDeclaration(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("declaration %s: %w", id, err)
	}
	return d, err
}

const declarationColumns = `SELECT id, declaration_type, status, content, content_hash_sha256,
	signer, target, valid_from, valid_until, revoked,
	required_countersignatures, current_countersignatures,
	signing_timestamp, signed_data, signed_data_sha256, signature_layers,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeclaration(r rowScanner) (*Declaration, error) {
	var d Declaration
	var content, signer, layers string
	var target sql.NullString
	var validFrom, validUntil, signingTS sql.NullInt64
	var revoked int
	var createdAt, updatedAt int64
	var signedData []byte

	err := r.Scan(&d.ID, &d.DeclarationType, &d.Status, &content, &d.ContentHash,
		&signer, &target, &validFrom, &validUntil, &revoked,
		&d.RequiredCountersignatures, &d.CurrentCountersignatures,
		&signingTS, &signedData, &d.SignedDataSHA256, &layers,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(content), &d.Content); err != nil {
		return nil, fmt.Errorf("decode declaration %s content: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(signer), &d.Signer); err != nil {
		return nil, fmt.Errorf("decode declaration %s signer: %w", d.ID, err)
	}
	if target.Valid && target.String != "" {
		var t Subject
		if err := json.Unmarshal([]byte(target.String), &t); err != nil {
			return nil, fmt.Errorf("decode declaration %s target: %w", d.ID, err)
		}
		d.Target = &t
	}
	if err := json.Unmarshal([]byte(layers), &d.Layers); err != nil {
		return nil, fmt.Errorf("decode declaration %s signature layers: %w", d.ID, err)
	}

	d.Revoked = revoked != 0
	d.SignedData = signedData
	d.ValidFrom = unixPtr(validFrom)
	d.ValidUntil = unixPtr(validUntil)
	d.SigningTimestamp = unixPtr(signingTS)
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &d, nil
}

// UpsertDeclaration inserts or replaces a declaration record in one
// statement, so a declaration is never visible with a signature that
// does not match its stored signed data.
func (s *Store) UpsertDeclaration(d *Declaration) error {
	content, err := json.Marshal(d.Content)
	if err != nil {
		return fmt.Errorf("encode declaration content: %w", err)
	}
	signer, err := json.Marshal(d.Signer)
	if err != nil {
		return fmt.Errorf("encode declaration signer: %w", err)
	}
	var target sql.NullString
	if d.Target != nil {
		b, err := json.Marshal(d.Target)
		if err != nil {
			return fmt.Errorf("encode declaration target: %w", err)
		}
		target = sql.NullString{String: string(b), Valid: true}
	}
	layers, err := json.Marshal(d.Layers)
	if err != nil {
		return fmt.Errorf("encode signature layers: %w", err)
	}

	now := time.Now().Unix()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Unix(now, 0).UTC()
	}
	d.UpdatedAt = time.Unix(now, 0).UTC()

	_, err = s.db.Exec(`
		INSERT INTO trust_declarations (
			id, declaration_type, status, content, content_hash_sha256,
			signer, target, valid_from, valid_until, revoked,
			required_countersignatures, current_countersignatures,
			signing_timestamp, signed_data, signed_data_sha256, signature_layers,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			declaration_type = excluded.declaration_type,
			status = excluded.status,
			content = excluded.content,
			content_hash_sha256 = excluded.content_hash_sha256,
			signer = excluded.signer,
			target = excluded.target,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			revoked = excluded.revoked,
			required_countersignatures = excluded.required_countersignatures,
			current_countersignatures = excluded.current_countersignatures,
			signing_timestamp = excluded.signing_timestamp,
			signed_data = excluded.signed_data,
			signed_data_sha256 = excluded.signed_data_sha256,
			signature_layers = excluded.signature_layers,
			updated_at = excluded.updated_at`,
		d.ID, d.DeclarationType, string(d.Status), string(content), d.ContentHash,
		string(signer), target, ptrUnix(d.ValidFrom), ptrUnix(d.ValidUntil), boolInt(d.Revoked),
		d.RequiredCountersignatures, d.CurrentCountersignatures,
		ptrUnix(d.SigningTimestamp), d.SignedData, d.SignedDataSHA256, string(layers),
		d.CreatedAt.Unix(), d.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("upsert declaration: %w", err)
	}
	return nil
}

// Assignments returns non-expired manual overrides for any of the given
// key representations.
func (s *Store) Assignments(representations []string) ([]Assignment, error) {
	if len(representations) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, pubkey, assigned_trust_level, trust_limit, scope,
		       assigned_by, source, reason, expires_at, created_at
		FROM trust_assignments
		WHERE pubkey IN (%s) AND (expires_at IS NULL OR expires_at > ?)`,
		placeholders(len(representations)))
	qargs := append(args(representations), time.Now().Unix())
	rows, err := s.db.Query(query, qargs...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		var limit, expires sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.Pubkey, &a.AssignedTrustLevel, &limit, &a.Scope,
			&a.AssignedBy, &a.Source, &a.Reason, &expires, &createdAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		if limit.Valid {
			l := int(limit.Int64)
			a.TrustLimit = &l
		}
		if t := unixPtr(expires); t != nil {
			a.ExpiresAt = t
		}
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertAssignment adds a manual override and returns its id.
func (s *Store) InsertAssignment(a *Assignment) (int64, error) {
	var limit, expires sql.NullInt64
	if a.TrustLimit != nil {
		limit = sql.NullInt64{Int64: int64(*a.TrustLimit), Valid: true}
	}
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.Unix(), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO trust_assignments (pubkey, assigned_trust_level, trust_limit, scope,
			assigned_by, source, reason, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Pubkey, a.AssignedTrustLevel, limit, a.Scope,
		a.AssignedBy, a.Source, a.Reason, expires, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert assignment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("assignment id: %w", err)
	}
	a.ID = id
	return id, nil
}

// DeleteAssignment removes a manual override.
func (s *Store) DeleteAssignment(id int64) error {
	if _, err := s.db.Exec("DELETE FROM trust_assignments WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

// DeleteExpiredAssignments removes overrides that lapsed before now and
// returns how many rows were deleted.
func (s *Store) DeleteExpiredAssignments(now time.Time) (int64, error) {
	res, err := s.db.Exec("DELETE FROM trust_assignments WHERE expires_at IS NOT NULL AND expires_at <= ?", now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired assignments: %w", err)
	}
	return res.RowsAffected()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func args(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func ptrUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
