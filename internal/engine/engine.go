// Package engine composes the trust resolver, permission matcher, and
// declaration signer behind the query surface that moderation and UI
// callers consume.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trustd/internal/config"
	"trustd/internal/permission"
	"trustd/internal/signing"
	"trustd/internal/store"
	"trustd/internal/trust"
)

// ErrReadOnly is returned for write operations in readonly mode.
var ErrReadOnly = errors.New("engine: running in readonly mode")

// Engine is the composition root. It holds no mutable state beyond the
// shared store; queries are safe for concurrent use.
type Engine struct {
	store     *store.Store
	keys      signing.Provider
	cfg       *config.Config
	log       *slog.Logger
	resolver  *trust.Resolver
	matcher   *permission.Matcher
	signer    *signing.Signer
	now       func() time.Time
}

// New wires an engine over the given store, key provider, and event
// finalizer.
func New(st *store.Store, keys signing.Provider, finalizer signing.EventFinalizer, cfg *config.Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	resolver := trust.NewResolver(st, log)
	return &Engine{
		store:    st,
		keys:     keys,
		cfg:      cfg,
		log:      log.With("component", "engine"),
		resolver: resolver,
		matcher:  permission.NewMatcher(resolver, log),
		signer:   signing.NewSigner(finalizer, log),
		now:      time.Now,
	}
}

// Resolve returns the effective trust record for a pubkey.
func (e *Engine) Resolve(pubkey string) trust.Record {
	return e.resolver.Resolve(pubkey)
}

// CanPerform decides whether pubkey may perform action within scope.
func (e *Engine) CanPerform(pubkey, action string, scope permission.Scope) permission.Decision {
	return e.matcher.CanPerform(pubkey, action, scope)
}

// NewDeclaration creates a draft trust declaration with finalized
// content, ready for signing. It is not persisted until signed or
// explicitly upserted.
func (e *Engine) NewDeclaration(content store.DeclarationContent, validFrom, validUntil *time.Time, requiredCountersignatures int) (*store.Declaration, error) {
	rec := &store.Declaration{
		ID:                        uuid.NewString(),
		DeclarationType:           store.DeclarationTypeTrust,
		Status:                    store.StatusDraft,
		Content:                   content,
		ValidFrom:                 validFrom,
		ValidUntil:                validUntil,
		RequiredCountersignatures: requiredCountersignatures,
	}
	if err := signing.FinalizeContent(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SignDeclaration signs a declaration with the given identity's key and
// persists the result in one upsert. Nothing is persisted on failure.
func (e *Engine) SignDeclaration(ctx context.Context, rec *store.Declaration, signerIdentity string) (*signing.Result, error) {
	if e.cfg.ReadOnly() {
		return nil, ErrReadOnly
	}

	kp, err := e.keys.SigningKey(signerIdentity)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	res, err := e.signer.Sign(ctx, rec, kp, e.now())
	if err != nil {
		return nil, err
	}

	signing.Apply(rec, res)
	if err := e.store.UpsertDeclaration(rec); err != nil {
		return nil, fmt.Errorf("persist declaration: %w", err)
	}

	e.log.Info("declaration signed",
		"declaration", rec.ID,
		"signer", res.Signer.Pubkey,
		"status", rec.Status)
	return res, nil
}

// Countersign appends a countersignature to a signed declaration and
// persists the updated record.
func (e *Engine) Countersign(ctx context.Context, id, signerIdentity string) (*signing.Result, error) {
	if e.cfg.ReadOnly() {
		return nil, ErrReadOnly
	}

	rec, err := e.store.GetDeclaration(id)
	if err != nil {
		return nil, err
	}
	kp, err := e.keys.SigningKey(signerIdentity)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	res, err := e.signer.Countersign(ctx, rec, kp, e.now())
	if err != nil {
		return nil, err
	}

	signing.Apply(rec, res)
	if err := e.store.UpsertDeclaration(rec); err != nil {
		return nil, fmt.Errorf("persist declaration: %w", err)
	}

	e.log.Info("declaration countersigned",
		"declaration", rec.ID,
		"signer", res.Signer.Pubkey,
		"countersignatures", rec.CurrentCountersignatures)
	return res, nil
}

// RevokeDeclaration marks a declaration revoked. Revocation is
// terminal: the flag is never cleared.
func (e *Engine) RevokeDeclaration(id string) error {
	if e.cfg.ReadOnly() {
		return ErrReadOnly
	}
	rec, err := e.store.GetDeclaration(id)
	if err != nil {
		return err
	}
	rec.Revoked = true
	if err := e.store.UpsertDeclaration(rec); err != nil {
		return fmt.Errorf("persist revocation: %w", err)
	}
	e.log.Info("declaration revoked", "declaration", id)
	return nil
}

// AssignTrust records a manual trust override.
func (e *Engine) AssignTrust(a *store.Assignment) (int64, error) {
	if e.cfg.ReadOnly() {
		return 0, ErrReadOnly
	}
	if a.Pubkey == "" {
		return 0, errors.New("engine: assignment requires a pubkey")
	}
	id, err := e.store.InsertAssignment(a)
	if err != nil {
		return 0, err
	}
	e.log.Info("trust assigned",
		"assignment", id,
		"pubkey", a.Pubkey,
		"level", a.AssignedTrustLevel)
	return id, nil
}

// RevokeAssignment removes a manual trust override.
func (e *Engine) RevokeAssignment(id int64) error {
	if e.cfg.ReadOnly() {
		return ErrReadOnly
	}
	return e.store.DeleteAssignment(id)
}

// ImportDeclaration validates a declaration document against the
// schema and persists it.
func (e *Engine) ImportDeclaration(doc []byte) (*store.Declaration, error) {
	if e.cfg.ReadOnly() {
		return nil, ErrReadOnly
	}
	if int64(len(doc)) > e.cfg.Engine.MaxImportBytes {
		return nil, fmt.Errorf("engine: declaration document exceeds %d bytes", e.cfg.Engine.MaxImportBytes)
	}

	rec, err := signing.ValidateImport(doc)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpsertDeclaration(rec); err != nil {
		return nil, err
	}
	e.log.Info("declaration imported", "declaration", rec.ID)
	return rec, nil
}

// ExportDeclaration returns the Format 4 document for a declaration.
func (e *Engine) ExportDeclaration(id string) ([]byte, error) {
	rec, err := e.store.GetDeclaration(id)
	if err != nil {
		return nil, err
	}
	return signing.Export(rec)
}

// SignedData returns the signable bytes of a persisted declaration.
func (e *Engine) SignedData(id string) ([]byte, error) {
	rec, err := e.store.GetDeclaration(id)
	if err != nil {
		return nil, err
	}
	return signing.SignedData(rec)
}

// SignedDataWithSignature returns the signed document including its
// signature chain.
func (e *Engine) SignedDataWithSignature(id string) ([]byte, error) {
	rec, err := e.store.GetDeclaration(id)
	if err != nil {
		return nil, err
	}
	return signing.SignedDataWithSignature(rec)
}
