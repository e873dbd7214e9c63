package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trustd/internal/engine"
	"trustd/internal/permission"
)

// EngineHandler dispatches IPC requests to the trust engine.
type EngineHandler struct {
	engine    *engine.Engine
	log       *slog.Logger
	version   string
	startedAt time.Time
	readOnly  bool
	storage   string

	// Shutdown is invoked on MsgShutdown, if set.
	Shutdown func()

	// Reload is invoked on MsgReloadConfig, if set.
	Reload func() error
}

// NewEngineHandler creates a handler over the engine.
func NewEngineHandler(e *engine.Engine, version, storage string, readOnly bool, log *slog.Logger) *EngineHandler {
	if log == nil {
		log = slog.Default()
	}
	return &EngineHandler{
		engine:    e,
		log:       log.With("component", "ipc-handler"),
		version:   version,
		startedAt: time.Now().UTC(),
		readOnly:  readOnly,
		storage:   storage,
	}
}

// HandleMessage implements Handler.
func (h *EngineHandler) HandleMessage(_ context.Context, msg *Message) (*Message, error) {
	id := msg.Header.RequestID
	switch msg.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, id, nil)

	case MsgStatusRequest:
		return NewMessage(MsgStatusResponse, id, StatusResponse{
			Version:   h.version,
			StartedAt: h.startedAt.Format(time.RFC3339),
			ReadOnly:  h.readOnly,
			Storage:   h.storage,
		})

	case MsgResolve:
		var req ResolveRequest
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		rec := h.engine.Resolve(req.Pubkey)
		resp := ResolveResponse{
			Pubkey:     rec.Pubkey,
			TrustLevel: rec.TrustLevel,
			Tier:       string(rec.Tier),
			AdminLevel: rec.AdminLevel,
		}
		for _, g := range rec.Grants {
			targets := g.Scope.Targets
			if g.Scope.Target != "" {
				targets = append([]string{g.Scope.Target}, targets...)
			}
			resp.Grants = append(resp.Grants, GrantInfo{
				DeclarationID: g.DeclarationID,
				ScopeType:     g.Scope.Type,
				ScopeTargets:  targets,
				ScopeExclude:  g.Scope.Exclude,
				Flags:         g.Flags,
			})
		}
		return NewMessage(MsgResolveResp, id, resp)

	case MsgCheck:
		var req CheckRequest
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		dec := h.engine.CanPerform(req.Pubkey, req.Action, permission.Scope{
			Type:   req.ScopeType,
			Target: req.ScopeTarget,
		})
		return NewMessage(MsgCheckResp, id, CheckResponse{
			Allowed:    dec.Allowed,
			TrustLevel: dec.TrustLevel,
			Tier:       string(dec.TrustTier),
			Reason:     dec.Reason,
		})

	case MsgImport:
		var req ImportRequest
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		rec, err := h.engine.ImportDeclaration(req.Document)
		if err != nil {
			return nil, err
		}
		return NewMessage(MsgImportResp, id, ImportResponse{ID: rec.ID, Status: string(rec.Status)})

	case MsgExport:
		var req ExportRequest
		if err := msg.Decode(&req); err != nil {
			return nil, err
		}
		doc, err := h.engine.ExportDeclaration(req.ID)
		if err != nil {
			return nil, err
		}
		return NewMessage(MsgExportResp, id, ExportResponse{Document: doc})

	case MsgReloadConfig:
		if h.Reload == nil {
			return nil, fmt.Errorf("reload not supported")
		}
		if err := h.Reload(); err != nil {
			return nil, err
		}
		return NewMessage(MsgReloadConfigResp, id, nil)

	case MsgShutdown:
		h.log.Info("shutdown requested over ipc")
		if h.Shutdown != nil {
			go h.Shutdown()
		}
		return NewMessage(MsgPong, id, nil)

	default:
		return nil, fmt.Errorf("unknown message type %#04x", uint16(msg.Header.Type))
	}
}
