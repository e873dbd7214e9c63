// Package ipc provides communication between the trustd daemon and
// client applications (CLI, moderation tooling).
//
// The protocol is a length-prefixed frame over a unix domain socket: a
// fixed 16-byte header followed by a JSON payload. Requests and
// responses are correlated by request id.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Protocol constants for compatibility checking.
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x54495043 // "TIPC"

	// MaxPayloadSize bounds a single frame. Declaration documents are
	// the largest payloads and are themselves bounded by config.
	MaxPayloadSize = 4 << 20
)

// MessageType identifies the type of IPC message.
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing     MessageType = 0x0001
	MsgPong     MessageType = 0x0002
	MsgError    MessageType = 0x0005
	MsgShutdown MessageType = 0x0006

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Trust queries (0x02xx)
	MsgResolve     MessageType = 0x0200
	MsgResolveResp MessageType = 0x0201
	MsgCheck       MessageType = 0x0202
	MsgCheckResp   MessageType = 0x0203

	// Declaration operations (0x03xx)
	MsgImport     MessageType = 0x0300
	MsgImportResp MessageType = 0x0301
	MsgExport     MessageType = 0x0302
	MsgExportResp MessageType = 0x0303

	// Configuration (0x04xx)
	MsgReloadConfig     MessageType = 0x0400
	MsgReloadConfigResp MessageType = 0x0401
)

// Header is the fixed-size frame header.
type Header struct {
	Magic     uint32
	Version   uint8
	Flags     uint8
	Type      MessageType
	RequestID uint32
	Length    uint32 // payload length, not including the header
}

const headerSize = 16

// Message is a decoded frame.
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage builds a message with a JSON-encoded payload.
func NewMessage(t MessageType, requestID uint32, payload any) (*Message, error) {
	msg := &Message{Header: Header{
		Magic:     ProtocolMagic,
		Version:   ProtocolVersion,
		Type:      t,
		RequestID: requestID,
	}}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		msg.Payload = data
	}
	msg.Header.Length = uint32(len(msg.Payload))
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %#04x payload: %w", uint16(m.Header.Type), err)
	}
	return nil
}

// WriteMessage writes a frame to w.
func WriteMessage(w io.Writer, msg *Message) error {
	buf := make([]byte, headerSize, headerSize+len(msg.Payload))
	binary.BigEndian.PutUint32(buf[0:], msg.Header.Magic)
	buf[4] = msg.Header.Version
	buf[5] = msg.Header.Flags
	binary.BigEndian.PutUint16(buf[6:], uint16(msg.Header.Type))
	binary.BigEndian.PutUint32(buf[8:], msg.Header.RequestID)
	binary.BigEndian.PutUint32(buf[12:], msg.Header.Length)
	buf = append(buf, msg.Payload...)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	msg := &Message{Header: Header{
		Magic:     binary.BigEndian.Uint32(hdr[0:]),
		Version:   hdr[4],
		Flags:     hdr[5],
		Type:      MessageType(binary.BigEndian.Uint16(hdr[6:])),
		RequestID: binary.BigEndian.Uint32(hdr[8:]),
		Length:    binary.BigEndian.Uint32(hdr[12:]),
	}}

	if msg.Header.Magic != ProtocolMagic {
		return nil, fmt.Errorf("bad magic %#08x", msg.Header.Magic)
	}
	if msg.Header.Version != ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", msg.Header.Version)
	}
	if msg.Header.Length > MaxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", msg.Header.Length)
	}

	if msg.Header.Length > 0 {
		msg.Payload = make([]byte, msg.Header.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}
	return msg, nil
}

// ErrorPayload carries a failed request's error.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ResolveRequest asks for the effective trust of a key.
type ResolveRequest struct {
	Pubkey string `json:"pubkey"`
}

// GrantInfo is one scoped permission grant in a resolve response.
type GrantInfo struct {
	DeclarationID string          `json:"declaration_id,omitempty"`
	ScopeType     string          `json:"scope_type"`
	ScopeTargets  []string        `json:"scope_targets,omitempty"`
	ScopeExclude  []string        `json:"scope_exclude,omitempty"`
	Flags         map[string]bool `json:"flags,omitempty"`
}

// ResolveResponse is the effective trust record.
type ResolveResponse struct {
	Pubkey     string      `json:"pubkey"`
	TrustLevel int         `json:"trust_level"`
	Tier       string      `json:"tier"`
	AdminLevel int         `json:"admin_level,omitempty"`
	Grants     []GrantInfo `json:"grants,omitempty"`
}

// CheckRequest asks whether a key may perform an action within a scope.
type CheckRequest struct {
	Pubkey      string `json:"pubkey"`
	Action      string `json:"action"`
	ScopeType   string `json:"scope_type"`
	ScopeTarget string `json:"scope_target,omitempty"`
}

// CheckResponse is the permission decision.
type CheckResponse struct {
	Allowed    bool   `json:"allowed"`
	TrustLevel int    `json:"trust_level"`
	Tier       string `json:"tier"`
	Reason     string `json:"reason,omitempty"`
}

// ImportRequest carries a declaration document to validate and store.
type ImportRequest struct {
	Document json.RawMessage `json:"document"`
}

// ImportResponse acknowledges a stored declaration.
type ImportResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ExportRequest asks for a declaration's export document.
type ExportRequest struct {
	ID string `json:"id"`
}

// ExportResponse carries the export document.
type ExportResponse struct {
	Document json.RawMessage `json:"document"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version   string `json:"version"`
	StartedAt string `json:"started_at"`
	ReadOnly  bool   `json:"read_only"`
	Storage   string `json:"storage"`
}
