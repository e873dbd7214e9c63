package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Client is a synchronous IPC client. Calls are serialized over one
// connection; concurrent callers queue on an internal lock.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	nextID atomic.Uint32

	// Timeout bounds a single round trip. Zero means no deadline.
	Timeout time.Duration
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Timeout: 30 * time.Second}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// Do sends a request and decodes the response payload into out (unless
// out is nil). An MsgError response is returned as an error.
func (c *Client) Do(t MessageType, payload, out any) error {
	req, err := NewMessage(t, c.nextID.Add(1), payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.Timeout))
	}
	if err := WriteMessage(c.conn, req); err != nil {
		return err
	}
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.Header.RequestID != req.Header.RequestID {
		return fmt.Errorf("response id %d does not match request %d",
			resp.Header.RequestID, req.Header.RequestID)
	}

	if resp.Header.Type == MsgError {
		var ep ErrorPayload
		if err := resp.Decode(&ep); err != nil {
			return fmt.Errorf("daemon error (undecodable payload): %w", err)
		}
		return fmt.Errorf("daemon: %s", ep.Message)
	}

	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Ping checks the daemon is responsive.
func (c *Client) Ping() error {
	return c.Do(MsgPing, nil, nil)
}

// Status returns daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.Do(MsgStatusRequest, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve returns the daemon's effective trust record for a pubkey.
func (c *Client) Resolve(pubkey string) (*ResolveResponse, error) {
	var resp ResolveResponse
	if err := c.Do(MsgResolve, ResolveRequest{Pubkey: pubkey}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Check asks the daemon for a permission decision.
func (c *Client) Check(pubkey, action, scopeType, scopeTarget string) (*CheckResponse, error) {
	var resp CheckResponse
	req := CheckRequest{Pubkey: pubkey, Action: action, ScopeType: scopeType, ScopeTarget: scopeTarget}
	if err := c.Do(MsgCheck, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Import sends a declaration document for validation and storage.
func (c *Client) Import(document []byte) (*ImportResponse, error) {
	var resp ImportResponse
	if err := c.Do(MsgImport, ImportRequest{Document: document}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Export fetches a declaration's export document.
func (c *Client) Export(id string) (json.RawMessage, error) {
	var resp ExportResponse
	if err := c.Do(MsgExport, ExportRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Document, nil
}

// ReloadConfig asks the daemon to re-read its configuration.
func (c *Client) ReloadConfig() error {
	return c.Do(MsgReloadConfig, nil, nil)
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	return c.Do(MsgShutdown, nil, nil)
}
