package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes IPC requests.
type Handler interface {
	HandleMessage(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// ServerConfig configures the IPC server.
type ServerConfig struct {
	SocketPath   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns defaults rooted in the data directory.
func DefaultServerConfig(dir string) ServerConfig {
	return ServerConfig{
		SocketPath:   filepath.Join(dir, "trustd.sock"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server accepts client connections on a unix socket and dispatches
// frames to a handler, one connection per goroutine.
type Server struct {
	cfg     ServerConfig
	handler Handler
	log     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a server over the given handler.
func NewServer(cfg ServerConfig, handler Handler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		handler: handler,
		log:     log.With("component", "ipc"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins listening. The socket is owner-only: trust decisions are
// local policy, not a network service.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("ipc: server already running")
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(listener)

	s.log.Info("ipc server listening", "socket", s.cfg.SocketPath)
	return nil
}

// Stop closes the listener, waits for in-flight connections, and
// removes the socket file.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Close()
	}

	s.wg.Wait()
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("accept failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		msg, err := ReadMessage(conn)
		if err != nil {
			if err != io.EOF && s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection closed", "error", err)
			}
			return
		}

		resp, err := s.handler.HandleMessage(s.ctx, msg)
		if err != nil {
			resp = errorMessage(msg.Header.RequestID, err)
		}
		if resp == nil {
			continue
		}

		if s.cfg.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err := WriteMessage(conn, resp); err != nil {
			s.log.Warn("write response failed", "error", err)
			return
		}
	}
}

func errorMessage(requestID uint32, err error) *Message {
	msg, merr := NewMessage(MsgError, requestID, ErrorPayload{Message: err.Error()})
	if merr != nil {
		msg, _ = NewMessage(MsgError, requestID, nil)
	}
	return msg
}
