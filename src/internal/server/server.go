// Package server carries the service's primary caller interface: a TCP
// listener exchanging exactly one JSON request/response pair per
// connection, plus the router that maps request envelopes onto engine
// operations.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// maxRequestBytes caps a single request payload.
	maxRequestBytes = 1 << 20

	connTimeout = 30 * time.Second
)

// Server accepts connections and hands each one to the router in its
// own goroutine. Stop by cancelling the context passed to
// ListenAndServe; in-flight connections are drained before it returns.
type Server struct {
	handler *Handler
	wg      sync.WaitGroup
}

func NewServer(handler *Handler) *Server {
	return &Server{handler: handler}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on an existing listener until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("kb service listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}

	slog.Info("draining connections")
	s.wg.Wait()
	slog.Info("server stopped")
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connID := uuid.NewString()[:8]
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	dec := json.NewDecoder(io.LimitReader(conn, maxRequestBytes))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		slog.Debug("request decode failed", "conn_id", connID, "remote", conn.RemoteAddr().String(), "error", err)
		resp := encode(failure(fmt.Sprintf("request parse error: %v", err)))
		_, _ = conn.Write(resp)
		return
	}

	resp := s.handler.Handle(ctx, raw)
	if _, err := conn.Write(resp); err != nil {
		slog.Warn("response write failed", "conn_id", connID, "error", err)
	}
}
