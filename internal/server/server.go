// Package server exposes the HTTP surface: the websocket endpoint,
// a public room directory, and a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/christopherjohns/relay/internal/room"
	"github.com/christopherjohns/relay/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Server is the main HTTP server.
type Server struct {
	addr  string
	mux   *http.ServeMux
	srv   *http.Server
	rooms *room.Manager
	conns *ws.ConnManager
}

// New creates a Server listening on addr. wsHandler serves the
// websocket upgrade endpoint.
func New(addr string, rooms *room.Manager, conns *ws.ConnManager, wsHandler http.Handler) *Server {
	s := &Server{
		addr:  addr,
		mux:   http.NewServeMux(),
		rooms: rooms,
		conns: conns,
	}
	s.routes(wsHandler)
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s
}

// Run starts the HTTP server and blocks until it stops. A clean
// Shutdown reports nil, not ErrServerClosed.
func (s *Server) Run() error {
	zap.L().Info("http_listen", zap.String("addr", s.addr))
	if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, waiting up to shutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		zap.L().Error("http_shutdown", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) routes(wsHandler http.Handler) {
	s.mux.Handle("GET /ws", wsHandler)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/rooms", s.handleListRooms)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.conns.Stats(),
	})
}

// handleListRooms returns the public room directory. Private rooms
// are reachable only by invite link and never listed.
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.rooms.List()
	if rooms == nil {
		rooms = []*room.Room{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rooms)
}
