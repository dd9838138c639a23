// Package api serves the daemon's status over a small websocket protocol.
// A client sends {"id": 1} and receives the current build status; any other
// request closes the connection.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/docdaemon/internal/logfields"
	"git.home.luguber.info/inful/docdaemon/internal/state"
)

// RequestStatus is the only request id the protocol understands.
const RequestStatus = 1

// Request is an incoming client frame.
type Request struct {
	ID int `json:"id"`
}

// StatusResponse answers a status request.
type StatusResponse struct {
	ID              int        `json:"id"`
	RunningBuilds   int        `json:"running_builds"`
	ScheduledBuilds int        `json:"scheduled_builds"`
	Jobs            []JobEntry `json:"jobs"`
}

// JobEntry describes one tracked job on the wire.
type JobEntry struct {
	Project     string `json:"project"`
	Branch      string `json:"branch"`
	DCFile      string `json:"dc_file"`
	Status      string `json:"status"`
	Commit      string `json:"commit"`
	TimeStarted int64  `json:"time_started,omitempty"`
}

// StatusSource provides the daemon state the server reports.
type StatusSource interface {
	Snapshot() state.Snapshot
}

// Server is the websocket status API.
type Server struct {
	source   StatusSource
	upgrader websocket.Upgrader
}

// NewServer creates a status server reading from the given source.
func NewServer(source StatusSource) *Server {
	return &Server{
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler that upgrades connections.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	return mux
}

// Serve listens on the given port until ctx is canceled.
func (s *Server) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("status API listening", slog.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", logfields.Error(err))
		return
	}
	defer conn.Close()

	slog.Debug("status client connected", logfields.RemoteAddr(r.RemoteAddr))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		// Unknown or malformed requests terminate the connection without a
		// response.
		if err := json.Unmarshal(payload, &req); err != nil || req.ID != RequestStatus {
			return
		}

		if err := conn.WriteJSON(s.statusResponse()); err != nil {
			slog.Warn("cannot send status response", logfields.Error(err))
			return
		}
	}
}

func (s *Server) statusResponse() StatusResponse {
	snap := s.source.Snapshot()
	resp := StatusResponse{
		ID:              RequestStatus,
		RunningBuilds:   snap.RunningBuilds,
		ScheduledBuilds: snap.ScheduledBuilds,
		Jobs:            make([]JobEntry, 0, len(snap.Jobs)),
	}
	for _, job := range snap.Jobs {
		resp.Jobs = append(resp.Jobs, JobEntry{
			Project:     job.Project.Name,
			Branch:      job.Project.Branch,
			DCFile:      job.DCFile,
			Status:      string(job.Status),
			Commit:      job.Commit,
			TimeStarted: job.TimeStarted,
		})
	}
	return resp
}
