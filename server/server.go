// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/ingestion"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/session"
	"github.com/gorilla/websocket"
)

const (
	// DefaultMaxUploadBytes bounds multipart uploads.
	DefaultMaxUploadBytes = 50 << 20

	// DefaultRetention is how long a finished run's events stay available
	// for replay.
	DefaultRetention = 5 * time.Minute

	subscriberBuffer = 64
	writeTimeout     = 10 * time.Second
)

// Server routes HTTP requests to an ingestion pipeline.
type Server struct {
	pipeline  *ingestion.Pipeline
	upgrader  websocket.Upgrader
	maxUpload int64
	retention time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	relays map[string]*relay
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxUploadBytes bounds the size of uploaded documents.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithRetention sets how long finished runs can be replayed.
func WithRetention(d time.Duration) Option {
	return func(s *Server) {
		s.retention = d
	}
}

// New creates a server for pipeline.
func New(pipeline *ingestion.Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:  pipeline,
		maxUpload: DefaultMaxUploadBytes,
		retention: DefaultRetention,
		logger:    slog.Default(),
		relays:    make(map[string]*relay),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions/resumable", s.handleResumable)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handlePurge)
	mux.HandleFunc("POST /sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	return cors(mux)
}

// ListenAndServe serves on addr until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown failed", "err", err)
		}
	}()

	s.logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type createRequest struct {
	URL      string            `json:"url"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Accepted is the response to a request that started a run.
type Accepted struct {
	SessionID string `json:"sessionId"`
	Events    string `json:"events"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	src, err := s.readSource(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	run, err := s.pipeline.Ingest(context.WithoutCancel(r.Context()), src)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.accept(w, run)
}

// readSource parses a multipart upload (field "file") or a JSON body
// naming a URL.
func (s *Server) readSource(w http.ResponseWriter, r *http.Request) (ingestion.Source, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req createRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			return ingestion.Source{}, fmt.Errorf("invalid request body: %w", err)
		}
		return ingestion.Source{URL: req.URL, Metadata: req.Metadata}, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return ingestion.Source{}, fmt.Errorf("invalid upload: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return ingestion.Source{}, fmt.Errorf("missing file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return ingestion.Source{}, fmt.Errorf("read upload: %w", err)
	}
	src := ingestion.Source{Filename: header.Filename, Data: data}
	if ct := header.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		src.ContentType = ct
	}
	return src, nil
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	run, err := s.pipeline.Resume(context.WithoutCancel(r.Context()), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.accept(w, run)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pipeline.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Summarize(sess))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.pipeline.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Summarize(sess))
}

func (s *Server) handleResumable(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.pipeline.ListResumable(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]session.Summary, len(sessions))
	for i, sess := range sessions {
		out[i] = session.Summarize(sess)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.pipeline.Purge(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	s.mu.Lock()
	delete(s.relays, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// accept starts relaying run and answers 202.
func (s *Server) accept(w http.ResponseWriter, run *ingestion.Run) {
	rl := newRelay()
	s.mu.Lock()
	s.relays[run.SessionID] = rl
	s.mu.Unlock()

	go func() {
		rl.drain(run.Events())
		time.AfterFunc(s.retention, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.relays[run.SessionID] == rl {
				delete(s.relays, run.SessionID)
			}
		})
	}()

	writeJSON(w, http.StatusAccepted, Accepted{
		SessionID: run.SessionID,
		Events:    "/sessions/" + run.SessionID + "/events",
	})
}

func (s *Server) relay(sessionID string) *relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relays[sessionID]
}

// handleEvents streams a run's progress as JSON text messages. A session
// without a relayed run gets a single snapshot event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rl := s.relay(id)

	var snapshot *progress.Event
	if rl == nil {
		sess, err := s.pipeline.Session(r.Context(), id)
		if err != nil {
			s.fail(w, err)
			return
		}
		ev := snapshotEvent(sess)
		snapshot = &ev
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session", id, "err", err)
		return
	}
	defer conn.Close()

	if snapshot != nil {
		if s.write(conn, *snapshot) == nil {
			closeNormally(conn)
		}
		return
	}

	past, sub := rl.subscribe(subscriberBuffer)
	for _, ev := range past {
		if err := s.write(conn, ev); err != nil {
			if sub != nil {
				rl.unsubscribe(sub)
			}
			return
		}
	}
	if sub == nil {
		closeNormally(conn)
		return
	}
	defer rl.unsubscribe(sub)

	// The client sends nothing; reading detects disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.events:
			if !ok {
				code, reason := rl.closeCode(sub)
				if code != websocket.CloseNormalClosure {
					s.logger.Warn("dropped slow event subscriber", "session", id)
				}
				closeWith(conn, code, reason)
				return
			}
			if err := s.write(conn, ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func snapshotEvent(sess *core.Session) progress.Event {
	ev := progress.NewEvent(progress.StepSession, "Session %s is %s", sess.ID, sess.Status).
		WithProgress(sess.CompletedChunks, sess.TotalChunks)
	ev.SessionID = sess.ID
	ev.Time = sess.UpdatedAt
	return ev
}

func (s *Server) write(conn *websocket.Conn, ev progress.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("websocket write failed", "session", ev.SessionID, "err", err)
		return err
	}
	return nil
}

func closeNormally(conn *websocket.Conn) {
	closeWith(conn, websocket.CloseNormalClosure, "")
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// fail maps pipeline errors to HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ingestion.ErrSessionActive):
		status = http.StatusConflict
	case errors.Is(err, ingestion.ErrNoSource), errors.Is(err, core.ErrEmptySource):
		status = http.StatusBadRequest
	case errors.Is(err, ingestion.ErrPipelineClosed):
		status = http.StatusServiceUnavailable
	default:
		s.logger.Error("request failed", "err", err)
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
