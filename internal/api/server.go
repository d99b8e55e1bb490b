// Package api exposes the planner over HTTP: post user replies, inspect
// the log and derived state, and stream new events over a websocket.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flitsinc/go-planner/internal/eventlog"
	"github.com/flitsinc/go-planner/internal/gate"
	"github.com/flitsinc/go-planner/internal/idgen"
	"github.com/flitsinc/go-planner/internal/planner"
	"github.com/flitsinc/go-planner/internal/vault"
)

type Server struct {
	Log       *eventlog.Log
	Planner   *planner.Planner
	Vault     vault.Vault
	Logger    *slog.Logger
	StartedAt time.Time

	// Persist, when set, writes uploaded attachments through to durable
	// storage after they land in the vault.
	Persist func(ctx context.Context, f vault.File) error
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/reply", s.handleReply)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/attachments", s.handleAttachments)
	mux.HandleFunc("/api/stream", s.handleStreamWS)

	return s.withRequestLog(mux)
}

// withRequestLog tags each request with a sortable id and logs it.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := idgen.Request()
		if s.Logger != nil {
			s.Logger.Debug("http request", "id", reqID, "method", r.Method, "path", r.URL.Path)
		}
		w.Header().Set("X-Request-Id", reqID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"started": s.StartedAt,
	})
}

type replyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req replyRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	evt, err := s.Planner.RecordUserReply(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, evt)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	events := s.Log.Events()
	if since := parseInt(r.URL.Query().Get("since"), 0); since > 0 {
		filtered := events[:0:0]
		for _, evt := range events {
			if evt.Seq > int64(since) {
				filtered = append(filtered, evt)
			}
		}
		events = filtered
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	events := s.Log.Events()
	writeJSON(w, http.StatusOK, map[string]any{
		"loop":      s.Planner.State().String(),
		"lastSeq":   s.Log.LastSeq(),
		"status":    gate.LatestStatus(events),
		"terminal":  s.Planner.Terminal(),
		"documents": s.Log.Documents(),
	})
}

type attachmentUpload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  string `json:"content"` // base64
	Private  bool   `json:"private"`
	Summary  string `json:"summary"`
}

func (s *Server) handleAttachments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Vault.ListForPlanner())
	case http.MethodPost:
		s.handleUploadAttachment(w, r)
	default:
		writeMethodNotAllowed(w)
	}
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	var req attachmentUpload
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, errors.New("attachment name is required"))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode content: %w", err))
		return
	}
	f := vault.File{
		Name:     strings.TrimSpace(req.Name),
		MimeType: req.MimeType,
		Bytes:    data,
		Private:  req.Private,
		Summary:  req.Summary,
		Source:   "user",
	}
	s.Vault.Put(f)
	if s.Persist != nil {
		if err := s.Persist(r.Context(), f); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, f)
}

func decodeJSON(body io.Reader, dest any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
