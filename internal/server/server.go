// Package server exposes a session over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"goa.design/clue/log"

	"github.com/cugtyt/azure-deployer/internal/confirm"
	"github.com/cugtyt/azure-deployer/internal/dispatch"
	"github.com/cugtyt/azure-deployer/internal/session"
	"github.com/cugtyt/azure-deployer/internal/tools"
	"github.com/cugtyt/azure-deployer/pkg/api"
)

const serviceName = "azure-deployer"

// StatusReporter describes the state of an optional dependency.
type StatusReporter interface {
	Status() string
}

type Server struct {
	session *session.Session
	schemas []tools.Schema
	bus     StatusReporter
	started time.Time
}

// New creates the HTTP handlers for sess. bus may be nil.
func New(sess *session.Session, schemas []tools.Schema, bus StatusReporter) *Server {
	return &Server{
		session: sess,
		schemas: schemas,
		bus:     bus,
		started: time.Now(),
	}
}

// Handler returns the routed handler, wrapped so that every request context
// carries the logger found in ctx.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tools", s.listTools).Methods(http.MethodGet)
	v1.HandleFunc("/threads", s.listThreads).Methods(http.MethodGet)
	v1.HandleFunc("/threads", s.createThread).Methods(http.MethodPost)
	v1.HandleFunc("/threads/{id}", s.deleteThread).Methods(http.MethodDelete)
	v1.HandleFunc("/threads/{id}/history", s.history).Methods(http.MethodGet)
	v1.HandleFunc("/messages", s.sendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/confirm", s.confirm).Methods(http.MethodPost)

	return log.HTTP(ctx)(r)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := api.HealthStatus{
		Service:   serviceName,
		Status:    "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
	if s.bus != nil {
		status.EventBus = s.bus.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	out := api.ToolsResponse{Tools: make([]api.ToolSchema, 0, len(s.schemas))}
	for _, schema := range s.schemas {
		out.Tools = append(out.Tools, api.ToolSchema{
			Name:              schema.Name,
			Description:       schema.Description,
			Parameters:        schema.Parameters,
			NeedsConfirmation: dispatch.IsMutating(schema.Name),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.session.Threads(r.Context())
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, api.ThreadsResponse{Threads: threads})
}

func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	id, err := s.session.NewThread(r.Context())
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, api.ThreadResponse{ThreadID: id})
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.session.DeleteThread(r.Context(), id); err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msgs, err := s.session.History(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err, nil)
		return
	}
	out := api.HistoryResponse{ThreadID: id, Messages: make([]api.ChatMessage, 0, len(msgs))}
	for _, m := range msgs {
		out.Messages = append(out.Messages, api.ChatMessage{Role: m.Role, Text: m.Text, Timestamp: m.Timestamp})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req api.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	reply, err := s.session.Send(r.Context(), req.ThreadID, req.Message)
	s.respond(r.Context(), w, reply, err)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req api.ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "Invalid request body"})
		return
	}

	reply, err := s.session.Confirm(r.Context(), req.ThreadID, req.Reply)
	s.respond(r.Context(), w, reply, err)
}

func (s *Server) respond(ctx context.Context, w http.ResponseWriter, reply *session.Reply, err error) {
	if err != nil {
		var msgs []string
		if reply != nil {
			msgs = reply.Messages
		}
		writeError(ctx, w, err, msgs)
		return
	}
	writeJSON(w, http.StatusOK, api.Reply{
		ThreadID: reply.ThreadID,
		Messages: reply.Messages,
		Pending:  reply.Pending,
	})
}

func writeError(ctx context.Context, w http.ResponseWriter, err error, msgs []string) {
	status, text := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error(ctx, err, log.KV{K: "msg", V: "request failed"}, log.KV{K: "status", V: status})
	} else {
		log.Info(ctx, log.KV{K: "msg", V: "request rejected"}, log.KV{K: "status", V: status}, log.KV{K: "err", V: err.Error()})
	}
	writeJSON(w, status, api.ErrorResponse{Error: text, Messages: msgs})
}

func classify(err error) (int, string) {
	var unknown *dispatch.UnknownToolError
	switch {
	case errors.As(err, &unknown):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, dispatch.ErrRunExpired):
		return http.StatusGone, confirm.ExpiredNotice
	case errors.Is(err, confirm.ErrNoPendingAction):
		return http.StatusConflict, "There is no pending action to confirm."
	case errors.Is(err, dispatch.ErrTerminalRun):
		return http.StatusConflict, err.Error()
	case errors.Is(err, session.ErrUnknownThread):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
