// ABOUTME: Local HTTP API exposing the conversation service to the client process
// ABOUTME: chi router over create/append/switch/history/delete/export plus sync triggers

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/whisperlog/whisperlog/internal/conversation"
	"github.com/whisperlog/whisperlog/internal/store"
	syncclient "github.com/whisperlog/whisperlog/internal/sync"
)

// Server wires HTTP routes to the conversation service and sync client.
// It listens on loopback for the UI and voice pipeline of the same install;
// it is not the remote sync server.
type Server struct {
	svc    *conversation.Service
	sync   *syncclient.Client
	logger *slog.Logger
}

// New creates an API server over the given service and sync client
func New(svc *conversation.Service, sync *syncclient.Client) *Server {
	return &Server{
		svc:    svc,
		sync:   sync,
		logger: slog.Default().With("component", "api"),
	}
}

// Router builds the chi handler
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Post("/conversations", s.handleCreateConversation)
		api.Get("/conversations", s.handleListConversations)
		api.Post("/conversations/{id}/switch", s.handleSwitchConversation)
		api.Post("/conversations/{id}/rename", s.handleRenameConversation)
		api.Delete("/conversations/{id}", s.handleDeleteConversation)
		api.Delete("/conversations", s.handleClearConversations)

		api.Get("/history", s.handleGetHistory)
		api.Post("/turns", s.handleAddTurn)

		api.Post("/sync/push", s.handlePush)
		api.Post("/sync/pull", s.handlePull)

		api.Get("/export", s.handleExport)
		api.Delete("/data", s.handleClearData)
	})

	return r
}

// turnJSON is the wire shape of a turn on the local API
type turnJSON struct {
	ID                string `json:"id"`
	ConversationID    string `json:"conversationId"`
	Timestamp         string `json:"timestamp"`
	UserTranscript    string `json:"userTranscript,omitempty"`
	AssistantResponse string `json:"assistantResponse,omitempty"`
}

func toTurnJSON(t *store.Turn) turnJSON {
	return turnJSON{
		ID:                t.ID,
		ConversationID:    t.ConversationID,
		Timestamp:         t.Timestamp.UTC().Format(time.RFC3339Nano),
		UserTranscript:    t.UserTranscript,
		AssistantResponse: t.AssistantResponse,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.svc.CreateNewConversation(r.Context(), payload.Name)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.svc.ListConversations(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if convs == nil {
		convs = []*store.Conversation{}
	}
	respondJSON(w, http.StatusOK, convs)
}

func (s *Server) handleSwitchConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.SwitchToConversation(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.svc.RenameConversation(r.Context(), id, payload.Name); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.DeleteConversation(r.Context(), id); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAllConversations(r.Context()); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.svc.GetConversationHistory(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	out := make([]turnJSON, len(turns))
	for i, t := range turns {
		out[i] = toTurnJSON(t)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddTurn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserTranscript    string `json:"userTranscript"`
		AssistantResponse string `json:"assistantResponse"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := s.svc.AddTurn(r.Context(), &store.Turn{
		UserTranscript:    payload.UserTranscript,
		AssistantResponse: payload.AssistantResponse,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}

	if _, err := s.svc.QueueAppendTurnOp(r.Context(), turn); err != nil {
		s.respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, toTurnJSON(turn))
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	acked, err := s.sync.PushOutbox(r.Context())
	if err != nil {
		s.respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"acked": acked})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	applied, err := s.sync.PullAndApplyOps(r.Context())
	if err != nil {
		s.respondSyncError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ExportData(r.Context())
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearAllData(r.Context()); err != nil {
		s.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondServiceError maps store/service errors to HTTP status codes
func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.logger.Error("request failed", "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

// respondSyncError maps sync errors: misconfiguration is a setup bug, an
// upstream status becomes a bad gateway
func (s *Server) respondSyncError(w http.ResponseWriter, err error) {
	if errors.Is(err, syncclient.ErrNoTransport) || errors.Is(err, syncclient.ErrNoBaseURL) {
		respondError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	var statusErr *syncclient.StatusError
	if errors.As(err, &statusErr) {
		respondError(w, http.StatusBadGateway, statusErr.Error())
		return
	}
	s.logger.Error("sync failed", "error", err)
	respondError(w, http.StatusInternalServerError, "sync failed")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
