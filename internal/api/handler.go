package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/bus"
	"github.com/arbiterhq/arbiter/internal/selection"
	"github.com/arbiterhq/arbiter/internal/supervisor"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	coordinator *supervisor.Coordinator
	selector    *selection.Service
	logger      *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(coordinator *supervisor.Coordinator, selector *selection.Service, logger *zap.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		selector:    selector,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Workflow routes
		r.Post("/requests", h.processRequest)
		r.Get("/conversations", h.listConversations)
		r.Get("/conversations/{id}", h.getConversation)
		r.Post("/cleanup", h.cleanup)

		// Agent board routes
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{role}", h.getAgent)

		// Conflict routes
		r.Get("/conflicts", h.listConflicts)

		// Message bus routes
		r.Get("/messages", h.listMessages)
		r.Post("/messages", h.sendMessage)
		r.Delete("/messages", h.clearMessages)

		// Model selection routes
		r.Get("/models", h.listModels)
		r.Post("/models", h.registerModel)
		r.Get("/models/{id}/health", h.modelHealth)
		r.Post("/models/{id}/performance", h.recordPerformance)
		r.Post("/select", h.selectModel)
		r.Post("/fallback", h.fallbackModel)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "arbiter"})
}

type processRequestBody struct {
	UserID      string                 `json:"user_id"`
	RequestType string                 `json:"request_type"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func (h *Handler) processRequest(w http.ResponseWriter, r *http.Request) {
	var req processRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" || req.RequestType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id and request_type are required"})
		return
	}

	conv := h.coordinator.ProcessRequest(r.Context(), req.UserID, req.RequestType, req.Parameters)
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.ActiveConversations())
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, ok := h.coordinator.GetConversation(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type cleanupRequest struct {
	OlderThanMinutes int `json:"older_than_minutes"`
}

func (h *Handler) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.OlderThanMinutes <= 0 {
		req.OlderThanMinutes = 60
	}

	removed := h.coordinator.Cleanup(r.Context(), time.Duration(req.OlderThanMinutes)*time.Minute)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Board().All())
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	role := supervisor.Role(chi.URLParam(r, "role"))
	st, ok := h.coordinator.AgentStatus(role)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) listConflicts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.Resolutions())
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.MessageQueue())
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var msg bus.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if msg.Sender == "" || msg.Recipient == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender and recipient are required"})
		return
	}

	sent := h.coordinator.SendMessage(r.Context(), msg)
	writeJSON(w, http.StatusCreated, sent)
}

func (h *Handler) clearMessages(w http.ResponseWriter, r *http.Request) {
	h.coordinator.ClearMessageQueue()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

type modelView struct {
	Definition   selection.ModelDefinition `json:"definition"`
	Capabilities selection.Capabilities    `json:"capabilities"`
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	reg := h.selector.Registry()
	out := make([]modelView, 0, reg.Len())
	for _, id := range reg.IDs() {
		def, _ := reg.Definition(id)
		caps, _ := reg.Caps(id)
		out = append(out, modelView{Definition: def, Capabilities: caps})
	}
	writeJSON(w, http.StatusOK, out)
}

type registerModelRequest struct {
	Definition   selection.ModelDefinition `json:"definition"`
	Capabilities selection.Capabilities    `json:"capabilities"`
}

func (h *Handler) registerModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	id, err := h.selector.RegisterModel(req.Definition, req.Capabilities)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, selection.ErrDuplicateModel) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) modelHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.selector.Registry().Definition(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "model not found"})
		return
	}
	writeJSON(w, http.StatusOK, h.selector.ModelHealth(id))
}

type performanceRequest struct {
	TaskType string            `json:"task_type"`
	Metrics  selection.Metrics `json:"metrics"`
	Success  bool              `json:"success"`
}

func (h *Handler) recordPerformance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.selector.Registry().Definition(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "model not found"})
		return
	}

	var req performanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.TaskType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "task_type is required"})
		return
	}

	h.selector.RecordPerformance(id, req.TaskType, req.Metrics, req.Success)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

type selectRequest struct {
	Task    selection.TaskProfile `json:"task"`
	Context selection.Context     `json:"context"`
}

func (h *Handler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	selected, err := h.selector.SelectModel(r.Context(), req.Task, req.Context)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, selected)
}

type fallbackRequest struct {
	FailedModelID string                `json:"failed_model_id"`
	Task          selection.TaskProfile `json:"task"`
	Context       selection.Context     `json:"context"`
}

func (h *Handler) fallbackModel(w http.ResponseWriter, r *http.Request) {
	var req fallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.FailedModelID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed_model_id is required"})
		return
	}

	selected, err := h.selector.FallbackModel(req.FailedModelID, req.Task, req.Context)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, selected)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
