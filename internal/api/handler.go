// Package api exposes the subscription management and admin HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/adorofeev/keywatch/internal/circuitbreaker"
	"github.com/adorofeev/keywatch/internal/db"
)

// SubscriptionRepository defines the subscription database operations the
// handlers need.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *db.Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*db.Subscription, error)
	ListByUser(ctx context.Context, userID int64) ([]*db.Subscription, error)
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	SetNegativesEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// AnalysisReader lists stored evaluation outcomes for a subscription.
type AnalysisReader interface {
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID, limit, offset int) ([]*db.AnalysisResult, error)
}

// BreakerStats exposes one circuit breaker's state for the admin view.
type BreakerStats interface {
	Stats() circuitbreaker.Stats
}

// QueueInspector reports the delayed-notification queue depth.
type QueueInspector interface {
	QueueDepth() int
}

// CreateSubscriptionRequest is the POST /v1/subscriptions body.
type CreateSubscriptionRequest struct {
	UserID           int64    `json:"user_id"`
	Query            string   `json:"query"`
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	GroupIDs         []int64  `json:"group_ids"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	subs     SubscriptionRepository
	analyses AnalysisReader
	breakers []BreakerStats
	queue    QueueInspector
}

// NewHandler creates a new API handler. breakers and queue may be nil when
// the admin surface is not wired (tests, partial deployments).
func NewHandler(logger *zap.Logger, subs SubscriptionRepository, analyses AnalysisReader, queue QueueInspector, breakers ...BreakerStats) *Handler {
	return &Handler{
		logger:   logger,
		subs:     subs,
		analyses: analyses,
		breakers: breakers,
		queue:    queue,
	}
}

// Routes mounts all handler endpoints on the given router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/subscriptions", h.CreateSubscription)
	r.Get("/subscriptions", h.ListSubscriptions)
	r.Get("/subscriptions/{id}", h.GetSubscription)
	r.Delete("/subscriptions/{id}", h.DeactivateSubscription)
	r.Post("/subscriptions/{id}/pause", h.PauseSubscription)
	r.Post("/subscriptions/{id}/resume", h.ResumeSubscription)
	r.Post("/subscriptions/{id}/negatives/enable", h.EnableNegatives)
	r.Post("/subscriptions/{id}/negatives/disable", h.DisableNegatives)
	r.Get("/subscriptions/{id}/analyses", h.ListAnalyses)
	r.Get("/admin/breakers", h.BreakerStats)
}

// CreateSubscription handles POST /v1/subscriptions.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id is required")
		return
	}
	if req.Query == "" && len(req.PositiveKeywords) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Empty subscription", "query or positive_keywords must be provided")
		return
	}

	sub := &db.Subscription{
		ID:               uuid.New(),
		UserID:           req.UserID,
		Query:            req.Query,
		PositiveKeywords: req.PositiveKeywords,
		NegativeKeywords: req.NegativeKeywords,
		GroupIDs:         req.GroupIDs,
		Active:           true,
	}

	if err := h.subs.Create(ctx, sub); err != nil {
		h.logger.Error("failed to create subscription",
			zap.Error(err),
			zap.Int64("user_id", req.UserID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create subscription", "")
		return
	}

	h.logger.Info("subscription created",
		zap.String("id", sub.ID.String()),
		zap.Int64("user_id", sub.UserID),
	)

	h.writeJSON(w, http.StatusCreated, sub)
}

// GetSubscription handles GET /v1/subscriptions/{id}.
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
			return
		}
		h.logger.Error("failed to get subscription", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get subscription", "")
		return
	}

	h.writeJSON(w, http.StatusOK, sub)
}

// ListSubscriptions handles GET /v1/subscriptions?user_id=123.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be an integer")
		return
	}

	subs, err := h.subs.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list subscriptions", zap.Error(err), zap.Int64("user_id", userID))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list subscriptions", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  subs,
		"count": len(subs),
	})
}

// DeactivateSubscription handles DELETE /v1/subscriptions/{id}.
// Deactivation is a soft delete; stored analyses are kept.
func (h *Handler) DeactivateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.subs.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
			return
		}
		h.logger.Error("failed to deactivate subscription", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to deactivate subscription", "")
		return
	}

	h.logger.Info("subscription deactivated", zap.String("id", id.String()))
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": "deactivated"})
}

// PauseSubscription handles POST /v1/subscriptions/{id}/pause.
func (h *Handler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// ResumeSubscription handles POST /v1/subscriptions/{id}/resume.
func (h *Handler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.subs.SetPaused(r.Context(), id, paused); err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
			return
		}
		h.logger.Error("failed to set paused state", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update subscription", "")
		return
	}

	status := "resumed"
	if paused {
		status = "paused"
	}
	h.logger.Info("subscription "+status, zap.String("id", id.String()))
	h.writeJSON(w, http.StatusOK, map[string]string{"id": id.String(), "status": status})
}

// EnableNegatives handles POST /v1/subscriptions/{id}/negatives/enable.
func (h *Handler) EnableNegatives(w http.ResponseWriter, r *http.Request) {
	h.setNegatives(w, r, true)
}

// DisableNegatives handles POST /v1/subscriptions/{id}/negatives/disable.
// Disabled negative keywords are kept on the subscription but stop vetoing
// matches until re-enabled.
func (h *Handler) DisableNegatives(w http.ResponseWriter, r *http.Request) {
	h.setNegatives(w, r, false)
}

func (h *Handler) setNegatives(w http.ResponseWriter, r *http.Request, enabled bool) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	if err := h.subs.SetNegativesEnabled(r.Context(), id, enabled); err != nil {
		if errors.Is(err, db.ErrSubscriptionNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Subscription not found", "")
			return
		}
		h.logger.Error("failed to toggle negative keywords", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to update subscription", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                id.String(),
		"negatives_enabled": enabled,
	})
}

// ListAnalyses handles GET /v1/subscriptions/{id}/analyses?limit=20&offset=0.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	id, ok := h.subscriptionID(w, r)
	if !ok {
		return
	}

	limit := 20
	offset := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	results, err := h.analyses.ListBySubscription(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("failed to list analyses", zap.Error(err), zap.String("id", id.String()))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list analyses", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   results,
		"limit":  limit,
		"offset": offset,
		"count":  len(results),
	})
}

// BreakerStats handles GET /v1/admin/breakers.
func (h *Handler) BreakerStats(w http.ResponseWriter, r *http.Request) {
	stats := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, b := range h.breakers {
		stats = append(stats, b.Stats())
	}

	resp := map[string]interface{}{"breakers": stats}
	if h.queue != nil {
		resp["delay_queue_depth"] = h.queue.QueueDepth()
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) subscriptionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid subscription ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
