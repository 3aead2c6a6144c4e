package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/service/list"
	"github.com/maildrip/maildrip/internal/service/message"
	"github.com/maildrip/maildrip/internal/service/subscription"
)

// Handlers holds the HTTP handler set and its service dependencies.
type Handlers struct {
	lists    *list.Service
	subs     *subscription.Service
	messages *message.Service
}

// NewHandlers creates the handler set.
func NewHandlers(lists *list.Service, subs *subscription.Service, messages *message.Service) *Handlers {
	return &Handlers{lists: lists, subs: subs, messages: messages}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ownerID extracts the caller identity. Empty means an unauthenticated
// deployment; list ownership is still recorded as the empty string so the
// API keeps working in single-tenant setups.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-Owner-ID")
}

// CreateList handles POST /api/lists.
func (h *Handlers) CreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	l, err := h.lists.Create(r.Context(), ownerID(r), req.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

// GetLists handles GET /api/lists.
func (h *Handlers) GetLists(w http.ResponseWriter, r *http.Request) {
	lists, err := h.lists.ListByOwner(r.Context(), ownerID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if lists == nil {
		lists = []domain.MailingList{}
	}
	respondJSON(w, http.StatusOK, lists)
}

// GetList handles GET /api/lists/{listID}.
func (h *Handlers) GetList(w http.ResponseWriter, r *http.Request) {
	l, err := h.lists.Get(r.Context(), chi.URLParam(r, "listID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// DeleteList handles DELETE /api/lists/{listID}. Subscribers, messages,
// and delivery records go with the list.
func (h *Handlers) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.lists.Delete(r.Context(), chi.URLParam(r, "listID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Subscribe handles POST /api/lists/{listID}/subscribers.
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sub, err := h.subs.Subscribe(r.Context(), chi.URLParam(r, "listID"), req.Email)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

// GetSubscribers handles GET /api/lists/{listID}/subscribers.
func (h *Handlers) GetSubscribers(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	if _, err := h.lists.Get(r.Context(), listID); err != nil {
		respondServiceError(w, err)
		return
	}
	subs, err := h.subs.ListByList(r.Context(), listID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, subs)
}

// ConfirmSubscriber handles POST /api/subscribers/{subscriberID}/confirm.
func (h *Handlers) ConfirmSubscriber(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.Confirm(r.Context(), chi.URLParam(r, "subscriberID")); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

// Unsubscribe handles DELETE /api/subscribers/{subscriberID}.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.Unsubscribe(r.Context(), chi.URLParam(r, "subscriberID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateMessage handles POST /api/lists/{listID}/messages.
func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, err := h.messages.Create(r.Context(), chi.URLParam(r, "listID"), req.Subject, req.Body)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, m)
}

// GetMessages handles GET /api/lists/{listID}/messages.
func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	listID := chi.URLParam(r, "listID")
	if _, err := h.lists.Get(r.Context(), listID); err != nil {
		respondServiceError(w, err)
		return
	}
	msgs, err := h.messages.ListByList(r.Context(), listID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

// GetMessage handles GET /api/messages/{messageID}. The response carries
// the message plus its delivery progress counts.
func (h *Handlers) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageID")
	m, err := h.messages.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	progress, err := h.messages.Progress(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":  m,
		"progress": progress,
	})
}

// GetDeliveries handles GET /api/messages/{messageID}/deliveries.
func (h *Handlers) GetDeliveries(w http.ResponseWriter, r *http.Request) {
	views, err := h.messages.Deliveries(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if views == nil {
		views = []message.DeliveryView{}
	}
	respondJSON(w, http.StatusOK, views)
}

// respondServiceError maps service sentinel errors to HTTP statuses.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, list.ErrNotFound),
		errors.Is(err, subscription.ErrNotFound),
		errors.Is(err, subscription.ErrListNotFound),
		errors.Is(err, message.ErrNotFound),
		errors.Is(err, message.ErrListNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, subscription.ErrDuplicate):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, list.ErrInvalidName),
		errors.Is(err, subscription.ErrInvalidEmail),
		errors.Is(err, message.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, message.ErrQueueUnavailable):
		respondError(w, http.StatusServiceUnavailable, "message could not be queued, try again")
	default:
		logger.Error("internal error", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encode response failed", "error", err.Error())
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
