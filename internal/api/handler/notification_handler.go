package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/vowsuite/notify/internal/api/middleware"
	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/service"
)

// NotificationHandler handles the notification intake and query endpoints.
type NotificationHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewNotificationHandler(svc *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// Send handles POST /api/v1/notifications
//
// @Summary     Send a notification
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.SendRequest  true  "Notification payload"
// @Success     202   {object}  domain.Ack
// @Failure     422   {object}  map[string]string
// @Failure     503   {object}  map[string]string
// @Router      /api/v1/notifications [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.svc.Send(r.Context(), &req)
	if err != nil {
		h.logger.Warn("send notification failed",
			zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
			zap.String("type", req.Type),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, a)
}

// SendBulk handles POST /api/v1/notifications/bulk
//
// @Summary     Send a batch of notifications
// @Tags        notifications
// @Accept      json
// @Produce     json
// @Param       body  body      domain.BulkRequest  true  "Batch payload"
// @Success     202   {object}  map[string]any
// @Failure     422   {object}  map[string]string
// @Router      /api/v1/notifications/bulk [post]
func (h *NotificationHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req domain.BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	results, err := h.svc.SendBulk(r.Context(), &req)
	if err != nil {
		mapError(w, err)
		return
	}

	queued := 0
	for _, res := range results {
		if res.Queued {
			queued++
		}
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"results": results,
		"total":   len(results),
		"queued":  queued,
	})
}

// GetByID handles GET /api/v1/notifications/{id}
//
// @Summary  Get a notification by ID
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  200  {object}  domain.Notification
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [get]
func (h *NotificationHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

// List handles GET /api/v1/notifications
//
// @Summary  List notifications with filtering and pagination
// @Tags     notifications
// @Produce  json
// @Param    status    query     string  false  "Filter by status"
// @Param    type      query     string  false  "Filter by notification type"
// @Param    priority  query     string  false  "Filter by priority"
// @Param    from      query     string  false  "Created after (RFC3339)"
// @Param    to        query     string  false  "Created before (RFC3339)"
// @Param    page      query     int     false  "Page number (default 1)"
// @Param    limit     query     int     false  "Items per page (default 20, max 100)"
// @Success  200       {object}  map[string]any
// @Router   /api/v1/notifications [get]
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	notifications, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  notifications,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Cancel handles DELETE /api/v1/notifications/{id}
//
// @Summary  Cancel a notification that has not started processing
// @Tags     notifications
// @Param    id   path      string  true  "Notification UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/notifications/{id} [delete]
func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deliveries handles GET /api/v1/notifications/{id}/deliveries
//
// @Summary  Per-recipient, per-channel delivery log for one notification
// @Tags     notifications
// @Produce  json
// @Param    id   path      string  true  "Notification UUID"
// @Success  200  {object}  map[string]any
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/notifications/{id}/deliveries [get]
func (h *NotificationHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Deliveries(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": len(entries),
	})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if typ := q.Get("type"); typ != "" {
		filter.Type = &typ
	}
	if p := q.Get("priority"); p != "" {
		pr := domain.Priority(p)
		filter.Priority = &pr
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
