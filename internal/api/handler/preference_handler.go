package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/service"
)

// PreferenceHandler serves per-user notification preferences.
type PreferenceHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewPreferenceHandler(svc *service.NotificationService, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{svc: svc, logger: logger}
}

// Get handles GET /api/v1/users/{id}/preferences
//
// @Summary  Get a user's notification preferences
// @Tags     preferences
// @Produce  json
// @Param    id   path      string  true  "User ID"
// @Success  200  {object}  domain.Preference
// @Router   /api/v1/users/{id}/preferences [get]
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPreferences(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Update handles PUT /api/v1/users/{id}/preferences
//
// @Summary  Replace a user's notification preferences
// @Tags     preferences
// @Accept   json
// @Produce  json
// @Param    id    path      string             true  "User ID"
// @Param    body  body      domain.Preference  true  "Preferences"
// @Success  200   {object}  domain.Preference
// @Router   /api/v1/users/{id}/preferences [put]
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var p domain.Preference
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// The path, not the body, decides whose preferences change.
	p.UserID = chi.URLParam(r, "id")

	if err := h.svc.UpdatePreferences(r.Context(), &p); err != nil {
		h.logger.Warn("preference update failed",
			zap.String("user_id", p.UserID), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &p)
}
