package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/service"
)

// AdminHandler serves operational endpoints that change runtime state.
type AdminHandler struct {
	svc    *service.NotificationService
	logger *zap.Logger
}

func NewAdminHandler(svc *service.NotificationService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, logger: logger}
}

// ReloadRules handles POST /api/v1/rules/reload
//
// @Summary  Reload routing rules across the fleet
// @Tags     admin
// @Produce  json
// @Success  200  {object}  map[string]string
// @Router   /api/v1/rules/reload [post]
func (h *AdminHandler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReloadRules(r.Context()); err != nil {
		h.logger.Error("rules reload failed", zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
