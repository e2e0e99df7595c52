package handler

import (
	"net/http"

	"github.com/vowsuite/notify/internal/domain"
	"github.com/vowsuite/notify/internal/prefs"
	"github.com/vowsuite/notify/internal/queue"
)

// MetricsHandler serves a human-readable JSON snapshot of live state.
// Raw Prometheus metrics are available at /metrics via promhttp and are
// separate from this endpoint.
type MetricsHandler struct {
	lanes     *queue.Lanes
	prefCache *prefs.Cache
}

func NewMetricsHandler(lanes *queue.Lanes, prefCache *prefs.Cache) *MetricsHandler {
	return &MetricsHandler{lanes: lanes, prefCache: prefCache}
}

// GetMetrics handles GET /api/v1/metrics
//
// @Summary  Real-time lane depth snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /api/v1/metrics [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	depths := h.lanes.Depths()
	total := 0
	for _, d := range depths {
		total += d
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"lane_depth": map[string]int{
			string(domain.PriorityCritical): depths[domain.PriorityCritical.LaneIndex()],
			string(domain.PriorityHigh):     depths[domain.PriorityHigh.LaneIndex()],
			string(domain.PriorityMedium):   depths[domain.PriorityMedium.LaneIndex()],
			string(domain.PriorityLow):      depths[domain.PriorityLow.LaneIndex()],
			"total":                         total,
		},
		"preference_cache_entries": h.prefCache.Len(),
	})
}
