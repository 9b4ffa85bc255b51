package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

// StatusLister returns the last recorded run of every area.
type StatusLister interface {
	All(ctx context.Context) (map[string]domain.RunStatus, error)
}

// StatusHandler serves the service mode and last run per area.
type StatusHandler struct {
	mode      string
	store     StatusLister
	schedule  func() []time.Time
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. schedule may be nil when nothing
// is scheduled.
func NewStatusHandler(mode string, store StatusLister, schedule func() []time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		store:     store,
		schedule:  schedule,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// GetStatus responds with the mode, upcoming runs and the last run per area.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	all, err := h.store.All(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list run status failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read run status")
		return
	}

	runs := make([]domain.RunStatus, 0, len(all))
	for _, st := range all {
		runs = append(runs, st)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Area < runs[j].Area })

	var next []time.Time
	if h.schedule != nil {
		next = h.schedule()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       h.mode,
		"started_at": h.startedAt.Format(time.RFC3339),
		"next_runs":  next,
		"runs":       runs,
	})
}
