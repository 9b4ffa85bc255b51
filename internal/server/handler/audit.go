package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/region"
)

// AuditHandler serves the audit trail of published events.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

// ListAudit returns audit entries, newest first, optionally narrowed to one
// event type, one price area and a time range.
// GET /api/audit?event=price_event_published&area=NO1&since=2024-01-01T00:00:00Z&limit=50
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := auditOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

func auditOpts(r *http.Request) (domain.ListOpts, error) {
	opts, err := parseListOpts(r)
	if err != nil {
		return opts, err
	}
	opts.Event = r.URL.Query().Get("event")

	if v := r.URL.Query().Get("area"); v != "" {
		reg, err := region.Lookup(v)
		if err != nil {
			return opts, fmt.Errorf("unknown price area %q", v)
		}
		opts.Area = reg.Area
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		t, ok, err := parseTimeParam(r, name)
		if err != nil {
			return opts, err
		}
		if ok {
			*dst = &t
		}
	}
	return opts, nil
}
