package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/region"
	"github.com/alanyoungcy/dayahead/internal/timeframe"
)

// PriceHandler serves the stored price timeline.
type PriceHandler struct {
	reader domain.PriceReader
	now    func() time.Time
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(reader domain.PriceReader, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{reader: reader, now: time.Now, logger: logger}
}

type priceResponse struct {
	domain.PriceBatch
	Expected int     `json:"expected"`
	Coverage float64 `json:"coverage"`
	Complete bool    `json:"complete"`
}

// GetPrices returns the best stored interval per slot for an area. Without
// from/to the area's current day-ahead window is used.
// GET /api/prices/{area}?from=&to=&exclude=
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	reg, err := region.Lookup(r.PathValue("area"))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownArea) {
			writeError(w, http.StatusNotFound, "unknown price area")
			return
		}
		writeError(w, http.StatusInternalServerError, "region lookup failed")
		return
	}

	window := timeframe.DayAhead(reg, h.now())
	from, ok, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		window.Start = from
	}
	to, ok, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok {
		window.End = to
	}
	if !window.Start.Before(window.End) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	excluding := domain.OriginNone
	if v := r.URL.Query().Get("exclude"); v != "" {
		if excluding, err = domain.ParseOrigin(v); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	batch, err := h.reader.ReadIntervals(r.Context(), window.Start, window.End, reg.Area, excluding)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read prices failed",
			slog.String("area", string(reg.Area)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read prices")
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		PriceBatch: batch,
		Expected:   batch.ExpectedCount(),
		Coverage:   batch.CoverageRatio(),
		Complete:   batch.HasCorrectPriceCount(),
	})
}
