package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/region"
)

// ArchiveHandler lists archived price events.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	prefix func(domain.PriceArea) string
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. prefix maps an area to the
// key prefix its events are stored under.
func NewArchiveHandler(blobs domain.BlobReader, prefix func(domain.PriceArea) string, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, prefix: prefix, logger: logger}
}

// ListArchive returns the newest archived objects for an area first.
// GET /api/archive/{area}?limit=50
func (h *ArchiveHandler) ListArchive(w http.ResponseWriter, r *http.Request) {
	reg, err := region.Lookup(r.PathValue("area"))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownArea) {
			writeError(w, http.StatusNotFound, "unknown price area")
			return
		}
		writeError(w, http.StatusInternalServerError, "region lookup failed")
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	infos, err := h.blobs.List(r.Context(), h.prefix(reg.Area))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("area", string(reg.Area)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].LastModified.After(infos[j].LastModified) })
	total := len(infos)
	if opts.Offset >= len(infos) {
		infos = nil
	} else {
		infos = infos[opts.Offset:min(len(infos), opts.Offset+opts.Limit)]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"objects": infos,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// GetObject streams one archived event.
// GET /api/archive/{area}/object?path=prices/NO1/official/2024-01-02/<id>.json
func (h *ArchiveHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	reg, err := region.Lookup(r.PathValue("area"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown price area")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" || !strings.HasPrefix(path, h.prefix(reg.Area)) || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "path must name an object of this area")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "object not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get archive object failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read object")
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: stream archive object aborted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
