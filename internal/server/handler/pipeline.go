package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/region"
)

const maxTriggerBody = 4 << 10

// PipelineHandler accepts manual run requests and hands them to the daemon.
type PipelineHandler struct {
	logger   *slog.Logger
	triggers chan<- domain.RunRequest
	areas    []domain.PriceArea
	now      func() time.Time
}

func NewPipelineHandler(logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{logger: logger, now: time.Now}
}

// WithTriggerChannel enables triggering. Requested areas must be among areas.
func (h *PipelineHandler) WithTriggerChannel(ch chan<- domain.RunRequest, areas []domain.PriceArea) *PipelineHandler {
	h.triggers = ch
	h.areas = areas
	return h
}

// TriggerPipeline queues one run. The job and areas come from a JSON body
// ({"job":"unofficial","areas":["NO1"]}) or from job and area query
// parameters. Only one request can be pending at a time.
// POST /api/pipeline/trigger
func (h *PipelineHandler) TriggerPipeline(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline trigger not available in this mode")
		return
	}
	req, err := h.runRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	select {
	case h.triggers <- req:
	default:
		writeError(w, http.StatusConflict, "a manual run is already pending")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: manual run queued",
		slog.String("job", req.Job),
		slog.Int("areas", len(req.Areas)),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"job":          req.Job,
		"areas":        req.Areas,
		"requested_at": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *PipelineHandler) runRequest(r *http.Request) (domain.RunRequest, error) {
	var body struct {
		Job   string   `json:"job"`
		Areas []string `json:"areas"`
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxTriggerBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return domain.RunRequest{}, fmt.Errorf("invalid request body: %w", err)
	}

	q := r.URL.Query()
	if body.Job == "" {
		body.Job = q.Get("job")
	}
	if len(body.Areas) == 0 {
		for _, v := range q["area"] {
			body.Areas = append(body.Areas, strings.Split(v, ",")...)
		}
	}

	req := domain.RunRequest{Job: body.Job}
	switch req.Job {
	case "":
		req.Job = domain.JobPrices
	case domain.JobPrices, domain.JobUnofficial:
	default:
		return req, fmt.Errorf("unknown job %q", req.Job)
	}

	for _, a := range body.Areas {
		reg, err := region.Lookup(a)
		if err != nil || !slices.Contains(h.areas, reg.Area) {
			return req, fmt.Errorf("price area %q is not configured", a)
		}
		if !slices.Contains(req.Areas, reg.Area) {
			req.Areas = append(req.Areas, reg.Area)
		}
	}
	return req, nil
}
