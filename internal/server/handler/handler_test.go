package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dayahead/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// serve routes a single request through a mux so path values are populated.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type stubReader struct {
	batch     domain.PriceBatch
	err       error
	start     time.Time
	end       time.Time
	area      domain.PriceArea
	excluding domain.Origin
}

func (s *stubReader) ReadIntervals(_ context.Context, start, end time.Time, area domain.PriceArea, excluding domain.Origin) (domain.PriceBatch, error) {
	s.start, s.end, s.area, s.excluding = start, end, area, excluding
	if s.err != nil {
		return domain.PriceBatch{}, s.err
	}
	if s.batch.Area == "" {
		return domain.EmptyBatch(area, start, end, "MWh", "NOK"), nil
	}
	return s.batch, nil
}

func TestGetPricesDefaultsToDayAheadWindow(t *testing.T) {
	reader := &stubReader{}
	h := NewPriceHandler(reader, discard())
	h.now = func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }

	req := httptest.NewRequest(http.MethodGet, "/api/prices/no1", nil)
	rec := serve("GET /api/prices/{area}", h.GetPrices, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PriceArea("NO1"), reader.area)
	assert.Equal(t, domain.OriginNone, reader.excluding)
	assert.True(t, reader.start.Before(reader.end))
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["complete"])
}

func TestGetPricesExplicitWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	iv, err := domain.NewPriceInterval(start, start.Add(time.Hour), decimal.NewFromInt(42), "MWh", "NOK")
	require.NoError(t, err)
	batch, err := domain.NewPriceBatch("NO1", domain.OriginOfficial, start, start.Add(time.Hour), "MWh", "NOK", []domain.PriceInterval{iv})
	require.NoError(t, err)
	reader := &stubReader{batch: batch}
	h := NewPriceHandler(reader, discard())

	req := httptest.NewRequest(http.MethodGet,
		"/api/prices/NO1?from=2024-01-01T00:00:00Z&to=2024-01-01T01:00:00Z&exclude=official", nil)
	rec := serve("GET /api/prices/{area}", h.GetPrices, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, start, reader.start)
	assert.Equal(t, start.Add(time.Hour), reader.end)
	assert.Equal(t, domain.OriginOfficial, reader.excluding)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["complete"])
	assert.EqualValues(t, 1, body["expected"])
	assert.Len(t, body["intervals"], 1)
}

func TestGetPricesRejectsBadInput(t *testing.T) {
	h := NewPriceHandler(&stubReader{}, discard())

	cases := map[string]int{
		"/api/prices/XX":                 http.StatusNotFound,
		"/api/prices/NO1?from=yesterday": http.StatusBadRequest,
		"/api/prices/NO1?exclude=bogus":  http.StatusBadRequest,
		"/api/prices/NO1?from=2024-01-02T00:00:00Z&to=2024-01-01T00:00:00Z": http.StatusBadRequest,
	}
	for target, want := range cases {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := serve("GET /api/prices/{area}", h.GetPrices, req)
		assert.Equal(t, want, rec.Code, target)
	}
}

func TestGetPricesStoreError(t *testing.T) {
	h := NewPriceHandler(&stubReader{err: errors.New("db down")}, discard())
	req := httptest.NewRequest(http.MethodGet, "/api/prices/NO1", nil)
	rec := serve("GET /api/prices/{area}", h.GetPrices, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok}, discard()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	NewHealthHandler(map[string]Pinger{"postgres": ok, "redis": down}, discard()).
		HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["redis"])
}

type stubStatus map[string]domain.RunStatus

func (s stubStatus) All(context.Context) (map[string]domain.RunStatus, error) { return s, nil }

func TestGetStatusSortsRuns(t *testing.T) {
	next := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	h := NewStatusHandler("daemon", stubStatus{
		"SE3": {Area: "SE3", Stage: "official", Complete: true},
		"NO1": {Area: "NO1", Stage: "generated", Complete: false},
	}, func() []time.Time { return []time.Time{next} }, discard())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "daemon", body["mode"])
	runs := body["runs"].([]any)
	require.Len(t, runs, 2)
	assert.Equal(t, "NO1", runs[0].(map[string]any)["area"])
	assert.Equal(t, "SE3", runs[1].(map[string]any)["area"])
	assert.Equal(t, []any{"2024-01-01T12:00:00Z"}, body["next_runs"])
}

func TestTriggerPipeline(t *testing.T) {
	rec := httptest.NewRecorder()
	NewPipelineHandler(discard()).TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ch := make(chan domain.RunRequest, 1)
	h := NewPipelineHandler(discard()).WithTriggerChannel(ch, []domain.PriceArea{"NO1", "SE3"})

	rec = httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "prices", body["job"])
	assert.Equal(t, domain.RunRequest{Job: domain.JobPrices}, <-ch)

	rec = httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost,
		"/api/pipeline/trigger", strings.NewReader(`{"job":"unofficial","areas":["se3","NO1","SE3"]}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.RunRequest{Job: domain.JobUnofficial, Areas: []domain.PriceArea{"SE3", "NO1"}}, <-ch)
}

func TestTriggerPipelineQueryParams(t *testing.T) {
	ch := make(chan domain.RunRequest, 1)
	h := NewPipelineHandler(discard()).WithTriggerChannel(ch, []domain.PriceArea{"NO1", "SE3"})

	rec := httptest.NewRecorder()
	h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, "/api/pipeline/trigger?job=unofficial&area=NO1,se3", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []domain.PriceArea{"NO1", "SE3"}, (<-ch).Areas)
}

func TestTriggerPipelineRejectsBadRequests(t *testing.T) {
	ch := make(chan domain.RunRequest, 1)
	h := NewPipelineHandler(discard()).WithTriggerChannel(ch, []domain.PriceArea{"NO1"})

	cases := map[string]struct {
		target string
		body   string
	}{
		"unknown job":         {target: "/api/pipeline/trigger?job=backfill"},
		"unknown area":        {target: "/api/pipeline/trigger?area=XX"},
		"unconfigured area":   {target: "/api/pipeline/trigger?area=SE3"},
		"malformed body":      {target: "/api/pipeline/trigger", body: `{"job":`},
		"unknown body fields": {target: "/api/pipeline/trigger", body: `{"jobs":"prices"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.TriggerPipeline(rec, httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, ch)
}

func TestListOptsValidation(t *testing.T) {
	h := NewAuditHandler(&stubAudit{}, discard())
	for _, q := range []string{"limit=abc", "limit=0", "offset=-1"} {
		rec := httptest.NewRecorder()
		h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

type stubBus struct {
	domain.SignalBus
	msgs   []domain.StreamMessage
	lastID string
	count  int
}

func (b *stubBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.lastID, b.count = lastID, count
	return b.msgs, nil
}

func TestListEvents(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := domain.NewPriceEvent(domain.EmptyBatch("NO1", start, start.Add(time.Hour), "MWh", "NOK"),
		domain.OriginOfficial, time.Time{}, start)
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	bus := &stubBus{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: payload},
		{ID: "2-0", Payload: []byte("not json")},
	}}
	h := NewEventsHandler(bus, "prices", discard())

	rec := httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?count=1000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", bus.lastID)
	assert.Equal(t, 500, bus.count)

	body := decodeBody(t, rec)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, "2-0", body["next"])

	rec = httptest.NewRecorder()
	h.ListEvents(rec, httptest.NewRequest(http.MethodGet, "/api/events?count=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubAudit struct {
	domain.AuditStore
	opts domain.ListOpts
}

func (s *stubAudit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.opts = opts
	return nil, nil
}

func TestListAuditPagination(t *testing.T) {
	audit := &stubAudit{}
	rec := httptest.NewRecorder()
	NewAuditHandler(audit, discard()).
		ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit?limit=9999&offset=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, audit.opts.Limit)
	assert.Equal(t, 10, audit.opts.Offset)
	assert.Equal(t, []any{}, decodeBody(t, rec)["entries"])
}

func TestListAuditFilters(t *testing.T) {
	audit := &stubAudit{}
	h := NewAuditHandler(audit, discard())

	rec := httptest.NewRecorder()
	h.ListAudit(rec, httptest.NewRequest(http.MethodGet,
		"/api/audit?event=price_event_published&area=no1&since=2024-01-01T00:00:00Z", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "price_event_published", audit.opts.Event)
	assert.Equal(t, domain.PriceArea("NO1"), audit.opts.Area)
	require.NotNil(t, audit.opts.Since)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *audit.opts.Since)
	assert.Nil(t, audit.opts.Until)

	for _, q := range []string{"?area=XX9", "?until=yesterday"} {
		rec = httptest.NewRecorder()
		h.ListAudit(rec, httptest.NewRequest(http.MethodGet, "/api/audit"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

type stubBlobs struct {
	infos   []domain.BlobInfo
	objects map[string]string
	prefix  string
}

func (s *stubBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := s.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *stubBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.prefix = prefix
	return s.infos, nil
}

func areaPrefix(a domain.PriceArea) string { return "prices/" + string(a) + "/" }

func TestListArchiveNewestFirst(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	blobs := &stubBlobs{infos: []domain.BlobInfo{
		{Path: "prices/NO1/a.json", LastModified: old},
		{Path: "prices/NO1/b.json", LastModified: old.Add(time.Hour)},
		{Path: "prices/NO1/c.json", LastModified: old.Add(2 * time.Hour)},
	}}
	h := NewArchiveHandler(blobs, areaPrefix, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/archive/NO1?limit=2", nil)
	rec := serve("GET /api/archive/{area}", h.ListArchive, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "prices/NO1/", blobs.prefix)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 3, body["total"])
	objects := body["objects"].([]any)
	require.Len(t, objects, 2)
	assert.Equal(t, "prices/NO1/c.json", objects[0].(map[string]any)["path"])
}

func TestGetArchiveObject(t *testing.T) {
	blobs := &stubBlobs{objects: map[string]string{"prices/NO1/x.json": `{"id":"x"}`}}
	h := NewArchiveHandler(blobs, areaPrefix, discard())
	const pattern = "GET /api/archive/{area}/object"

	rec := serve(pattern, h.GetObject, httptest.NewRequest(http.MethodGet, "/api/archive/NO1/object?path=prices/NO1/x.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"x"}`, rec.Body.String())

	rec = serve(pattern, h.GetObject, httptest.NewRequest(http.MethodGet, "/api/archive/NO1/object?path=prices/NO1/y.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(pattern, h.GetObject, httptest.NewRequest(http.MethodGet, "/api/archive/NO1/object?path=prices/SE3/x.json", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
