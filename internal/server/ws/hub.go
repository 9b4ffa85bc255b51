// Package ws streams published price events to WebSocket clients. Each
// client picks the price areas and origins it wants, either on the connect
// URL (?area=NO1,SE3&origin=official) or later by sending a Filter message.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dayahead/internal/domain"
	"github.com/alanyoungcy/dayahead/internal/service"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFilterSize = 4096
	clientBuffer  = 64
)

// Frame types sent to clients.
const (
	FramePrices   = "prices"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are left to the API key middleware in front of /ws.
	CheckOrigin: func(*http.Request) bool { return true },
}

// StatusSource returns the last recorded run per area.
type StatusSource interface {
	All(ctx context.Context) (map[string]domain.RunStatus, error)
}

// Frame is the envelope of every message written to a client. Prices frames
// carry the published event as-is; snapshot frames carry the selected areas
// and their last run.
type Frame struct {
	Type  string                      `json:"type"`
	Event json.RawMessage             `json:"event,omitempty"`
	Areas []domain.PriceArea          `json:"areas,omitempty"`
	Runs  map[string]domain.RunStatus `json:"runs,omitempty"`
	Error string                      `json:"error,omitempty"`
}

// Filter is the message a client sends to change its selection. Empty lists
// select everything.
type Filter struct {
	Areas   []domain.PriceArea `json:"areas"`
	Origins []domain.Origin    `json:"origins"`
}

// selection is a validated Filter.
type selection struct {
	areas   map[domain.PriceArea]bool
	origins map[domain.Origin]bool
}

func (s selection) wants(area domain.PriceArea, origin domain.Origin) bool {
	if len(s.areas) > 0 && !s.areas[area] {
		return false
	}
	return len(s.origins) == 0 || s.origins[origin]
}

// Option configures a Hub.
type Option func(*Hub)

// WithStatus adds the last run per area to the snapshot frames.
func WithStatus(src StatusSource) Option {
	return func(h *Hub) { h.status = src }
}

// Hub relays the per-area price channels of the signal bus to WebSocket
// clients.
type Hub struct {
	bus    domain.SignalBus
	areas  []domain.PriceArea
	known  map[domain.PriceArea]bool
	status StatusSource
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub relaying events for areas.
func NewHub(bus domain.SignalBus, areas []domain.PriceArea, logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		bus:     bus,
		areas:   append([]domain.PriceArea(nil), areas...),
		known:   make(map[domain.PriceArea]bool, len(areas)),
		logger:  logger.With(slog.String("component", "ws")),
		clients: make(map[*client]struct{}),
	}
	for _, a := range areas {
		h.known[a] = true
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run subscribes to every area channel and relays events until ctx is
// cancelled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, area := range h.areas {
		g.Go(func() error {
			h.relay(gctx, area)
			return nil
		})
	}

	<-ctx.Done()
	h.shutdown()
	_ = g.Wait()
	return ctx.Err()
}

func (h *Hub) relay(ctx context.Context, area domain.PriceArea) {
	channel := service.PriceChannel(area)
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "subscribe to price channel failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.DebugContext(ctx, "relaying price channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "price channel closed", slog.String("channel", channel))
				return
			}
			h.dispatch(ctx, area, data)
		}
	}
}

// dispatch routes one bus payload to the clients whose selection matches its
// area and origin. Slow clients lose the event.
func (h *Hub) dispatch(ctx context.Context, area domain.PriceArea, data []byte) {
	var head struct {
		Area   domain.PriceArea `json:"area"`
		Origin domain.Origin    `json:"origin"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		h.logger.WarnContext(ctx, "dropping undecodable price event",
			slog.String("area", string(area)),
			slog.String("error", err.Error()),
		)
		return
	}
	if head.Area == "" {
		head.Area = area
	}

	frame, err := json.Marshal(Frame{Type: FramePrices, Event: data})
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.selection().wants(head.Area, head.Origin) {
			continue
		}
		if !c.push(frame) {
			h.logger.WarnContext(ctx, "client too slow, price event dropped",
				slog.String("area", string(head.Area)),
				slog.String("remote", c.conn.RemoteAddr().String()),
			)
		}
	}
}

// HandleWS upgrades the request and streams events matching the selection
// given in the area and origin query parameters.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sel, err := h.parseQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), sel: sel}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	h.deliver(c, h.snapshot(r.Context(), sel))

	go c.writeLoop()
	go h.readLoop(c)
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.logger.Debug("client connected", slog.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Debug("client disconnected", slog.Int("clients", len(h.clients)))
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// readLoop applies Filter messages until the connection fails.
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFilterSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}

		var f Filter
		if err := json.Unmarshal(msg, &f); err != nil {
			h.deliver(c, errorFrame("invalid filter: "+err.Error()))
			continue
		}
		sel, err := h.selectionFor(f)
		if err != nil {
			h.deliver(c, errorFrame(err.Error()))
			continue
		}
		c.setSelection(sel)
		h.deliver(c, h.snapshot(context.Background(), sel))
	}
}

// deliver queues frame for c unless c has already been removed.
func (h *Hub) deliver(c *client, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.push(frame)
	}
}

func errorFrame(msg string) []byte {
	buf, _ := json.Marshal(Frame{Type: FrameError, Error: msg})
	return buf
}

// snapshot lists the selected areas and their last recorded run.
func (h *Hub) snapshot(ctx context.Context, sel selection) []byte {
	f := Frame{Type: FrameSnapshot}
	for _, a := range h.areas {
		if len(sel.areas) == 0 || sel.areas[a] {
			f.Areas = append(f.Areas, a)
		}
	}

	if h.status != nil {
		runs, err := h.status.All(ctx)
		if err != nil {
			h.logger.WarnContext(ctx, "read run status for snapshot failed", slog.String("error", err.Error()))
		}
		for area, st := range runs {
			if len(sel.areas) > 0 && !sel.areas[domain.PriceArea(area)] {
				continue
			}
			if f.Runs == nil {
				f.Runs = make(map[string]domain.RunStatus)
			}
			f.Runs[area] = st
		}
	}

	buf, _ := json.Marshal(f)
	return buf
}

// parseQuery reads the area and origin parameters. Both accept repeated or
// comma-separated values.
func (h *Hub) parseQuery(q url.Values) (selection, error) {
	var f Filter
	for _, a := range splitValues(q["area"]) {
		f.Areas = append(f.Areas, domain.PriceArea(strings.ToUpper(a)))
	}
	for _, o := range splitValues(q["origin"]) {
		origin, err := domain.ParseOrigin(strings.ToLower(o))
		if err != nil {
			return selection{}, err
		}
		f.Origins = append(f.Origins, origin)
	}
	return h.selectionFor(f)
}

func (h *Hub) selectionFor(f Filter) (selection, error) {
	sel := selection{}
	for _, a := range f.Areas {
		if !h.known[a] {
			return selection{}, fmt.Errorf("area %q is not relayed", a)
		}
		if sel.areas == nil {
			sel.areas = make(map[domain.PriceArea]bool)
		}
		sel.areas[a] = true
	}
	for _, o := range f.Origins {
		if sel.origins == nil {
			sel.origins = make(map[domain.Origin]bool)
		}
		sel.origins[o] = true
	}
	return sel, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// client is one WebSocket connection. send is closed by the hub.
type client struct {
	conn *websocket.Conn
	send chan []byte

	mu  sync.RWMutex
	sel selection
}

func (c *client) selection() selection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sel
}

func (c *client) setSelection(sel selection) {
	c.mu.Lock()
	c.sel = sel
	c.mu.Unlock()
}

// push queues a frame without blocking. Callers hold the hub lock so send is
// still open.
func (c *client) push(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
