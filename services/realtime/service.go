package realtime

import (
	"context"
	"log"
	"net/http"
	"time"

	"quote_alert_backend/middleware"
	"quote_alert_backend/models"
	"quote_alert_backend/services/entitlement"
	"quote_alert_backend/services/quotes"

	"github.com/gorilla/websocket"
)

// Connection tuning
const (
	WriteTimeout      = 10 * time.Second
	MaxMessageSize    = 64 * 1024
	SendBufferSize    = 64
	ForcedFetchWindow = 15 * time.Second
)

// Gatekeeper decides whether a presented identity may connect
type Gatekeeper interface {
	Check(ctx context.Context, identity string) entitlement.Decision
}

type rateLimitReporter interface {
	RateLimitedAt() time.Time
}

type planReporter interface {
	RequiredPlan() string
}

// Options configures a Service
type Options struct {
	PollInterval   time.Duration
	MaxConnections int
	SendBuffer     int
}

// Service streams quotes to entitled websocket subscribers
type Service struct {
	registry *Registry
	cache    *QuoteCache
	poller   *Poller
	provider quotes.Provider
	gate     Gatekeeper
	upgrader websocket.Upgrader
	opts     Options

	startedAt time.Time
}

// NewService wires the registry, cache and poller together
func NewService(provider quotes.Provider, gate Gatekeeper, opts Options) *Service {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = SendBufferSize
	}

	s := &Service{
		registry: NewRegistry(opts.MaxConnections),
		cache:    NewQuoteCache(),
		provider: provider,
		gate:     gate,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		startedAt: time.Now(),
	}
	s.poller = NewPoller(provider, s.cache, s.registry.GlobalSymbols, s.Broadcast, opts.PollInterval)
	s.registry.OnSymbolsChanged(func(nonEmpty bool) {
		if nonEmpty {
			s.poller.Ensure()
		}
	})

	log.Println("Realtime quote service initialized")
	return s
}

// Registry exposes the connection registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Poller exposes the quote poller
func (s *Service) Poller() *Poller {
	return s.poller
}

// Broadcast fans quotes out to subscribed connections
func (s *Service) Broadcast(batch []models.Quote) {
	s.registry.Broadcast(batch)
}

// HandleWebSocket upgrades the request, checks entitlement and admits the connection
func (s *Service) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("token")
	if identity == "" {
		identity = middleware.BearerToken(r)
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	decision := s.gate.Check(r.Context(), identity)
	if !decision.Admit {
		code := websocket.ClosePolicyViolation
		if decision.Internal {
			code = websocket.CloseInternalServerErr
		}
		closeWith(ws, code, decision.Reason)
		log.Printf("WebSocket connection refused: %s", decision.Reason)
		return
	}

	conn := NewConnection(decision.UserID, decision.Plan, true, s.opts.SendBuffer)
	if err := s.registry.Admit(conn); err != nil {
		closeWith(ws, websocket.CloseTryAgainLater, "Server at capacity")
		log.Printf("WebSocket client rejected: %v", err)
		return
	}
	log.Printf("WebSocket client connected (user %d). Total clients: %d", conn.UserID, s.registry.Count())

	s.registry.Send(conn.ID, ConnectedFrame())

	go s.writePump(conn, ws)
	go s.readPump(conn, ws)
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	ws.Close()
}

// writePump is the only writer of data frames on ws
func (s *Service) writePump(c *Connection, ws *websocket.Conn) {
	defer ws.Close()

	for frame := range c.Outbound() {
		ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("Warning: websocket write failed for %s: %v", c.ID, err)
			s.registry.Remove(c.ID)
			for range c.Outbound() {
			}
			return
		}
	}

	code, reason := s.registry.closeInfo(c)
	ws.SetWriteDeadline(time.Now().Add(WriteTimeout))
	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
}

func (s *Service) readPump(c *Connection, ws *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: websocket handler panic for %s: %v", c.ID, r)
			s.registry.removeWith(c.ID, websocket.CloseInternalServerErr, "internal error")
			return
		}
		if s.registry.Remove(c.ID) {
			log.Printf("WebSocket client disconnected. Total clients: %d", s.registry.Count())
		}
	}()

	ws.SetReadLimit(MaxMessageSize)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		s.handleMessage(c, data)
	}
}

func (s *Service) handleMessage(c *Connection, data []byte) {
	msg, err := ParseClientMessage(data)
	if err != nil {
		s.registry.Send(c.ID, ErrorFrame(err.Error()))
		return
	}

	switch m := msg.(type) {
	case SubscribeMessage:
		added, err := s.registry.Subscribe(c.ID, m.Symbols)
		if err != nil {
			return
		}
		s.registry.Send(c.ID, SubscribedFrame(m.Symbols))
		if len(added) > 0 {
			go s.prime(c.ID, added)
		}
	case UnsubscribeMessage:
		if _, err := s.registry.Unsubscribe(c.ID, m.Symbols); err != nil {
			return
		}
		s.registry.Send(c.ID, UnsubscribedFrame(m.Symbols))
	case PingMessage:
		s.registry.Send(c.ID, PongFrame())
	}
}

// prime fetches newly subscribed symbols right away. A moved price goes to
// every subscriber of the symbol, the new connection included, so the cache
// never holds a value some subscriber has not seen. An unmoved price goes to
// the new connection only.
func (s *Service) prime(id string, symbols []string) {
	ctx, cancel := context.WithTimeout(context.Background(), ForcedFetchWindow)
	defer cancel()

	changed, unchanged := s.poller.FetchForced(ctx, symbols)
	if len(changed) > 0 {
		s.registry.Broadcast(changed)
	}
	if len(unchanged) == 0 {
		return
	}
	frame, err := QuoteFrame(unchanged)
	if err != nil {
		log.Printf("Error marshaling quote frame: %v", err)
		return
	}
	s.registry.Send(id, frame)
}

// Shutdown stops polling and closes every connection normally
func (s *Service) Shutdown() {
	s.poller.Stop()
	closed := s.registry.CloseAll(websocket.CloseNormalClosure, "server shutting down")
	log.Printf("Realtime quote service shutdown complete (%d connections closed)", closed)
}

// GetStatus returns service status info
func (s *Service) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"is_polling":        s.poller.IsRunning(),
		"poller_starts":     s.poller.Starts(),
		"client_count":      s.registry.Count(),
		"max_clients":       s.opts.MaxConnections,
		"poll_interval_sec": int(s.poller.interval.Seconds()),
		"symbols":           s.registry.GlobalSymbols(),
		"cached_quotes":     s.cache.Len(),
		"uptime_sec":        int(time.Since(s.startedAt).Seconds()),
	}
	if last := s.poller.LastTick(); !last.IsZero() {
		status["last_tick"] = last.UTC().Format(time.RFC3339)
	}
	if rl, ok := s.provider.(rateLimitReporter); ok {
		if at := rl.RateLimitedAt(); !at.IsZero() {
			status["rate_limited_at"] = at.UTC().Format(time.RFC3339)
		}
	}
	if pr, ok := s.gate.(planReporter); ok {
		status["required_plan"] = pr.RequiredPlan()
	}
	return status
}
