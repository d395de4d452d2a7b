package realtime

import (
	"errors"
	"sort"
	"sync"

	"quote_alert_backend/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrAtCapacity        = errors.New("server at capacity")
)

// ConnState is the lifecycle state of a connection
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Connection is one admitted subscriber.
// State and subscriptions are owned by the Registry and only change under its lock.
type Connection struct {
	ID       string
	UserID   uint
	Plan     string
	Entitled bool

	state      ConnState
	subscribed map[string]struct{}
	send       chan []byte

	closeCode   int
	closeReason string
}

// NewConnection creates a connection in the Connecting state
func NewConnection(userID uint, plan string, entitled bool, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 64
	}
	return &Connection{
		ID:         uuid.NewString(),
		UserID:     userID,
		Plan:       plan,
		Entitled:   entitled,
		state:      StateConnecting,
		subscribed: make(map[string]struct{}),
		send:       make(chan []byte, buffer),
		closeCode:  websocket.CloseNormalClosure,
	}
}

// Outbound returns the frames queued for the writer. It is closed when the
// connection is removed.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// enqueue must be called with the registry lock held
func (c *Connection) enqueue(frame []byte) bool {
	if c.state != StateOpen {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Registry owns the live connections and derives the global symbol set
type Registry struct {
	mu             sync.RWMutex
	conns          map[string]*Connection
	global         []string
	maxConnections int

	onChange func(nonEmpty bool)
}

// NewRegistry creates a registry admitting at most maxConnections (0 = unlimited)
func NewRegistry(maxConnections int) *Registry {
	return &Registry{
		conns:          make(map[string]*Connection),
		maxConnections: maxConnections,
	}
}

// OnSymbolsChanged registers fn to be called, outside the lock, whenever the
// global symbol set flips between empty and non-empty.
func (r *Registry) OnSymbolsChanged(fn func(nonEmpty bool)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Admit registers c and moves it to Open
func (r *Registry) Admit(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConnections > 0 && len(r.conns) >= r.maxConnections {
		return ErrAtCapacity
	}
	c.state = StateOpen
	r.conns[c.ID] = c
	return nil
}

// Remove closes and forgets a connection. It is safe to call more than once.
func (r *Registry) Remove(id string) bool {
	return r.removeWith(id, websocket.CloseNormalClosure, "")
}

func (r *Registry) removeWith(id string, code int, reason string) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, id)
	c.state = StateClosed
	c.closeCode = code
	c.closeReason = reason
	c.subscribed = make(map[string]struct{})
	close(c.send)
	notify := r.recompute()
	r.mu.Unlock()

	notify()
	return true
}

// CloseAll removes every connection with the given close code
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		if r.removeWith(id, code, reason) {
			closed++
		}
	}
	return closed
}

// Subscribe adds symbols to a connection's set and returns the ones that were new to it
func (r *Registry) Subscribe(id string, symbols []string) ([]string, error) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownConnection
	}

	added := make([]string, 0, len(symbols))
	for _, sym := range models.NormalizeSymbols(symbols) {
		if _, exists := c.subscribed[sym]; exists {
			continue
		}
		c.subscribed[sym] = struct{}{}
		added = append(added, sym)
	}
	notify := r.recompute()
	r.mu.Unlock()

	notify()
	return added, nil
}

// Unsubscribe removes symbols from a connection's set and returns the ones it held
func (r *Registry) Unsubscribe(id string, symbols []string) ([]string, error) {
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrUnknownConnection
	}

	removed := make([]string, 0, len(symbols))
	for _, sym := range models.NormalizeSymbols(symbols) {
		if _, exists := c.subscribed[sym]; !exists {
			continue
		}
		delete(c.subscribed, sym)
		removed = append(removed, sym)
	}
	notify := r.recompute()
	r.mu.Unlock()

	notify()
	return removed, nil
}

// recompute rebuilds the global set from every connection. It returns the
// listener call to make after the lock is released.
func (r *Registry) recompute() func() {
	wasEmpty := len(r.global) == 0

	union := make(map[string]struct{})
	for _, c := range r.conns {
		for sym := range c.subscribed {
			union[sym] = struct{}{}
		}
	}
	global := make([]string, 0, len(union))
	for sym := range union {
		global = append(global, sym)
	}
	sort.Strings(global)
	r.global = global

	nonEmpty := len(global) > 0
	if r.onChange == nil || wasEmpty == !nonEmpty {
		return func() {}
	}
	fn := r.onChange
	return func() { fn(nonEmpty) }
}

// GlobalSymbols returns the sorted union of all connections' subscriptions
func (r *Registry) GlobalSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.global))
	copy(out, r.global)
	return out
}

// Subscriptions returns the sorted symbol set of one connection
func (r *Registry) Subscriptions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.subscribed))
	for sym := range c.subscribed {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// State returns the lifecycle state of a connection
func (r *Registry) State(c *Connection) ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.state
}

// Count returns the number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send queues a frame for one connection. A full buffer removes the connection.
func (r *Registry) Send(id string, frame []byte) bool {
	r.mu.RLock()
	c, ok := r.conns[id]
	delivered := ok && c.enqueue(frame)
	r.mu.RUnlock()

	if ok && !delivered {
		r.Remove(id)
	}
	return delivered
}

// closeInfo returns the code the writer should send once Outbound is drained
func (r *Registry) closeInfo(c *Connection) (int, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return c.closeCode, c.closeReason
}
