package gameserver

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ConnectionManager tracks all connections: the ones waiting for admission
// and the admitted ones, whichever scope owns them.
type ConnectionManager struct {
	limiter *rate.Limiter

	mu      sync.Mutex
	pending []*Connection
	conns   map[uuid.UUID]*Connection

	// global tick only
	rng *rand.Rand

	admitted atomic.Int64
	removed  atomic.Int64
}

// NewConnectionManager creates a manager admitting up to perSecond new
// connections per second with the given burst. perSecond <= 0 disables the limit.
func NewConnectionManager(perSecond float64, burst int) *ConnectionManager {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &ConnectionManager{
		limiter: rate.NewLimiter(limit, max(burst, 1)),
		conns:   make(map[uuid.UUID]*Connection, 256),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// Add queues conn for admission by the global tick. Safe for concurrent use.
func (cm *ConnectionManager) Add(conn Conn) *Connection {
	c := newConnection(conn)

	cm.mu.Lock()
	cm.pending = append(cm.pending, c)
	cm.mu.Unlock()

	slog.Debug("Connection queued", "connection", c.id)
	return c
}

// Get returns an admitted connection.
func (cm *ConnectionManager) Get(id uuid.UUID) (*Connection, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	c, ok := cm.conns[id]
	return c, ok
}

// Count returns the number of admitted connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.conns)
}

// Pending returns the number of connections waiting for admission.
func (cm *ConnectionManager) Pending() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.pending)
}

// Admitted returns the total number of admitted connections.
func (cm *ConnectionManager) Admitted() int64 {
	return cm.admitted.Load()
}

// Removed returns the total number of removed connections.
func (cm *ConnectionManager) Removed() int64 {
	return cm.removed.Load()
}

// admit moves queued connections in arrival order while the limiter allows.
func (cm *ConnectionManager) admit(now time.Time) int {
	cm.mu.Lock()
	n := 0
	for len(cm.pending) > 0 {
		c := cm.pending[0]
		if c.conn.Connected() && !cm.limiter.AllowN(now, 1) {
			break
		}
		cm.pending[0] = nil
		cm.pending = cm.pending[1:]
		if !c.conn.Connected() {
			c.removed.Store(true)
			cm.removed.Add(1)
			continue
		}
		cm.conns[c.id] = c
		n++
	}
	if len(cm.pending) == 0 {
		cm.pending = nil
	}
	cm.mu.Unlock()

	if n > 0 {
		cm.admitted.Add(int64(n))
		slog.Debug("Connections admitted", "count", n)
	}
	return n
}

func (cm *ConnectionManager) snapshot(owner Owner) []*Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	out := make([]*Connection, 0, len(cm.conns))
	for _, c := range cm.conns {
		if c.Owner() == owner {
			out = append(out, c)
		}
	}
	return out
}

func (cm *ConnectionManager) remove(c *Connection) {
	if !c.removed.CompareAndSwap(false, true) {
		return
	}

	cm.mu.Lock()
	delete(cm.conns, c.id)
	cm.mu.Unlock()

	cm.removed.Add(1)
	slog.Info("Connection removed", "connection", c.id, "online", time.Since(c.joinedAt).Round(time.Second))
}

// tickGlobal admits new connections and ticks the global-owned ones in a
// random order.
func (cm *ConnectionManager) tickGlobal(ctx context.Context, now time.Time) {
	cm.admit(now)

	conns := cm.snapshot(OwnerGlobal)
	cm.rng.Shuffle(len(conns), func(i, j int) {
		conns[i], conns[j] = conns[j], conns[i]
	})

	for _, c := range conns {
		if !c.tick(ctx) && c.Owner() == OwnerGlobal {
			cm.remove(c)
		}
	}
}

// tickFallback ticks region-owned connections whose region is not active.
// A dead connection is handed back to the global tick, which removes it.
func (cm *ConnectionManager) tickFallback(ctx context.Context) int {
	n := 0
	for _, c := range cm.snapshot(OwnerRegion) {
		b := c.owner.Load()
		if b == nil || b.active() {
			continue
		}
		n++
		if !c.tick(ctx) {
			c.owner.CompareAndSwap(b, nil)
		}
	}
	return n
}
