package gameserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/regionized/internal/regionizer"
)

// Conn is the transport side of a connection.
type Conn interface {
	// Tick processes buffered input and flushes output. It must not block.
	Tick(ctx context.Context) error
	Connected() bool
	Disconnect(reason string)
}

// Owner is the scope that ticks a connection.
type Owner int

const (
	OwnerGlobal Owner = iota
	OwnerRegion
)

func (o Owner) String() string {
	switch o {
	case OwnerGlobal:
		return "global"
	case OwnerRegion:
		return "region"
	default:
		return fmt.Sprintf("Owner(%d)", int(o))
	}
}

// binding pins a connection to a cell of a world.
type binding struct {
	world        *worldEntry
	cellX, cellZ int32
}

// active reports whether a region currently ticks the bound cell.
func (b *binding) active() bool {
	r := b.world.world.Regions().Regionizer().RegionAtCell(b.cellX, b.cellZ)
	if r == nil {
		return false
	}
	st := r.State()
	return st == regionizer.StateReady || st == regionizer.StateTicking
}

// Connection is one client of the server.
//
// A connection is owned by a region exactly while its binding is set, and by
// the global tick otherwise. Only the current owner may transfer it.
type Connection struct {
	id       uuid.UUID
	conn     Conn
	joinedAt time.Time

	owner   atomic.Pointer[binding]
	busy    atomic.Bool
	removed atomic.Bool
}

func newConnection(conn Conn) *Connection {
	return &Connection{
		id:       uuid.New(),
		conn:     conn,
		joinedAt: time.Now(),
	}
}

// ID returns the connection id.
func (c *Connection) ID() uuid.UUID {
	return c.id
}

// Conn returns the transport.
func (c *Connection) Conn() Conn {
	return c.conn
}

// JoinedAt returns when the connection was queued for admission.
func (c *Connection) JoinedAt() time.Time {
	return c.joinedAt
}

// Owner returns the scope currently ticking the connection.
func (c *Connection) Owner() Owner {
	if c.owner.Load() == nil {
		return OwnerGlobal
	}
	return OwnerRegion
}

// Location returns the world and cell of a region-owned connection.
func (c *Connection) Location() (world string, cellX, cellZ int32, ok bool) {
	b := c.owner.Load()
	if b == nil {
		return "", 0, 0, false
	}
	return b.world.world.Name(), b.cellX, b.cellZ, true
}

// ReturnToGlobal gives the connection back to the global tick.
func (c *Connection) ReturnToGlobal() {
	c.owner.Store(nil)
}

// Removed reports whether the connection was dropped from the server.
func (c *Connection) Removed() bool {
	return c.removed.Load()
}

// tick runs one tick of the connection unless another goroutine is already
// ticking it. Returns false once the connection is gone.
func (c *Connection) tick(ctx context.Context) (alive bool) {
	if !c.busy.CompareAndSwap(false, true) {
		return true
	}
	defer c.busy.Store(false)

	if !c.conn.Connected() {
		return false
	}

	if err := c.safeTick(ctx); err != nil {
		slog.Warn("Connection tick failed, disconnecting",
			"connection", c.id,
			"owner", c.Owner(),
			"error", err)
		c.conn.Disconnect("internal server error")
		return false
	}
	return c.conn.Connected()
}

func (c *Connection) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.conn.Tick(ctx)
}
