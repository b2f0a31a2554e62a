package gameserver

import (
	"sync/atomic"

	"github.com/udisondev/regionized/internal/sched"
)

// globalTick is the schedulable owner of the global handle: world-wide state
// no region owns. It is never merged or deactivated.
type globalTick struct {
	srv     *Server
	ticking atomic.Bool
}

// TryMarkTicking implements sched.Tickable.
func (g *globalTick) TryMarkTicking(abort func() bool) bool {
	if abort() {
		return false
	}
	return g.ticking.CompareAndSwap(false, true)
}

// MarkNotTicking implements sched.Tickable.
func (g *globalTick) MarkNotTicking() bool {
	g.ticking.Store(false)
	return true
}

// Tick implements sched.Tickable.
func (g *globalTick) Tick(_ *sched.Handle, tickCount int, _, _ int64) {
	g.srv.tickGlobal(tickCount)
}

// RunTasks implements sched.Tickable.
func (g *globalTick) RunTasks(canContinue func() bool) bool {
	return g.srv.tasks.Drain(g.srv.context(), canContinue)
}

// HasTasks implements sched.Tickable.
func (g *globalTick) HasTasks() bool {
	return g.srv.tasks.HasTasks()
}
