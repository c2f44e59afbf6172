package runtime

import (
	"github.com/pkg/errors"

	scripterrors "quill/internal/errors"
)

// ErrNotActive is returned when releasing a context the pool did not hand out
// or that was already released.
var ErrNotActive = errors.New("execution context is not active")

// ExecutionContext is the state of one active call frame.
type ExecutionContext struct {
	LexicalEnvironment  *Environment
	VariableEnvironment *Environment
	ThisBinding         Value
	// PoolSlot is stable for the lifetime of the pool.
	PoolSlot int

	Callee   string
	CallSite scripterrors.SourceLocation
	Depth    int
	Strict   bool

	active bool
}

// Active reports whether the context is currently acquired.
func (c *ExecutionContext) Active() bool { return c.active }

func (c *ExecutionContext) reset() {
	c.LexicalEnvironment = nil
	c.VariableEnvironment = nil
	c.ThisBinding = nil
	c.Callee = ""
	c.CallSite = scripterrors.SourceLocation{}
	c.Depth = 0
	c.Strict = false
	c.active = false
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Allocated int
	InUse     int
	Acquires  uint64
}

// ContextPool recycles execution contexts through a free-list of slot
// indices. A pool belongs to one engine and is not safe for concurrent use.
type ContextPool struct {
	slots    []*ExecutionContext
	free     []int
	inUse    int
	acquires uint64

	onGrow func(allocated int)
}

func NewContextPool(capacity int) *ContextPool {
	if capacity < 0 {
		capacity = 0
	}
	return &ContextPool{
		slots: make([]*ExecutionContext, 0, capacity),
		free:  make([]int, 0, capacity),
	}
}

// OnGrow registers a hook called whenever a new slot is allocated.
func (p *ContextPool) OnGrow(fn func(allocated int)) {
	p.onGrow = fn
}

// Acquire pops a free slot or grows the pool.
func (p *ContextPool) Acquire() *ExecutionContext {
	var ctx *ExecutionContext
	if n := len(p.free); n > 0 {
		idx := p.free[n-1]
		p.free = p.free[:n-1]
		ctx = p.slots[idx]
	} else {
		ctx = &ExecutionContext{PoolSlot: len(p.slots)}
		p.slots = append(p.slots, ctx)
		if p.onGrow != nil {
			p.onGrow(len(p.slots))
		}
	}
	ctx.active = true
	p.inUse++
	p.acquires++
	return ctx
}

// Release clears ctx and returns its slot to the free-list.
func (p *ContextPool) Release(ctx *ExecutionContext) error {
	if ctx == nil || !ctx.active || ctx.PoolSlot < 0 || ctx.PoolSlot >= len(p.slots) || p.slots[ctx.PoolSlot] != ctx {
		return ErrNotActive
	}
	ctx.reset()
	p.free = append(p.free, ctx.PoolSlot)
	p.inUse--
	return nil
}

func (p *ContextPool) InUse() int { return p.inUse }

func (p *ContextPool) Stats() PoolStats {
	return PoolStats{
		Allocated: len(p.slots),
		InUse:     p.inUse,
		Acquires:  p.acquires,
	}
}
