package runtime

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	pool := NewContextPool(0)
	var grown []int
	pool.OnGrow(func(n int) { grown = append(grown, n) })

	a := pool.Acquire()
	b := pool.Acquire()
	assert.NotEqual(t, a.PoolSlot, b.PoolSlot)
	assert.Equal(t, []int{1, 2}, grown)

	env := NewGlobal()
	a.LexicalEnvironment = env
	a.VariableEnvironment = env
	a.ThisBinding = NewObject()
	a.Callee = "f"

	require.NoError(t, pool.Release(a))
	assert.Nil(t, a.LexicalEnvironment)
	assert.Nil(t, a.VariableEnvironment)
	assert.Nil(t, a.ThisBinding)
	assert.Empty(t, a.Callee)

	c := pool.Acquire()
	assert.Same(t, a, c, "free slot is reused")
	assert.Len(t, grown, 2)

	stats := pool.Stats()
	assert.Equal(t, PoolStats{Allocated: 2, InUse: 2, Acquires: 3}, stats)
}

func TestReleaseNotActive(t *testing.T) {
	pool := NewContextPool(4)
	ctx := pool.Acquire()
	require.NoError(t, pool.Release(ctx))
	assert.ErrorIs(t, pool.Release(ctx), ErrNotActive)
	assert.ErrorIs(t, pool.Release(nil), ErrNotActive)

	other := NewContextPool(0).Acquire()
	assert.ErrorIs(t, pool.Release(other), ErrNotActive)
	assert.Zero(t, pool.InUse())
}

func TestSlotsNeverShared(t *testing.T) {
	pool := NewContextPool(0)
	rng := rand.New(rand.NewSource(42))
	active := map[int]*ExecutionContext{}

	for i := 0; i < 2000; i++ {
		if len(active) == 0 || rng.Intn(3) > 0 {
			ctx := pool.Acquire()
			_, dup := active[ctx.PoolSlot]
			require.False(t, dup, "slot %d handed out twice", ctx.PoolSlot)
			require.Nil(t, ctx.LexicalEnvironment)
			require.Nil(t, ctx.ThisBinding)
			ctx.LexicalEnvironment = NewGlobal()
			ctx.ThisBinding = Number(i)
			active[ctx.PoolSlot] = ctx
			continue
		}
		for slot, ctx := range active {
			require.NoError(t, pool.Release(ctx))
			delete(active, slot)
			break
		}
	}
	assert.Equal(t, len(active), pool.InUse())
	assert.LessOrEqual(t, uint64(pool.Stats().Allocated), pool.Stats().Acquires)
}
