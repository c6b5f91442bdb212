package server

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTableSingleWriter(t *testing.T) {
	locks := newLockTable()

	require.True(t, locks.TryAcquire("a.txt", "c1"))
	assert.False(t, locks.TryAcquire("a.txt", "c2"))
	assert.True(t, locks.TryAcquire("a.txt", "c1"), "re-acquire by the owner is an idempotent grant")
	assert.Equal(t, 1, locks.Len())

	owner, held := locks.Owner("a.txt")
	require.True(t, held)
	assert.Equal(t, "c1", owner)

	locks.Release("a.txt")
	_, held = locks.Owner("a.txt")
	assert.False(t, held)

	assert.True(t, locks.TryAcquire("a.txt", "c2"))
}

func TestLockTableReleaseIdempotent(t *testing.T) {
	locks := newLockTable()

	locks.Release("never-held")
	require.True(t, locks.TryAcquire("f", "c1"))
	locks.Release("f")
	locks.Release("f")
	assert.Zero(t, locks.Len())
}

// Exactly one of N concurrent acquirers wins, for every round.
func TestLockTableConcurrentAcquire(t *testing.T) {
	locks := newLockTable()

	for round := 0; round < 50; round++ {
		const contenders = 8
		var wg sync.WaitGroup
		var winners sync.Map
		wins := 0
		var mu sync.Mutex

		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				if locks.TryAcquire("contended", string(rune('a'+id))) {
					winners.Store(id, true)
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins, "round %d", round)
		locks.Release("contended")
	}
}

func TestLockTableSnapshotIsCopy(t *testing.T) {
	locks := newLockTable()
	require.True(t, locks.TryAcquire("a", "c1"))

	snap := locks.Snapshot()
	snap["a"] = "tampered"

	owner, _ := locks.Owner("a")
	assert.Equal(t, "c1", owner)
}

func TestMutexTableStableIdentity(t *testing.T) {
	mutexes := newMutexTable()

	m1 := mutexes.GetOrCreate("f")
	m2 := mutexes.GetOrCreate("f")
	assert.Same(t, m1, m2)

	m3 := mutexes.GetOrCreate("g")
	assert.NotSame(t, m1, m3)
}

func TestMutexTablePreseed(t *testing.T) {
	mutexes := newMutexTable()
	mutexes.Preseed([]string{"a", "b"})

	m := mutexes.GetOrCreate("a")
	mutexes.Preseed([]string{"a"})
	assert.Same(t, m, mutexes.GetOrCreate("a"), "preseed must not replace existing mutexes")
}
