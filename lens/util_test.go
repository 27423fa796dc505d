package lens

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrGroupLimitCPU(t *testing.T) {
	t.Parallel()

	eg := ErrGroupLimitCPU()
	var count atomic.Int32
	for i := 0; i < 32; i++ {
		eg.Go(func() error {
			count.Add(1)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Equal(t, int32(32), count.Load())
}

func TestStripedMutex(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	measure := func(sm *stripedMutex, keyFor func(i int) string) int {
		var mu sync.Mutex
		var running, maxRunning int
		const goroutines = 20
		var wg sync.WaitGroup
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(k string) {
				defer wg.Done()
				l := sm.Lock(k)
				defer l.Unlock()

				mu.Lock()
				running++
				maxRunning = max(maxRunning, running)
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
			}(keyFor(i))
		}
		wg.Wait()
		return maxRunning
	}

	t.Run("same_key_exclusive", func(t *testing.T) {
		t.Parallel()
		sm := newStripedMutex(8)
		assert.Equal(t, 1, measure(sm, func(int) string { return "file.go" }))
	})

	t.Run("different_stripes_concurrent", func(t *testing.T) {
		t.Parallel()
		sm := newStripedMutex(8)
		keyA, keyB := "a.go", "b.go"
		for sm.getLock(keyA) == sm.getLock(keyB) {
			keyB += "x"
		}
		maxRunning := measure(sm, func(i int) string {
			if i%2 == 0 {
				return keyA
			}
			return keyB
		})
		assert.Greater(t, maxRunning, 1)
	})
}
