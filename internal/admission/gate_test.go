package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readyGate() *Gate {
	g := NewGate()
	g.MarkReady()
	return g
}

func TestTryAdmitBeforeReady(t *testing.T) {
	g := NewGate()

	ticket, err := g.TryAdmit()
	assert.Nil(t, ticket)
	assert.ErrorIs(t, err, ErrModelNotReady)
	assert.Equal(t, Idle, g.State())
}

func TestTryAdmitRejectsWhileBusy(t *testing.T) {
	g := readyGate()

	first, err := g.TryAdmit()
	require.NoError(t, err)
	assert.Equal(t, Busy, g.State())

	second, err := g.TryAdmit()
	assert.Nil(t, second)
	assert.ErrorIs(t, err, ErrBusy)

	first.Release()
	assert.Equal(t, Idle, g.State())

	third, err := g.TryAdmit()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), third.ID())
}

func TestConcurrentAdmissionGrantsOne(t *testing.T) {
	g := readyGate()

	const n = 64
	var (
		granted atomic.Int32
		busy    atomic.Int32
		wg      sync.WaitGroup
		start   = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := g.TryAdmit(); err == nil {
				granted.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrBusy)
				busy.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), granted.Load())
	assert.Equal(t, int32(n-1), busy.Load())
}

func TestAtMostOneOutstandingUnderChurn(t *testing.T) {
	g := readyGate()

	var (
		inside atomic.Int32
		wg     sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				ticket, err := g.TryAdmit()
				if err != nil {
					continue
				}
				if inside.Add(1) != 1 {
					t.Error("two tickets outstanding at once")
				}
				inside.Add(-1)
				ticket.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, Idle, g.State())
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := readyGate()

	stale, err := g.TryAdmit()
	require.NoError(t, err)
	stale.Release()
	stale.Release()

	fresh, err := g.TryAdmit()
	require.NoError(t, err)

	// a late duplicate release from the old request must not free the new one
	stale.Release()
	assert.Equal(t, Busy, g.State())

	_, err = g.TryAdmit()
	assert.ErrorIs(t, err, ErrBusy)

	fresh.Release()
	assert.Equal(t, Idle, g.State())
}

func TestHoldKeepsSlotBusy(t *testing.T) {
	g := readyGate()

	ticket, err := g.TryAdmit()
	require.NoError(t, err)
	done := ticket.Hold()

	ticket.Release()
	assert.Equal(t, Busy, g.State(), "worker still holds the ticket")

	_, err = g.TryAdmit()
	assert.ErrorIs(t, err, ErrBusy)

	done()
	done()
	assert.Equal(t, Idle, g.State())

	_, err = g.TryAdmit()
	assert.NoError(t, err)
}

func TestHoldReleasedFirst(t *testing.T) {
	g := readyGate()

	ticket, err := g.TryAdmit()
	require.NoError(t, err)
	done := ticket.Hold()

	done()
	assert.Equal(t, Busy, g.State())
	ticket.Release()
	assert.Equal(t, Idle, g.State())
}

func TestConcurrentReleasePaths(t *testing.T) {
	g := readyGate()

	for i := 0; i < 200; i++ {
		ticket, err := g.TryAdmit()
		require.NoError(t, err)
		done := ticket.Hold()

		var wg sync.WaitGroup
		for _, f := range []func(){ticket.Release, ticket.Release, done, done} {
			wg.Add(1)
			go func(f func()) {
				defer wg.Done()
				f()
			}(f)
		}
		wg.Wait()

		require.Equal(t, Idle, g.State())
	}
}

func TestSlotStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "busy", Busy.String())
}
