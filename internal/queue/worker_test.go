package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/whisper-service/internal/admission"
	"github.com/codebuildervaibhav/whisper-service/internal/types"
)

func newTestSlot(t *testing.T) (*Slot, *admission.Gate) {
	t.Helper()
	s := NewSlot(zap.NewNop())
	s.Start()
	t.Cleanup(s.Stop)

	g := admission.NewGate()
	g.MarkReady()
	return s, g
}

func admit(t *testing.T, g *admission.Gate) *admission.Ticket {
	t.Helper()
	ticket, err := g.TryAdmit()
	require.NoError(t, err)
	return ticket
}

func TestRunReturnsResultUnchanged(t *testing.T) {
	s, g := newTestSlot(t)
	want := &types.TranscriptionResult{
		Text:     "hello world",
		Language: "en",
		Duration: 1.5,
		Segments: []types.Segment{{Start: 0, End: 0.7, Text: "hello"}, {Start: 0.7, End: 1.5, Text: "world"}},
	}

	ticket := admit(t, g)
	got, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
		return want, nil
	}, time.Second)
	ticket.Release()

	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, 5*time.Millisecond)
}

func TestRunWrapsJobError(t *testing.T) {
	s, g := newTestSlot(t)
	cause := errors.New("invalid data found when processing input")

	ticket := admit(t, g)
	_, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
		return nil, cause
	}, time.Second)
	ticket.Release()

	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, cause.Error(), terr.Reason)
	assert.ErrorIs(t, err, cause)
	assert.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, 5*time.Millisecond)
}

func TestRunRecoversPanic(t *testing.T) {
	s, g := newTestSlot(t)

	ticket := admit(t, g)
	_, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
		panic("decoder exploded")
	}, time.Second)
	ticket.Release()

	var terr *TranscriptionError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Reason, "decoder exploded")
	assert.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, 5*time.Millisecond)

	// the worker survives the panic
	next := admit(t, g)
	_, err = s.Run(context.Background(), next, func(context.Context) (*types.TranscriptionResult, error) {
		return &types.TranscriptionResult{}, nil
	}, time.Second)
	next.Release()
	assert.NoError(t, err)
}

func TestRunDeadlineIsDetachedFromWork(t *testing.T) {
	s, g := newTestSlot(t)

	const timeout = 50 * time.Millisecond
	unblock := make(chan struct{})
	var finished atomic.Bool

	ticket := admit(t, g)
	start := time.Now()
	_, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
		<-unblock
		finished.Store(true)
		return &types.TranscriptionResult{Text: "late"}, nil
	}, timeout)
	elapsed := time.Since(start)
	ticket.Release()

	assert.ErrorIs(t, err, ErrDeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+500*time.Millisecond)

	// the stale job still owns the slot
	assert.Equal(t, admission.Busy, g.State())
	_, err = g.TryAdmit()
	assert.ErrorIs(t, err, admission.ErrBusy)

	close(unblock)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, 5*time.Millisecond)

	next := admit(t, g)
	res, err := s.Run(context.Background(), next, func(context.Context) (*types.TranscriptionResult, error) {
		return &types.TranscriptionResult{Text: "next"}, nil
	}, time.Second)
	next.Release()
	require.NoError(t, err)
	assert.Equal(t, "next", res.Text)
}

func TestRunCallerContextCancelled(t *testing.T) {
	s, g := newTestSlot(t)

	ctx, cancel := context.WithCancel(context.Background())
	unblock := make(chan struct{})

	ticket := admit(t, g)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := s.Run(ctx, ticket, func(context.Context) (*types.TranscriptionResult, error) {
		<-unblock
		return nil, nil
	}, time.Minute)
	ticket.Release()

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, admission.Busy, g.State())

	close(unblock)
	assert.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, 5*time.Millisecond)
}

func TestRunAfterStop(t *testing.T) {
	s := NewSlot(zap.NewNop())
	s.Start()
	s.Stop()

	g := admission.NewGate()
	g.MarkReady()

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		ticket := admit(t, g)
		_, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
			ran.Add(1)
			return &types.TranscriptionResult{}, nil
		}, time.Second)
		ticket.Release()

		require.ErrorIs(t, err, ErrSlotClosed)
		require.Equal(t, admission.Idle, g.State())
	}
	assert.Zero(t, ran.Load())
}

func TestJobsAreSerialized(t *testing.T) {
	s, g := newTestSlot(t)

	var running, overlap atomic.Int32
	for i := 0; i < 20; i++ {
		ticket := admit(t, g)
		_, err := s.Run(context.Background(), ticket, func(context.Context) (*types.TranscriptionResult, error) {
			if running.Add(1) > 1 {
				overlap.Add(1)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			return &types.TranscriptionResult{}, nil
		}, time.Second)
		ticket.Release()
		require.NoError(t, err)
		require.Eventually(t, func() bool { return g.State() == admission.Idle }, time.Second, time.Millisecond)
	}
	assert.Zero(t, overlap.Load())
}
