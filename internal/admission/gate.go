// Package admission guards the single transcription slot.
//
// A Gate hands out at most one Ticket at a time. Requests arriving while a
// ticket is outstanding are rejected immediately rather than queued: the work
// behind the slot is CPU bound, so waiting callers would only add latency.
package admission

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrModelNotReady = errors.New("model not loaded")
	ErrBusy          = errors.New("another transcription is in progress")
)

// SlotState is the observable state of the slot
type SlotState int

const (
	Idle SlotState = iota
	Busy
)

func (s SlotState) String() string {
	if s == Busy {
		return "busy"
	}
	return "idle"
}

// Gate tracks whether the slot is taken and who holds it
type Gate struct {
	mu      sync.Mutex
	current *Ticket
	nextID  uint64
	ready   atomic.Bool
}

// NewGate returns an idle gate that rejects everything until MarkReady
func NewGate() *Gate {
	return &Gate{}
}

// MarkReady opens the gate once the model has finished loading
func (g *Gate) MarkReady() {
	g.ready.Store(true)
}

// TryAdmit claims the slot without blocking.
func (g *Gate) TryAdmit() (*Ticket, error) {
	if !g.ready.Load() {
		return nil, ErrModelNotReady
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil {
		return nil, ErrBusy
	}

	g.nextID++
	t := &Ticket{id: g.nextID, gate: g}
	t.holders.Store(1)
	g.current = t
	return t, nil
}

// State reports Idle or Busy
func (g *Gate) State() SlotState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		return Busy
	}
	return Idle
}

// vacate frees the slot only if t still owns it
func (g *Gate) vacate(t *Ticket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == t {
		g.current = nil
	}
}

// Ticket is one request's claim on the slot. The slot is freed once every
// holder (the admitting caller plus anything registered via Hold) has
// released it.
type Ticket struct {
	id      uint64
	gate    *Gate
	holders atomic.Int32
	once    sync.Once
}

// ID is unique per gate
func (t *Ticket) ID() uint64 {
	return t.id
}

// Release drops the caller's hold. Safe to call any number of times.
func (t *Ticket) Release() {
	t.once.Do(t.drop)
}

// Hold registers an extra holder and returns its release func, which is
// also idempotent. Call it before the caller's Release can run.
func (t *Ticket) Hold() func() {
	t.holders.Add(1)
	var once sync.Once
	return func() {
		once.Do(t.drop)
	}
}

func (t *Ticket) drop() {
	if t.holders.Add(-1) == 0 {
		t.gate.vacate(t)
	}
}
