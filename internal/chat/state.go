package chat

import (
	"errors"
	"sync"
)

var (
	// ErrExchangeInFlight is returned when a conversation already has an
	// exchange that has not finished.
	ErrExchangeInFlight = errors.New("a message is already being processed for this conversation")

	// ErrStaleExchange is returned when the conversation was reset while its
	// exchange was waiting for the agent; the reply is discarded.
	ErrStaleExchange = errors.New("conversation was reset before the agent replied")
)

// Phase is the per-conversation exchange state.
type Phase int

const (
	Idle Phase = iota
	Sending
	AwaitingReply
)

func (p Phase) String() string {
	switch p {
	case Sending:
		return "sending"
	case AwaitingReply:
		return "awaiting_reply"
	}
	return "idle"
}

type convState struct {
	phase      Phase
	generation uint64
}

// tracker holds the state of conversations with an exchange in flight on
// this process. Idle conversations are not stored. Generations come from a
// single process-wide counter.
type tracker struct {
	mu    sync.Mutex
	next  uint64
	convs map[string]*convState
}

func newTracker() *tracker {
	return &tracker{convs: make(map[string]*convState)}
}

// begin moves an idle conversation to Sending and returns the exchange's
// generation.
func (t *tracker) begin(key string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.convs[key]; ok {
		return 0, ErrExchangeInFlight
	}
	t.next++
	t.convs[key] = &convState{phase: Sending, generation: t.next}
	return t.next, nil
}

// advance moves the exchange of generation gen to AwaitingReply.
func (t *tracker) advance(key string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.convs[key]; ok && st.generation == gen && st.phase == Sending {
		st.phase = AwaitingReply
	}
}

// current reports whether the exchange of generation gen still owns the
// conversation.
func (t *tracker) current(key string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.convs[key]
	return ok && st.generation == gen
}

// finish returns the conversation to Idle if gen still owns it. A reset
// conversation is left alone.
func (t *tracker) finish(key string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.convs[key]; ok && st.generation == gen {
		delete(t.convs, key)
	}
}

// reset returns the conversation to Idle, orphaning any in-flight exchange.
func (t *tracker) reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.convs, key)
}

func (t *tracker) phase(key string) Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.convs[key]; ok {
		return st.phase
	}
	return Idle
}
