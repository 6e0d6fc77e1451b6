package replication

import (
	"sync"
)

type deliveryState int

const (
	statePending deliveryState = iota
	stateAcked
	stateFailed
)

func (s deliveryState) String() string {
	switch s {
	case stateAcked:
		return "acknowledged"
	case stateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// ackGate counts acknowledgments for one submission and releases the
// waiter once the write concern is met or can no longer be met.
// Acknowledgments recorded after decide are reported as late.
type ackGate struct {
	mu      sync.Mutex
	need    int
	acked   int
	pending int
	states  map[string]deliveryState
	decided bool

	done     chan struct{}
	doneOnce sync.Once
}

// newAckGate creates a gate that already counts the master's own ack.
func newAckGate(need int, endpoints []string) *ackGate {
	g := &ackGate{
		need:    need,
		acked:   1,
		pending: len(endpoints),
		states:  make(map[string]deliveryState, len(endpoints)),
		done:    make(chan struct{}),
	}
	for _, ep := range endpoints {
		g.states[ep] = statePending
	}
	g.mu.Lock()
	g.check()
	g.mu.Unlock()
	return g
}

// Done is closed once waiting longer cannot change the outcome.
func (g *ackGate) Done() <-chan struct{} {
	return g.done
}

// ack records a positive acknowledgment from endpoint.
func (g *ackGate) ack(endpoint string) (late bool) {
	return g.record(endpoint, stateAcked)
}

// fail records that endpoint will never acknowledge.
func (g *ackGate) fail(endpoint string) (late bool) {
	return g.record(endpoint, stateFailed)
}

func (g *ackGate) record(endpoint string, st deliveryState) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cur, ok := g.states[endpoint]; !ok || cur != statePending {
		return g.decided
	}
	g.states[endpoint] = st
	g.pending--
	if st == stateAcked {
		g.acked++
	}
	g.check()
	return g.decided
}

// check must be called with mu held.
func (g *ackGate) check() {
	if g.acked >= g.need || g.acked+g.pending < g.need {
		g.doneOnce.Do(func() { close(g.done) })
	}
}

// decide freezes the gate and returns the acknowledgment count seen by
// the waiter together with a copy of the per-endpoint states.
func (g *ackGate) decide() (int, map[string]deliveryState) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.decided = true
	states := make(map[string]deliveryState, len(g.states))
	for ep, st := range g.states {
		states[ep] = st
	}
	return g.acked, states
}
