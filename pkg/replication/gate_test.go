package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func isDone(g *ackGate) bool {
	select {
	case <-g.Done():
		return true
	default:
		return false
	}
}

func TestGateMasterOnly(t *testing.T) {
	g := newAckGate(1, []string{"a", "b"})
	require.True(t, isDone(g))

	acked, states := g.decide()
	require.Equal(t, 1, acked)
	require.Equal(t, statePending, states["a"])
}

func TestGateReleasesAtThreshold(t *testing.T) {
	g := newAckGate(2, []string{"a", "b"})
	require.False(t, isDone(g))

	require.False(t, g.ack("b"))
	require.True(t, isDone(g))

	acked, _ := g.decide()
	require.Equal(t, 2, acked)

	// late acknowledgments are flagged but do not reopen the gate
	require.True(t, g.ack("a"))
}

func TestGateIgnoresRepeatedAcks(t *testing.T) {
	g := newAckGate(3, []string{"a", "b"})
	g.ack("a")
	g.ack("a")
	g.ack("unknown")
	require.False(t, isDone(g))

	acked, _ := g.decide()
	require.Equal(t, 2, acked)
}

func TestGateReleasesWhenUnreachable(t *testing.T) {
	g := newAckGate(3, []string{"a", "b"})
	g.ack("a")
	require.False(t, isDone(g))

	g.fail("b")
	require.True(t, isDone(g))

	acked, states := g.decide()
	require.Equal(t, 2, acked)
	require.Equal(t, stateAcked, states["a"])
	require.Equal(t, stateFailed, states["b"])
}
