package replication

import (
	"context"
	"time"

	"replog/pkg/replog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// replicationRequest tracks one submission from dispatch until the client
// response is produced. Deliveries finishing later only touch the gate.
type replicationRequest struct {
	id    uuid.UUID
	entry replog.Entry
	w     int
	gate  *ackGate
}

func newReplicationRequest(entry replog.Entry, peers []*peer, w int) *replicationRequest {
	endpoints := make([]string, 0, len(peers))
	for _, p := range peers {
		endpoints = append(endpoints, p.endpoint)
	}
	return &replicationRequest{
		id:    uuid.New(),
		entry: entry,
		w:     w,
		gate:  newAckGate(w, endpoints),
	}
}

// wait blocks until the gate is decided, the timeout fires or ctx is done.
func (r *replicationRequest) wait(ctx context.Context, clk clock.Clock, timeout time.Duration) (int, map[string]deliveryState) {
	timer := clk.Timer(timeout)
	defer timer.Stop()

	select {
	case <-r.gate.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
	return r.gate.decide()
}
