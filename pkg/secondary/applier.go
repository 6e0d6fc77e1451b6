package secondary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"replog/pkg/metrics"
	"replog/pkg/replog"
	"replog/pkg/types"

	"github.com/benbjohnson/clock"
	"github.com/zhangyunhao116/skipmap"
)

var ErrInvalidEntry = errors.New("secondary: invalid entry")

// Options configures an Applier. Zero values fall back to defaults.
type Options struct {
	ID            types.NodeID
	FirstSequence types.Sequence
	// Delay is slept before every apply to simulate a slow replica.
	Delay   time.Duration
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Secondary
}

// Applier applies replicated entries to the local log exactly once and
// in sequence order, buffering entries that arrive ahead of a gap.
type Applier struct {
	id    types.NodeID
	delay time.Duration
	clock clock.Clock
	log   *replog.Log

	// mu guards the log tail and pending together
	mu      sync.Mutex
	pending *skipmap.OrderedMap[uint64, replog.Entry]

	logger  *slog.Logger
	metrics *metrics.Secondary
}

func New(opts Options) *Applier {
	if opts.FirstSequence == 0 {
		opts.FirstSequence = types.FirstSequence
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSecondary()
	}

	return &Applier{
		id:      opts.ID,
		delay:   opts.Delay,
		clock:   opts.Clock,
		log:     replog.New(opts.FirstSequence),
		pending: skipmap.New[uint64, replog.Entry](),
		logger:  opts.Logger.With("component", "applier", "node", opts.ID),
		metrics: opts.Metrics,
	}
}

// ID returns the node id of the secondary.
func (a *Applier) ID() types.NodeID {
	return a.id
}

// Apply records entry and returns the acknowledgment for the master.
// The configured delay is not cut short by ctx: an entry whose caller
// gave up is still applied, and a redelivery of it is acknowledged
// without waiting again.
func (a *Applier) Apply(ctx context.Context, entry replog.Entry) (Ack, error) {
	if !entry.Valid() {
		return 0, fmt.Errorf("%w: sequence %d", ErrInvalidEntry, entry.Sequence)
	}

	if a.delay > 0 && !a.seen(entry) {
		a.sleep()
	}

	ack, err := a.apply(entry)
	if err != nil {
		a.logger.Error("apply failed", "seq", entry.Sequence, "error", err)
		return 0, err
	}
	a.metrics.Applies.WithLabelValues(ack.String()).Inc()
	return ack, nil
}

func (a *Applier) apply(entry replog.Entry) (Ack, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.log.Contains(entry.Fingerprint) {
		a.logger.Info("duplicate entry", "seq", entry.Sequence, "hash", entry.Fingerprint.Short())
		return AckDuplicate, nil
	}

	next := a.log.NextSequence()
	switch {
	case entry.Sequence == next:
		if err := a.log.Append(entry); err != nil {
			return 0, fmt.Errorf("append sequence %d: %w", entry.Sequence, err)
		}
		a.logger.Info("applied entry", "seq", entry.Sequence)
		if err := a.drain(); err != nil {
			return 0, err
		}
		a.observe()
		return AckApplied, nil

	case entry.Sequence > next:
		if _, loaded := a.pending.LoadOrStore(uint64(entry.Sequence), entry); !loaded {
			a.logger.Info("buffered out of order entry",
				"seq", entry.Sequence, "expected", next, "pending", a.pending.Len())
		}
		a.observe()
		return AckBuffered, nil

	default:
		a.logger.Error("stale entry with unknown content ignored",
			"seq", entry.Sequence, "expected", next, "hash", entry.Fingerprint.Short())
		return AckStale, nil
	}
}

// drain moves contiguous buffered entries into the log.
func (a *Applier) drain() error {
	for {
		next := a.log.NextSequence()
		entry, ok := a.pending.LoadAndDelete(uint64(next))
		if !ok {
			return nil
		}
		if err := a.log.Append(entry); err != nil {
			return fmt.Errorf("drain sequence %d: %w", next, err)
		}
		a.logger.Info("applied buffered entry", "seq", next)
	}
}

func (a *Applier) observe() {
	a.metrics.PendingEntries.Set(float64(a.pending.Len()))
	a.metrics.LogEntries.Set(float64(a.log.Len()))
}

func (a *Applier) seen(entry replog.Entry) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.log.Contains(entry.Fingerprint)
}

func (a *Applier) sleep() {
	t := a.clock.Timer(a.delay)
	defer t.Stop()
	<-t.C
}

// Snapshot returns the applied entries in sequence order.
func (a *Applier) Snapshot() []replog.Entry {
	return a.log.Snapshot()
}

// Status describes the apply progress of a secondary.
type Status struct {
	ID           types.NodeID     `json:"server_id"`
	MessageCount int              `json:"message_count"`
	LastSequence types.Sequence   `json:"last_sequence"`
	NextExpected types.Sequence   `json:"next_expected"`
	Pending      []types.Sequence `json:"pending"`
}

func (a *Applier) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := make([]types.Sequence, 0, a.pending.Len())
	a.pending.Range(func(seq uint64, _ replog.Entry) bool {
		pending = append(pending, types.Sequence(seq))
		return true
	})

	return Status{
		ID:           a.id,
		MessageCount: a.log.Len(),
		LastSequence: a.log.LastSequence(),
		NextExpected: a.log.NextSequence(),
		Pending:      pending,
	}
}
