package replication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"replog/pkg/metrics"
	"replog/pkg/replog"
	"replog/pkg/secondary"
	"replog/pkg/seqgen"
	"replog/pkg/types"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultWriteConcernTimeout = 10 * time.Second
	defaultRequestTimeout      = 10 * time.Second
	defaultRetryInitial        = time.Second
	defaultRetryMax            = 10 * time.Second
)

// Replicator delivers one entry to one secondary.
type Replicator interface {
	Replicate(ctx context.Context, entry replog.Entry) (secondary.Ack, error)
}

// ReplicatorFactory creates the replicator for a secondary endpoint.
type ReplicatorFactory func(endpoint string) (Replicator, error)

// Options configures a Coordinator. Zero values fall back to defaults.
type Options struct {
	ID            types.NodeID
	FirstSequence types.Sequence
	// Timeout bounds how long Submit waits for the write concern.
	Timeout time.Duration
	// RequestTimeout bounds a single delivery attempt to a secondary.
	RequestTimeout time.Duration
	RetryInitial   time.Duration
	RetryMax       time.Duration

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Master
}

func (o *Options) setDefaults() {
	if o.FirstSequence == 0 {
		o.FirstSequence = types.FirstSequence
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultWriteConcernTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = defaultRequestTimeout
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = defaultRetryInitial
	}
	if o.RetryMax < o.RetryInitial {
		o.RetryMax = max(defaultRetryMax, o.RetryInitial)
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewMaster()
	}
}

type peer struct {
	endpoint   string
	replicator Replicator
	queue      *retryQueue
}

// Coordinator sequences submissions on the master, fans every entry out
// to all registered secondaries and waits for the requested number of
// acknowledgments.
type Coordinator struct {
	opts   Options
	logger *slog.Logger

	// mu is the sequencing section: dedup check, sequence assignment,
	// master append and the secondaries snapshot happen under it.
	mu  sync.Mutex
	seq *seqgen.Generator
	log *replog.Log

	peersMu sync.RWMutex
	peers   []*peer

	newReplicator ReplicatorFactory

	// background deliveries live as long as the coordinator, not the submission
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	closeMu  sync.RWMutex
	closed   atomic.Bool
}

func New(factory ReplicatorFactory, opts Options) *Coordinator {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		opts:          opts,
		logger:        opts.Logger.With("component", "coordinator", "node", opts.ID),
		seq:           seqgen.New(opts.FirstSequence),
		log:           replog.New(opts.FirstSequence),
		newReplicator: factory,
		bgCtx:         ctx,
		bgCancel:      cancel,
	}
}

// Request is a client submission.
type Request struct {
	Content string
	// WriteConcern is the number of replicas, master included, to wait
	// for. Nil means every known replica.
	WriteConcern *int
	// Timeout overrides the configured write-concern deadline when positive.
	Timeout time.Duration
}

// W is a helper for building Request.WriteConcern.
func W(n int) *int {
	return &n
}

// Submit appends content to the master log, replicates it to every
// secondary and waits for the write concern or the deadline.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Result, error) {
	if c.closed.Load() {
		return Result{}, ErrClosed
	}
	start := c.opts.Clock.Now()
	fp := replog.Fingerprint(req.Content)

	c.mu.Lock()
	if existing, ok := c.log.Lookup(fp); ok {
		c.mu.Unlock()
		c.logger.Info("content already stored", "seq", existing.Sequence, "hash", fp.Short())
		c.opts.Metrics.Submissions.WithLabelValues(OutcomeAlreadyExists.String()).Inc()
		return Result{
			Outcome: OutcomeAlreadyExists,
			Entry:   existing,
		}, nil
	}

	peers := c.snapshotPeers()
	w, err := resolveWriteConcern(req.WriteConcern, len(peers))
	if err != nil {
		c.mu.Unlock()
		c.opts.Metrics.Submissions.WithLabelValues("invalid").Inc()
		return Result{}, err
	}

	entry := replog.NewEntry(c.seq.Peek(), req.Content, c.opts.Clock.Now())
	if err := c.log.Append(entry); err != nil {
		c.mu.Unlock()
		c.logger.Error("master log rejected sequenced entry", "seq", entry.Sequence, "error", err)
		c.opts.Metrics.Submissions.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("append to master log: %w", err)
	}
	c.seq.Next()
	c.mu.Unlock()

	c.opts.Metrics.LogEntries.Set(float64(c.log.Len()))

	rr := newReplicationRequest(entry, peers, w)
	logger := c.logger.With("request_id", rr.id, "seq", entry.Sequence)
	logger.Info("entry accepted", "w", w, "secondaries", len(peers))

	for _, p := range peers {
		c.dispatch(p, rr)
	}

	timeout := c.opts.Timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	acked, states := rr.wait(ctx, c.opts.Clock, timeout)

	res := Result{
		RequestID:    rr.id,
		Outcome:      OutcomeSuccess,
		Entry:        entry,
		Acks:         acked,
		WriteConcern: w,
	}
	if acked < w {
		res.Outcome = OutcomePartial
		logger.Warn("write concern not met before deadline",
			"acks", acked, "w", w, "timeout", timeout, "outcomes", states)
	} else {
		logger.Info("write concern met", "acks", acked, "w", w)
	}

	c.opts.Metrics.Submissions.WithLabelValues(res.Outcome.String()).Inc()
	c.opts.Metrics.SubmitDuration.WithLabelValues(res.Outcome.String()).
		Observe(c.opts.Clock.Since(start).Seconds())
	return res, nil
}

func resolveWriteConcern(w *int, secondaries int) (int, error) {
	replicas := secondaries + 1
	if w == nil {
		return replicas, nil
	}
	if *w < 1 || *w > replicas {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidWriteConcern, *w, replicas)
	}
	return *w, nil
}

// dispatch hands rr's entry to p. The first attempt runs detached and
// concurrently with the other secondaries; a failed attempt moves the entry
// to p's retry queue. While the queue is not empty new entries join it
// directly, so a failing secondary sees one request at a time.
func (c *Coordinator) dispatch(p *peer, rr *replicationRequest) {
	d := delivery{entry: rr.entry, rr: rr}
	if p.queue.len() > 0 {
		c.enqueue(p, d)
		return
	}

	started := c.goBackground(func() {
		ack, err := c.attempt(p, d.entry)
		if err != nil && !isPermanent(err) {
			c.opts.Metrics.ReplicationRetries.WithLabelValues(p.endpoint).Inc()
			c.logger.Warn("replication attempt failed, queued for retry",
				"request_id", rr.id, "seq", d.entry.Sequence, "endpoint", p.endpoint, "error", err)
			c.enqueue(p, d)
			if c.bgCtx.Err() != nil {
				// the retry worker may already be gone
				c.abandon(p)
			}
			return
		}
		c.settle(p, d, ack, err)
	})
	if !started {
		rr.gate.fail(p.endpoint)
	}
}

func (c *Coordinator) enqueue(p *peer, ds ...delivery) {
	n := p.queue.push(ds...)
	c.opts.Metrics.RetryQueue.WithLabelValues(p.endpoint).Set(float64(n))
}

// settle reports the final result of a delivery to its submission.
func (c *Coordinator) settle(p *peer, d delivery, ack secondary.Ack, err error) {
	if err != nil {
		if d.rr != nil {
			d.rr.gate.fail(p.endpoint)
		}
		c.logger.Warn("replication abandoned",
			"seq", d.entry.Sequence, "endpoint", p.endpoint, "error", err)
		return
	}

	c.opts.Metrics.SecondaryAcks.WithLabelValues(p.endpoint, ack.String()).Inc()
	if d.rr == nil {
		return
	}
	if late := d.rr.gate.ack(p.endpoint); late {
		c.opts.Metrics.LateAcks.WithLabelValues(p.endpoint).Inc()
		c.logger.Info("late acknowledgment",
			"request_id", d.rr.id, "seq", d.entry.Sequence, "endpoint", p.endpoint, "ack", ack)
	}
}

// retryLoop redelivers queued entries to p one at a time until the
// coordinator is closed.
func (c *Coordinator) retryLoop(p *peer) {
	for {
		d, ok := p.queue.peek()
		if !ok {
			select {
			case <-p.queue.wake:
				continue
			case <-c.bgCtx.Done():
				c.abandon(p)
				return
			}
		}

		ack, err := c.deliver(p, d.entry)
		if err != nil && c.bgCtx.Err() != nil {
			c.abandon(p)
			return
		}
		n := p.queue.pop()
		c.opts.Metrics.RetryQueue.WithLabelValues(p.endpoint).Set(float64(n))
		c.settle(p, d, ack, err)
	}
}

// abandon fails every submission still waiting on p's queue.
func (c *Coordinator) abandon(p *peer) {
	left := p.queue.drain()
	for _, d := range left {
		if d.rr != nil {
			d.rr.gate.fail(p.endpoint)
		}
	}
	c.opts.Metrics.RetryQueue.WithLabelValues(p.endpoint).Set(0)
	if len(left) > 0 {
		c.logger.Warn("undelivered entries dropped on close", "endpoint", p.endpoint, "entries", len(left))
	}
}

// goBackground runs fn detached from any caller unless the coordinator
// is closed.
func (c *Coordinator) goBackground(fn func()) bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed.Load() {
		return false
	}
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		fn()
	}()
	return true
}

// attempt makes a single delivery bounded by the request timeout.
// Rejections and shutdown come back as permanent errors.
func (c *Coordinator) attempt(p *peer, entry replog.Entry) (secondary.Ack, error) {
	ctx, cancel := context.WithTimeout(c.bgCtx, c.opts.RequestTimeout)
	defer cancel()

	ack, err := p.replicator.Replicate(ctx, entry)
	switch {
	case err == nil && !ack.Positive():
		return 0, fmt.Errorf("unexpected ack %v", ack)
	case err == nil:
		return ack, nil
	case c.bgCtx.Err() != nil:
		return 0, backoff.Permanent(ErrClosed)
	case errors.Is(err, ErrRejected):
		return 0, backoff.Permanent(err)
	default:
		return 0, err
	}
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// deliver retries until the secondary acknowledges, rejects the entry or
// the coordinator is closed.
func (c *Coordinator) deliver(p *peer, entry replog.Entry) (secondary.Ack, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxInterval = c.opts.RetryMax
	b.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		c.opts.Metrics.ReplicationRetries.WithLabelValues(p.endpoint).Inc()
		c.logger.Warn("replication attempt failed, retrying",
			"seq", entry.Sequence, "endpoint", p.endpoint, "retry_in", next, "error", err)
	}

	return backoff.RetryNotifyWithData(func() (secondary.Ack, error) {
		return c.attempt(p, entry)
	}, backoff.WithContext(b, c.bgCtx), notify)
}

// RegisterSecondary adds endpoint to the fan-out set, queues the current
// master log for it and starts its retry worker.
func (c *Coordinator) RegisterSecondary(endpoint string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	r, err := c.newReplicator(endpoint)
	if err != nil {
		return fmt.Errorf("create replicator for %s: %w", endpoint, err)
	}
	p := &peer{endpoint: endpoint, replicator: r, queue: newRetryQueue()}

	// Holding the sequencing section makes every entry either part of the
	// backlog or dispatched to the new peer by Submit, never neither.
	c.mu.Lock()
	c.peersMu.Lock()
	for _, existing := range c.peers {
		if existing.endpoint == endpoint {
			c.peersMu.Unlock()
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrDuplicateSecondary, endpoint)
		}
	}
	c.peers = append(c.peers, p)
	total := len(c.peers)
	c.peersMu.Unlock()

	backlog := c.log.Snapshot()
	if len(backlog) > 0 {
		ds := make([]delivery, 0, len(backlog))
		for _, e := range backlog {
			ds = append(ds, delivery{entry: e})
		}
		c.enqueue(p, ds...)
	}
	c.mu.Unlock()

	c.opts.Metrics.Secondaries.Set(float64(total))
	c.logger.Info("registered secondary", "endpoint", endpoint, "backlog", len(backlog), "total", total)

	c.goBackground(func() { c.retryLoop(p) })
	return nil
}

func (c *Coordinator) snapshotPeers() []*peer {
	c.peersMu.RLock()
	defer c.peersMu.RUnlock()
	return append([]*peer(nil), c.peers...)
}

// Secondaries returns the registered endpoints in registration order.
func (c *Coordinator) Secondaries() []string {
	peers := c.snapshotPeers()
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.endpoint)
	}
	return out
}

// Snapshot returns the master log in sequence order.
func (c *Coordinator) Snapshot() []replog.Entry {
	return c.log.Snapshot()
}

// LastSequence returns the last assigned sequence.
func (c *Coordinator) LastSequence() types.Sequence {
	return c.seq.Last()
}

// Close stops background deliveries and waits for them to exit.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeMu.Lock()
	if !c.closed.CompareAndSwap(false, true) {
		c.closeMu.Unlock()
		return nil
	}
	c.closeMu.Unlock()
	c.bgCancel()

	done := make(chan struct{})
	go func() {
		c.bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background replication: %w", ctx.Err())
	}
}
