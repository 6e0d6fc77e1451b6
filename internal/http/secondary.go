package http

import (
	"context"
	"errors"
	"net/http"

	"replog/pkg/metrics"
	"replog/pkg/replog"
	"replog/pkg/rpc"
	"replog/pkg/secondary"
	"replog/pkg/types"

	"github.com/zhangyunhao116/fastrand"
)

const errorRateScale = 1_000_000

type iApplier interface {
	ID() types.NodeID
	Apply(ctx context.Context, entry replog.Entry) (secondary.Ack, error)
	Snapshot() []replog.Entry
	Status() secondary.Status
}

// SecondaryServer accepts replicated entries from the master and serves
// the applied log to readers.
type SecondaryServer struct {
	server
	applier   iApplier
	errorRate float64
	metrics   *metrics.Secondary
	// roll returns a value in [0, errorRateScale); replaced in tests.
	roll func() uint32
}

// NewSecondaryServer returns a server answering 500 after a successful
// apply with probability errorRate.
func NewSecondaryServer(applier iApplier, errorRate float64, m *metrics.Secondary, opts Options) *SecondaryServer {
	if m == nil {
		m = metrics.NewSecondary()
	}
	return &SecondaryServer{
		server:    newServer(opts),
		applier:   applier,
		errorRate: errorRate,
		metrics:   m,
		roll:      func() uint32 { return fastrand.Uint32n(errorRateScale) },
	}
}

// Start starts the server
func (s *SecondaryServer) Start() error {
	return s.start(s.createRouter())
}

// createRouter builds chi router
func (s *SecondaryServer) createRouter() http.Handler {
	r := s.baseRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/messages", s.handleMessages)
	r.Post("/replicate", s.handleReplicate)

	return r
}

type secondaryHealth struct {
	State Status `json:"status"`
	Role  string `json:"role"`
	secondary.Status
}

func (s *SecondaryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, secondaryHealth{
		State:  StatusOK,
		Role:   "secondary",
		Status: s.applier.Status(),
	})
}

func (s *SecondaryServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messagesResponse(s.applier.Snapshot()))
}

func (s *SecondaryServer) handleReplicate(w http.ResponseWriter, r *http.Request) {
	var entry replog.Entry
	if err := decodeJSON(w, r, &entry); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	ack, err := s.applier.Apply(r.Context(), entry)
	switch {
	case errors.Is(err, secondary.ErrInvalidEntry):
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	case err != nil:
		s.logger.Warn("apply failed", "seq", entry.Sequence, "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	// the entry is already applied; the master retries and gets a duplicate ack
	if s.injectError() {
		s.metrics.InjectedErrors.Inc()
		s.logger.Warn("simulated error after apply", "seq", entry.Sequence, "ack", ack)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse("simulated internal server error"))
		return
	}

	st := s.applier.Status()
	s.writeJSON(w, http.StatusOK, rpc.ReplicateResponse{
		Status:   ack,
		ServerID: st.ID,
		Sequence: entry.Sequence,
		Total:    st.MessageCount,
	})
}

func (s *SecondaryServer) injectError() bool {
	if s.errorRate <= 0 {
		return false
	}
	return s.roll() < uint32(s.errorRate*errorRateScale)
}
