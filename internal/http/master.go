package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"replog/pkg/replication"
	"replog/pkg/replog"
	"replog/pkg/rpc"
	"replog/pkg/types"
)

type iCoordinator interface {
	Submit(ctx context.Context, req replication.Request) (replication.Result, error)
	RegisterSecondary(endpoint string) error
	Secondaries() []string
	Snapshot() []replog.Entry
	LastSequence() types.Sequence
}

// MasterServer exposes the coordinator to clients and secondaries.
type MasterServer struct {
	server
	id    types.NodeID
	coord iCoordinator
}

func NewMasterServer(id types.NodeID, coord iCoordinator, opts Options) *MasterServer {
	return &MasterServer{
		server: newServer(opts),
		id:     id,
		coord:  coord,
	}
}

// Start starts the server
func (s *MasterServer) Start() error {
	return s.start(s.createRouter())
}

// createRouter builds chi router
func (s *MasterServer) createRouter() http.Handler {
	r := s.baseRouter()

	r.Get("/health", s.handleHealth)
	r.Post("/messages", s.handleSubmit)
	r.Get("/messages", s.handleMessages)
	r.Post("/secondaries", s.handleRegister)

	return r
}

func (s *MasterServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, rpc.MasterHealth{
		Status:       string(StatusOK),
		Role:         "master",
		ServerID:     string(s.id),
		MessageCount: len(s.coord.Snapshot()),
		LastSequence: uint64(s.coord.LastSequence()),
		Secondaries:  s.coord.Secondaries(),
	})
}

func (s *MasterServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body rpc.SubmitRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if body.Message == nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("message is required"))
		return
	}

	req := replication.Request{Content: *body.Message, WriteConcern: body.W}
	// non-positive timeout_ms falls back to the configured deadline
	if body.TimeoutMS != nil && *body.TimeoutMS > 0 {
		req.Timeout = time.Duration(*body.TimeoutMS) * time.Millisecond
	}

	res, err := s.coord.Submit(r.Context(), req)
	switch {
	case errors.Is(err, replication.ErrInvalidWriteConcern):
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	case errors.Is(err, replication.ErrClosed):
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(err.Error()))
		return
	case err != nil:
		s.logger.Error("submit failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	resp := rpc.SubmitResponse{
		Status:  res.Outcome.String(),
		ID:      res.Entry.Sequence,
		Message: res.Entry.Content,
		Acks:    res.Acks,
		W:       res.WriteConcern,
	}
	code := http.StatusCreated
	switch res.Outcome {
	case replication.OutcomePartial:
		code = http.StatusAccepted
		resp.Warning = "Required write concern not met before timeout"
	case replication.OutcomeAlreadyExists:
		code = http.StatusOK
	}
	s.writeJSON(w, code, resp)
}

func (s *MasterServer) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messagesResponse(s.coord.Snapshot()))
}

func (s *MasterServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body rpc.RegisterRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	endpoint := strings.TrimRight(strings.TrimSpace(body.URL), "/")
	if endpoint == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("url is required"))
		return
	}

	status := StatusRegistered
	err := s.coord.RegisterSecondary(endpoint)
	switch {
	case errors.Is(err, replication.ErrDuplicateSecondary):
		status = StatusAlreadyRegistered
	case errors.Is(err, replication.ErrClosed):
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(err.Error()))
		return
	case err != nil:
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	s.writeJSON(w, http.StatusOK, rpc.RegisterResponse{
		Status:           string(status),
		TotalSecondaries: len(s.coord.Secondaries()),
	})
}

func messagesResponse(entries []replog.Entry) rpc.MessagesResponse {
	out := rpc.MessagesResponse{Messages: make([]rpc.Message, 0, len(entries))}
	for _, e := range entries {
		out.Messages = append(out.Messages, rpc.Message{ID: e.Sequence, Message: e.Content})
	}
	return out
}
