package rpc

import (
	"context"
	"fmt"
	"net/http"

	"replog/pkg/replication"
	"replog/pkg/replog"
	"replog/pkg/secondary"
)

// SecondaryClient talks to one secondary. It implements
// replication.Replicator.
type SecondaryClient struct {
	client
}

var _ replication.Replicator = (*SecondaryClient)(nil)

// NewSecondaryClient returns a client for the secondary at baseURL. A nil
// hc means a client with a default overall timeout; per-attempt deadlines
// still come from ctx.
func NewSecondaryClient(baseURL string, hc *http.Client) (*SecondaryClient, error) {
	c, err := newClient(baseURL, hc)
	if err != nil {
		return nil, err
	}
	return &SecondaryClient{client: c}, nil
}

// Factory adapts NewSecondaryClient to replication.ReplicatorFactory.
func Factory(hc *http.Client) replication.ReplicatorFactory {
	return func(endpoint string) (replication.Replicator, error) {
		return NewSecondaryClient(endpoint, hc)
	}
}

// Replicate posts entry to /replicate. A 4xx answer is permanent and wraps
// replication.ErrRejected; anything else that is not 200 is retryable.
func (s *SecondaryClient) Replicate(ctx context.Context, entry replog.Entry) (secondary.Ack, error) {
	code, b, err := s.do(ctx, http.MethodPost, "/replicate", entry)
	if err != nil {
		return 0, err
	}

	switch {
	case code == http.StatusOK:
	case code >= 400 && code < 500:
		return 0, fmt.Errorf("%w: %w", replication.ErrRejected, statusError("/replicate", code, b))
	default:
		return 0, statusError("/replicate", code, b)
	}

	var rr ReplicateResponse
	if err := decode("/replicate", b, &rr); err != nil {
		return 0, err
	}
	if !rr.Status.Positive() {
		return 0, fmt.Errorf("%w: /replicate: status %q", ErrUnexpectedStatus, rr.Status)
	}
	return rr.Status, nil
}

// Messages lists the secondary's applied log.
func (s *SecondaryClient) Messages(ctx context.Context) ([]Message, error) {
	return s.messages(ctx)
}

// Health returns the secondary's apply status.
func (s *SecondaryClient) Health(ctx context.Context) (secondary.Status, error) {
	var st secondary.Status
	if err := s.health(ctx, &st); err != nil {
		return secondary.Status{}, err
	}
	return st, nil
}
