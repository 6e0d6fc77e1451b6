package rpc

import (
	"context"
	"net/http"
	"time"
)

// MasterClient talks to the master: clients submit and list through it,
// secondaries register through it.
type MasterClient struct {
	client
}

func NewMasterClient(baseURL string, hc *http.Client) (*MasterClient, error) {
	c, err := newClient(baseURL, hc)
	if err != nil {
		return nil, err
	}
	return &MasterClient{client: c}, nil
}

// SubmitOptions carries the optional per-request knobs of Submit.
type SubmitOptions struct {
	// W is the write concern; zero leaves it to the master (all replicas).
	W int
	// Timeout overrides the master's write-concern deadline when positive.
	Timeout time.Duration
}

// Submit posts a message. Success (201), partial replication (202) and an
// already stored message (200) all decode into SubmitResponse; Status
// tells them apart.
func (m *MasterClient) Submit(ctx context.Context, message string, opts SubmitOptions) (SubmitResponse, error) {
	req := SubmitRequest{Message: &message}
	if opts.W != 0 {
		w := opts.W
		req.W = &w
	}
	if opts.Timeout > 0 {
		ms := opts.Timeout.Milliseconds()
		req.TimeoutMS = &ms
	}

	code, b, err := m.do(ctx, http.MethodPost, "/messages", req)
	if err != nil {
		return SubmitResponse{}, err
	}
	switch code {
	case http.StatusCreated, http.StatusAccepted, http.StatusOK:
	default:
		return SubmitResponse{}, statusError("/messages", code, b)
	}

	var sr SubmitResponse
	if err := decode("/messages", b, &sr); err != nil {
		return SubmitResponse{}, err
	}
	return sr, nil
}

// Messages lists the master log.
func (m *MasterClient) Messages(ctx context.Context) ([]Message, error) {
	return m.messages(ctx)
}

// RegisterSecondary announces the secondary reachable at url.
func (m *MasterClient) RegisterSecondary(ctx context.Context, url string) (RegisterResponse, error) {
	code, b, err := m.do(ctx, http.MethodPost, "/secondaries", RegisterRequest{URL: url})
	if err != nil {
		return RegisterResponse{}, err
	}
	if code != http.StatusOK && code != http.StatusCreated {
		return RegisterResponse{}, statusError("/secondaries", code, b)
	}
	var rr RegisterResponse
	if err := decode("/secondaries", b, &rr); err != nil {
		return RegisterResponse{}, err
	}
	return rr, nil
}

// MasterHealth is the body of GET /health on the master.
type MasterHealth struct {
	Status       string   `json:"status"`
	Role         string   `json:"role"`
	ServerID     string   `json:"server_id"`
	MessageCount int      `json:"message_count"`
	LastSequence uint64   `json:"last_sequence"`
	Secondaries  []string `json:"secondaries"`
}

func (m *MasterClient) Health(ctx context.Context) (MasterHealth, error) {
	var h MasterHealth
	if err := m.health(ctx, &h); err != nil {
		return MasterHealth{}, err
	}
	return h, nil
}
