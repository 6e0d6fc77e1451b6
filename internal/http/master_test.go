package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"replog/pkg/replication"
	"replog/pkg/replog"
	"replog/pkg/rpc"
	"replog/pkg/types"
)

// fakeCoordinator records requests and answers with a canned result.
type fakeCoordinator struct {
	mu          sync.Mutex
	requests    []replication.Request
	result      replication.Result
	err         error
	secondaries []string
	entries     []replog.Entry
}

func (f *fakeCoordinator) Submit(ctx context.Context, req replication.Request) (replication.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeCoordinator) RegisterSecondary(endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.secondaries {
		if s == endpoint {
			return fmt.Errorf("%w: %s", replication.ErrDuplicateSecondary, endpoint)
		}
	}
	f.secondaries = append(f.secondaries, endpoint)
	return nil
}

func (f *fakeCoordinator) Secondaries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.secondaries...)
}

func (f *fakeCoordinator) Snapshot() []replog.Entry {
	return f.entries
}

func (f *fakeCoordinator) LastSequence() types.Sequence {
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[len(f.entries)-1].Sequence
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response JSON: %v, body=%s", err, rr.Body.String())
	}
	return v
}

func TestMasterSubmitStatusCodes(t *testing.T) {
	entry := replog.NewEntry(4, "hello", time.Now())
	tests := []struct {
		name     string
		result   replication.Result
		err      error
		wantCode int
		wantBody string
	}{
		{"success", replication.Result{Outcome: replication.OutcomeSuccess, Entry: entry, Acks: 3, WriteConcern: 3}, nil, http.StatusCreated, "success"},
		{"partial", replication.Result{Outcome: replication.OutcomePartial, Entry: entry, Acks: 1, WriteConcern: 3}, nil, http.StatusAccepted, "partial"},
		{"exists", replication.Result{Outcome: replication.OutcomeAlreadyExists, Entry: entry, Acks: 1, WriteConcern: 1}, nil, http.StatusOK, "exists"},
		{"invalid w", replication.Result{}, fmt.Errorf("%w: 5", replication.ErrInvalidWriteConcern), http.StatusBadRequest, ""},
		{"closed", replication.Result{}, replication.ErrClosed, http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord := &fakeCoordinator{result: tt.result, err: tt.err}
			s := NewMasterServer("m", coord, Options{})

			rr := serve(t, s.createRouter(), http.MethodPost, "/messages", `{"message":"hello","w":3}`)
			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d body=%s", tt.wantCode, rr.Code, rr.Body.String())
			}
			if tt.wantBody == "" {
				if resp := decodeBody[Response](t, rr); resp.Status != StatusError || resp.Error == "" {
					t.Fatalf("expected error body, got %+v", resp)
				}
				return
			}

			resp := decodeBody[rpc.SubmitResponse](t, rr)
			if resp.Status != tt.wantBody || resp.ID != 4 || resp.Message != "hello" {
				t.Fatalf("unexpected body %+v", resp)
			}
			if (tt.result.Outcome == replication.OutcomePartial) != (resp.Warning != "") {
				t.Fatalf("warning %q for outcome %v", resp.Warning, tt.result.Outcome)
			}
		})
	}
}

func TestMasterSubmitPassesOptions(t *testing.T) {
	coord := &fakeCoordinator{result: replication.Result{Outcome: replication.OutcomeSuccess}}
	s := NewMasterServer("m", coord, Options{})
	h := s.createRouter()

	serve(t, h, http.MethodPost, "/messages", `{"message":"a","w":2,"timeout_ms":1500}`)
	serve(t, h, http.MethodPost, "/messages", `{"message":"b"}`)
	serve(t, h, http.MethodPost, "/messages", `{"message":"c","timeout_ms":-5}`)

	if len(coord.requests) != 3 {
		t.Fatalf("expected 3 submissions, got %d", len(coord.requests))
	}
	first := coord.requests[0]
	if first.Content != "a" || first.WriteConcern == nil || *first.WriteConcern != 2 || first.Timeout != 1500*time.Millisecond {
		t.Fatalf("unexpected first request %+v", first)
	}
	if coord.requests[1].WriteConcern != nil || coord.requests[1].Timeout != 0 {
		t.Fatalf("defaults must be left to the coordinator, got %+v", coord.requests[1])
	}
	if coord.requests[2].Timeout != 0 {
		t.Fatalf("negative timeout_ms must be ignored, got %v", coord.requests[2].Timeout)
	}
}

func TestMasterSubmitAcceptsEmptyMessage(t *testing.T) {
	coord := &fakeCoordinator{result: replication.Result{
		Outcome: replication.OutcomeSuccess,
		Entry:   replog.NewEntry(1, "", time.Now()),
	}}
	h := NewMasterServer("m", coord, Options{}).createRouter()

	rr := serve(t, h, http.MethodPost, "/messages", `{"message":""}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	if len(coord.requests) != 1 || coord.requests[0].Content != "" {
		t.Fatalf("unexpected submissions %+v", coord.requests)
	}
}

func TestMasterSubmitBadRequests(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewMasterServer("m", coord, Options{})
	h := s.createRouter()

	for _, body := range []string{``, `{`, `{"w":1}`, `{"message":null}`, `{"message":"x","w":"two"}`} {
		rr := serve(t, h, http.MethodPost, "/messages", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d body=%s", body, rr.Code, rr.Body.String())
		}
	}
	if len(coord.requests) != 0 {
		t.Fatalf("bad requests reached the coordinator: %+v", coord.requests)
	}
}

func TestMasterMessagesAndHealth(t *testing.T) {
	coord := &fakeCoordinator{
		entries: []replog.Entry{
			replog.NewEntry(1, "a", time.Now()),
			replog.NewEntry(2, "b", time.Now()),
		},
		secondaries: []string{"http://s1:8081"},
	}
	s := NewMasterServer("m-1", coord, Options{})
	h := s.createRouter()

	rr := serve(t, h, http.MethodGet, "/messages", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	msgs := decodeBody[rpc.MessagesResponse](t, rr)
	if len(msgs.Messages) != 2 || msgs.Messages[0].Message != "a" || msgs.Messages[1].ID != 2 {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	rr = serve(t, h, http.MethodGet, "/health", "")
	health := decodeBody[rpc.MasterHealth](t, rr)
	if health.Role != "master" || health.ServerID != "m-1" || health.MessageCount != 2 || health.LastSequence != 2 {
		t.Fatalf("unexpected health %+v", health)
	}
	if len(health.Secondaries) != 1 {
		t.Fatalf("expected 1 secondary, got %v", health.Secondaries)
	}

	// Method not allowed: POST to /health
	if rr = serve(t, h, http.MethodPost, "/health", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("method-not-allowed: expected 405, got %d", rr.Code)
	}
}

func TestMasterRegisterSecondary(t *testing.T) {
	coord := &fakeCoordinator{}
	s := NewMasterServer("m", coord, Options{})
	h := s.createRouter()

	rr := serve(t, h, http.MethodPost, "/secondaries", `{"url":"http://s1:8081/"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resp := decodeBody[rpc.RegisterResponse](t, rr)
	if resp.Status != string(StatusRegistered) || resp.TotalSecondaries != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if coord.secondaries[0] != "http://s1:8081" {
		t.Fatalf("trailing slash must be trimmed, got %q", coord.secondaries[0])
	}

	rr = serve(t, h, http.MethodPost, "/secondaries", `{"url":"http://s1:8081"}`)
	if resp = decodeBody[rpc.RegisterResponse](t, rr); resp.Status != string(StatusAlreadyRegistered) || resp.TotalSecondaries != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if rr = serve(t, h, http.MethodPost, "/secondaries", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing url: expected 400, got %d", rr.Code)
	}
}
