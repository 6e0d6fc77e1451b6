package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultClientTimeout = 30 * time.Second

// client is the JSON-over-HTTP plumbing shared by the node clients.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, hc *http.Client) (client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return client{}, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return client{}, fmt.Errorf("base url %q: need http(s)://host[:port]", baseURL)
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultClientTimeout}
	}
	return client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}, nil
}

// do sends body as JSON and returns the response with the body already
// read. Decoding is left to the caller because status handling differs.
func (c client) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("create %s request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s body: %w", path, err)
	}
	return resp.StatusCode, b, nil
}

func decode(path string, b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s body: %w", path, err)
	}
	return nil
}

// statusError turns a non-success answer into an error carrying the
// server's message when it sent one.
func statusError(path string, code int, b []byte) error {
	msg := strings.TrimSpace(string(b))
	var er ErrorResponse
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	sentinel := ErrUnexpectedStatus
	if code == http.StatusBadRequest {
		sentinel = ErrBadRequest
	}
	return fmt.Errorf("%w: %s: %d: %s", sentinel, path, code, msg)
}

func (c client) messages(ctx context.Context) ([]Message, error) {
	code, b, err := c.do(ctx, http.MethodGet, "/messages", nil)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, statusError("/messages", code, b)
	}
	var mr MessagesResponse
	if err := decode("/messages", b, &mr); err != nil {
		return nil, err
	}
	return mr.Messages, nil
}

func (c client) health(ctx context.Context, v any) error {
	code, b, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return statusError("/health", code, b)
	}
	return decode("/health", b, v)
}
