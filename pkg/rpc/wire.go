package rpc

import (
	"replog/pkg/secondary"
	"replog/pkg/types"
)

// SubmitRequest is the body of POST /messages on the master.
type SubmitRequest struct {
	Message   *string `json:"message"`
	W         *int    `json:"w,omitempty"`
	TimeoutMS *int64  `json:"timeout_ms,omitempty"`
}

// SubmitResponse is returned by POST /messages.
type SubmitResponse struct {
	Status  string         `json:"status"`
	ID      types.Sequence `json:"id"`
	Message string         `json:"message"`
	Acks    int            `json:"acks,omitempty"`
	W       int            `json:"w,omitempty"`
	Warning string         `json:"warning,omitempty"`
}

// Message is the client view of a log entry.
type Message struct {
	ID      types.Sequence `json:"id"`
	Message string         `json:"message"`
}

// MessagesResponse is returned by GET /messages on any node.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ReplicateResponse is returned by POST /replicate on a secondary.
type ReplicateResponse struct {
	Status   secondary.Ack  `json:"status"`
	ServerID types.NodeID   `json:"server_id"`
	Sequence types.Sequence `json:"sequence"`
	Total    int            `json:"total_messages"`
}

// RegisterRequest is the body of POST /secondaries on the master.
type RegisterRequest struct {
	URL string `json:"url"`
}

// RegisterResponse is returned by POST /secondaries.
type RegisterResponse struct {
	Status           string `json:"status"`
	TotalSecondaries int    `json:"total_secondaries"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error"`
}
