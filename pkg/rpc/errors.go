package rpc

import "errors"

var (
	// ErrUnexpectedStatus wraps non-success HTTP answers.
	ErrUnexpectedStatus = errors.New("rpc: unexpected status")
	// ErrBadRequest wraps 400 answers.
	ErrBadRequest = errors.New("rpc: bad request")
)
