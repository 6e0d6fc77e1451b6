package http

type Status string

const (
	// StatusOK is used for health-check responses.
	StatusOK Status = "OK"

	// StatusRegistered answers a new secondary registration.
	StatusRegistered Status = "registered"

	// StatusAlreadyRegistered answers a repeated registration.
	StatusAlreadyRegistered Status = "already_registered"

	// StatusError indicates an operation failed.
	StatusError Status = "error"
)

// Response is the body of every error answer and of the simple
// acknowledgements that carry no payload.
type Response struct {
	Status Status `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func NewErrorResponse(err string) Response {
	return Response{Status: StatusError, Error: err}
}
