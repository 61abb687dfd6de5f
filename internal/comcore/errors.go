package comcore

import (
	"errors"
	"fmt"

	"github.com/infodancer/comcore/internal/store"
)

// RequestError is an anticipated, caller-visible failure: bad arguments,
// unknown kind, missing membership. It is serialized to the client as an
// ERROR frame with the message.
type RequestError struct {
	Message string

	// Unauthorized marks errors that additionally force the connection
	// back to LoggedOut and send a logout push after the reply.
	Unauthorized bool
}

func (e *RequestError) Error() string {
	return e.Message
}

// Errorf builds a plain RequestError.
func Errorf(format string, args ...any) *RequestError {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// Unauthorizedf builds a RequestError that forces the connection out of its
// current state.
func Unauthorizedf(format string, args ...any) *RequestError {
	return &RequestError{Message: fmt.Sprintf(format, args...), Unauthorized: true}
}

// asRequestError classifies an error from a handler. Store precondition
// failures become caller-visible request errors; anything else is internal.
func asRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	if errors.Is(err, store.ErrInvalidRequest) {
		return &RequestError{Message: err.Error()}, true
	}
	return nil, false
}
