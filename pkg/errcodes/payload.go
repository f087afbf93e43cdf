package errcodes

import (
	"net/http"

	"github.com/pkg/errors"
)

// FromError resolves err to an *Error. Domain errors implementing Coded are
// asked for their code; anything unrecognized is an internal error.
func FromError(err error) *Error {
	var coded Coded
	if errors.As(err, &coded) {
		if e := coded.ErrorCode(); e != nil {
			return e
		}
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		http.StatusInternalServerError,
		"Internal Server Error",
		"internal_server_error",
	}
}

// Payload renders err the way a request layer reports it.
func Payload(err error) (int, map[string]interface{}) {
	e := FromError(err)
	return e.HTTPCode, map[string]interface{}{
		"error": map[string]interface{}{
			"code":        e.Code,
			"message":     e.Message,
			"status_code": e.HTTPCode,
		},
	}
}
