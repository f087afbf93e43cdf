package errcodes

import (
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type codedErr struct{}

func (codedErr) Error() string { return "coded" }

func (codedErr) ErrorCode() *Error {
	return Conflict("taken")
}

func TestFromError(t *testing.T) {
	assert.Equal(t, "not_found", FromError(errors.WithStack(NotFound("Media"))).Code)
	assert.Equal(t, "conflict", FromError(errors.Wrap(codedErr{}, "moving")).Code)
	assert.Equal(t, "internal_server_error", FromError(errors.New("boom")).Code)
}

func TestPayload(t *testing.T) {
	status, payload := Payload(ValidationError("rating must be between 0 and 5"))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, map[string]interface{}{
		"error": map[string]interface{}{
			"code":        "validation_error",
			"message":     "rating must be between 0 and 5",
			"status_code": http.StatusUnprocessableEntity,
		},
	}, payload)
}
