package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestAppErrorStatusCodes(t *testing.T) {
	tests := []struct {
		err  *AppError
		code int
		kind ErrorKind
	}{
		{Unauthorized("x"), fiber.StatusUnauthorized, KindUnauthorized},
		{Forbidden("x"), fiber.StatusForbidden, KindForbidden},
		{NotFound("x"), fiber.StatusNotFound, KindNotFound},
		{Unprocessable("x"), fiber.StatusUnprocessableEntity, KindUnprocessable},
		{BadRequest("x"), fiber.StatusBadRequest, KindBadRequest},
		{TooManyRequests("x"), fiber.StatusTooManyRequests, KindTooManyRequests},
		{Internal(errors.New("boom")), fiber.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.kind, tt.err.Kind)
		})
	}
}

func TestAsAppError(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", NotFound("付款不存在"))
	assert.Equal(t, KindNotFound, AsAppError(wrapped).Kind)
	assert.True(t, IsKind(wrapped, KindNotFound))
	assert.False(t, IsKind(wrapped, KindForbidden))

	cause := errors.New("connection reset")
	appErr := AsAppError(cause)
	assert.Equal(t, KindInternal, appErr.Kind)
	assert.ErrorIs(t, appErr, cause)
}
