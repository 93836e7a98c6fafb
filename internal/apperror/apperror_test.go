package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusByKind(t *testing.T) {
	cases := []struct {
		err    *AppError
		status int
	}{
		{NotFound("thread"), http.StatusNotFound},
		{Forbidden("no"), http.StatusForbidden},
		{Blocked(), http.StatusForbidden},
		{AlreadyDeleted(), http.StatusConflict},
		{EmptyMessage(), http.StatusBadRequest},
		{InvalidCounterpart("self"), http.StatusBadRequest},
		{BadRequest("bad", nil), http.StatusBadRequest},
		{Unauthorized("token"), http.StatusUnauthorized},
		{Transient(errors.New("down")), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(string(tc.err.Kind), func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.Status)
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("post: %w", Blocked())

	assert.True(t, Is(wrapped, KindBlocked))
	assert.Equal(t, KindBlocked, KindOf(wrapped))
	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestFromKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")

	appErr := From(cause)

	assert.Equal(t, KindTransient, appErr.Kind)
	assert.ErrorIs(t, appErr, cause)
	assert.Same(t, appErr, From(appErr))
}
