package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestCodeOf_ThroughWrapping(t *testing.T) {
	base := NotFound("customer_request", "42")
	wrapped := fmt.Errorf("loading: %w", base)

	assert.Equal(t, ErrCodeNotFound, CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeNotFound))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))
	assert.False(t, HasCode(nil, ErrCodeInternal))
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := Wrap(cause, ErrCodeUnavailable, "directory lookup failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "directory lookup failed")
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "unused"))
}

func TestTransportMapping(t *testing.T) {
	tests := []struct {
		code       Code
		httpStatus int
		grpcCode   codes.Code
	}{
		{ErrCodeNotFound, http.StatusNotFound, codes.NotFound},
		{ErrCodeInvalidInput, http.StatusBadRequest, codes.InvalidArgument},
		{ErrCodeConflict, http.StatusConflict, codes.FailedPrecondition},
		{ErrCodeStaleState, http.StatusConflict, codes.Aborted},
		{ErrCodeForbidden, http.StatusForbidden, codes.PermissionDenied},
		{ErrCodeConfiguration, http.StatusUnprocessableEntity, codes.FailedPrecondition},
		{ErrCodeUnavailable, http.StatusServiceUnavailable, codes.Unavailable},
		{ErrCodeInternal, http.StatusInternalServerError, codes.Internal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "x")
			assert.Equal(t, tt.httpStatus, HTTPStatus(err))
			assert.Equal(t, tt.grpcCode, GRPCCode(err))
		})
	}
}
