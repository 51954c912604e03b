package errors

import (
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppErrorUnwrap(t *testing.T) {
	inner := stderrors.New("connection refused")
	err := ErrInternalServer.WithInternal(inner)

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "connection refused")
}

func TestFromError(t *testing.T) {
	appErr := FromError(ErrNotFound)
	require.Equal(t, "NOT_FOUND", appErr.Code)
	require.Equal(t, http.StatusNotFound, appErr.StatusCode)

	wrapped := FromError(stderrors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, wrapped.Code)
	require.EqualError(t, wrapped.Internal, "boom")

	require.Nil(t, FromError(nil))
}

func TestNewRateLimited(t *testing.T) {
	err := NewRateLimited(time.Now().Add(90 * time.Second))
	require.Equal(t, http.StatusTooManyRequests, err.StatusCode)
	require.Contains(t, err.Message, "retry in")

	past := NewRateLimited(time.Now().Add(-time.Minute))
	require.Contains(t, past.Message, "0s")
}
