package gatewayerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(Validation, "bad input")
	require.Equal(t, Validation, KindOf(err))
	require.Equal(t, "validation_error: bad input", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(DependencyUnavailable, "kv unreachable", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection refused")
}

func TestIsMatchesKind(t *testing.T) {
	err := New(RateLimited, "too many requests")
	require.True(t, Is(err, RateLimited))
	require.False(t, Is(err, Validation))
}

func TestKindOfDefaultsToInternalForUntypedError(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("boom")))
}

func TestIsHandlesNilError(t *testing.T) {
	require.False(t, Is(nil, Validation))
}
