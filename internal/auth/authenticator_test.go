package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
)

func TestAuthenticateAdminCredential(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, []string{"user-secret"})
	role, err := a.Authenticate("admin-secret")
	require.NoError(t, err)
	require.Equal(t, RoleAdmin, role)
}

func TestAuthenticateUserCredential(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, []string{"user-secret"})
	role, err := a.Authenticate("user-secret")
	require.NoError(t, err)
	require.Equal(t, RoleUser, role)
}

func TestAuthenticateUnknownCredential(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, []string{"user-secret"})
	_, err := a.Authenticate("not-a-real-key")
	require.Error(t, err)
	require.Equal(t, gatewayerr.Unauthenticated, gatewayerr.KindOf(err))
}

func TestAuthenticateEmptyCredential(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, nil)
	_, err := a.Authenticate("")
	require.Error(t, err)
	require.Equal(t, gatewayerr.Unauthenticated, gatewayerr.KindOf(err))
}

func TestAuthenticateDifferentLengthCredentialsRejected(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, nil)
	_, err := a.Authenticate("admin-secret-but-longer")
	require.Error(t, err)
}

func TestFromHeaderReadsConfiguredHeader(t *testing.T) {
	a := New("X-Gateway-Key", nil, nil)
	h := http.Header{}
	h.Set("X-Gateway-Key", "value")
	require.Equal(t, "value", a.FromHeader(h))
}

func TestFromHeaderMissingReturnsEmpty(t *testing.T) {
	a := New("X-Gateway-Key", nil, nil)
	require.Equal(t, "", a.FromHeader(http.Header{}))
}
