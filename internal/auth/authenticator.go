// Package auth maps a presented credential to a role or rejects it. It
// replaces the teacher's JWT session validation with spec.md §4.1's
// simpler contract: a single bearer credential compared against two
// configured lists.
package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/S-Corkum/semantic-cache-gateway/internal/gatewayerr"
)

// Role is the tag attached to an authenticated credential.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Authenticator compares a presented credential against the configured
// admin/user credential lists using crypto/subtle.ConstantTimeCompare so
// presence/absence of a matching credential cannot be inferred from
// response timing. No ecosystem library in this corpus offers
// constant-time string comparison — this is inherently a crypto/subtle
// concern and is the one place this repo reaches for the standard library
// over a third-party dependency (see DESIGN.md).
type Authenticator struct {
	headerName       string
	adminCredentials []string
	userCredentials  []string
}

// New constructs an Authenticator. headerName is the header the caller's
// credential is read from (spec.md §4.1's "only configuration").
func New(headerName string, adminCredentials, userCredentials []string) *Authenticator {
	return &Authenticator{
		headerName:       headerName,
		adminCredentials: adminCredentials,
		userCredentials:  userCredentials,
	}
}

// HeaderName returns the configured credential header name. internal/api
// reads the raw value through FromHeader before calling Authenticate.
func (a *Authenticator) HeaderName() string { return a.headerName }

// Authenticate maps a presented credential to a Role, or fails with
// gatewayerr.Unauthenticated when the header is missing or the value
// matches no configured credential.
func (a *Authenticator) Authenticate(presented string) (Role, error) {
	if presented == "" {
		return "", gatewayerr.New(gatewayerr.Unauthenticated, "missing credential")
	}
	for _, c := range a.adminCredentials {
		if constantTimeEqual(presented, c) {
			return RoleAdmin, nil
		}
	}
	for _, c := range a.userCredentials {
		if constantTimeEqual(presented, c) {
			return RoleUser, nil
		}
	}
	return "", gatewayerr.New(gatewayerr.Unauthenticated, "unknown credential")
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Length itself is not considered sensitive here, so a mismatch
		// returns immediately without a compare.
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// FromHeader extracts the configured credential header from an HTTP
// request, returning "" if absent.
func (a *Authenticator) FromHeader(h http.Header) string {
	return h.Get(a.headerName)
}
