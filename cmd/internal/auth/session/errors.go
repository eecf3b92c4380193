package session

import "errors"

var (
	// ErrNoToken is returned when no access token is present in any of the
	// accepted locations.
	ErrNoToken = errors.New("no token")

	// ErrMalformedToken is returned when a token (or its carrying scheme) is
	// structurally invalid or fails signature verification.
	ErrMalformedToken = errors.New("malformed token")

	// ErrTokenExpired is returned when a structurally valid token is already
	// expired at connect time.
	ErrTokenExpired = errors.New("token expired")

	// ErrSessionExpired marks a forced disconnect caused by the token expiring
	// mid-session. Distinct from ErrTokenExpired so clients can tell a stale
	// reconnect attempt from a session that aged out under them.
	ErrSessionExpired = errors.New("session expired")

	// ErrUnauthorized is returned when the authorization record for the user is
	// absent or revoked, even if the token itself verifies.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// IsAuthError reports whether err belongs to the authentication taxonomy.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNoToken) ||
		errors.Is(err, ErrMalformedToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrUnauthorized)
}
