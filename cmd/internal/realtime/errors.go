package realtime

import (
	"errors"

	"fitlink/cmd/internal/auth/session"
	"fitlink/cmd/internal/friends"
)

// Handler-level sentinels that have no home in the domain packages.
var (
	// errBadPayload marks a structurally invalid command payload.
	errBadPayload = errors.New("bad payload")

	// errNotKnown marks a profile read against a user outside the caller's
	// known set.
	errNotKnown = errors.New("not a known profile")

	// errUnsupported marks a kind outside the command dispatch table.
	errUnsupported = errors.New("unsupported kind")
)

// Wire error codes. Auth codes are terminal for the connection at connect
// time; domain codes are replies that keep the connection alive.
const (
	codeNoToken           = "no-token"
	codeMalformedToken    = "malformed-token"
	codeExpiredAtConnect  = "expired-at-connect"
	codeExpiredMidSession = "expired-during-session"
	codeUnauthorized      = "unauthorized"

	codeUnknownTarget  = "unknown-target"
	codeSelfReference  = "self-reference"
	codeAlreadyRelated = "already-related"
	codeNotPending     = "not-a-pending-request"
	codeNotFriends     = "not-friends"
	codeDuplicateBlock = "duplicate-block"
	codeNotBlocked     = "not-blocked"
	codeNotKnown       = "not-a-known-profile"

	codeBadPayload  = "bad-payload"
	codeUnsupported = "unsupported"
	codeInternal    = "INTERNAL"
)

// errorCode maps an error to its caller-visible code. Anything outside the
// taxonomy (store failures included) is normalized to INTERNAL; validation
// rejections from the store layer surface as opaque domain errors upstream
// and keep their mapped code here.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNoToken):
		return codeNoToken
	case errors.Is(err, session.ErrMalformedToken):
		return codeMalformedToken
	case errors.Is(err, session.ErrTokenExpired):
		return codeExpiredAtConnect
	case errors.Is(err, session.ErrSessionExpired):
		return codeExpiredMidSession
	case errors.Is(err, session.ErrUnauthorized):
		return codeUnauthorized

	case errors.Is(err, friends.ErrUnknownTarget):
		return codeUnknownTarget
	case errors.Is(err, friends.ErrSelfReference):
		return codeSelfReference
	case errors.Is(err, friends.ErrAlreadyRelated):
		return codeAlreadyRelated
	case errors.Is(err, friends.ErrNotPending):
		return codeNotPending
	case errors.Is(err, friends.ErrNotFriends):
		return codeNotFriends
	case errors.Is(err, friends.ErrDuplicateBlock):
		return codeDuplicateBlock
	case errors.Is(err, friends.ErrNotBlocked):
		return codeNotBlocked

	case errors.Is(err, errNotKnown):
		return codeNotKnown
	case errors.Is(err, errBadPayload):
		return codeBadPayload
	case errors.Is(err, errUnsupported):
		return codeUnsupported

	default:
		return codeInternal
	}
}

// errorMessage returns the caller-visible message: verbatim for taxonomy
// errors, generic for everything else so internals never leak.
func errorMessage(err error) string {
	if errorCode(err) == codeInternal {
		return "internal error"
	}
	return err.Error()
}
