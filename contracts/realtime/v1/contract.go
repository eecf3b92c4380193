// Package v1 defines the Fitlink Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Kind constants (wire-stable).
//
// Client -> server kinds.
const (
	// KindHello starts a session handshake and may carry the access token.
	KindHello = "hello"

	// KindPing requests a liveness echo.
	KindPing = "ping"

	// KindDataSync requests a full rehydrate of the caller's relationship sets.
	KindDataSync = "dataSync"

	// KindEventSync requests all unseen events (full catch-up at connect time).
	KindEventSync = "eventSync"
	// KindEventStream requests events after a known cursor.
	KindEventStream = "eventStream"
	// KindMarkEvents advances the seen watermark up to (and including) an id.
	KindMarkEvents = "markEvents"

	KindAddFriend      = "addFriend"
	KindAcceptRequest  = "acceptRequest"
	KindDeclineRequest = "declineRequest"
	KindCancelRequest  = "cancelRequest"
	KindRemoveFriend   = "removeFriend"
	KindBlockUser      = "blockUser"
	KindUnblockUser    = "unblockUser"

	KindSendReport = "sendReport"

	// KindProfileUpdated and KindProfilePictureUpdated announce a profile change;
	// the server relays them to the caller's known users.
	KindProfileUpdated        = "profileUpdated"
	KindProfilePictureUpdated = "profilePictureUpdated"

	// KindStatusChanged announces a presence status change; relayed to friends only.
	KindStatusChanged = "statusChanged"

	KindGetKnownProfile        = "getKnownProfile"
	KindGetKnownProfilePicture = "getKnownProfilePicture"
	KindGetFriendStatus        = "getFriendStatus"
	KindGetAllKnownProfiles    = "getAllKnownProfiles"
	KindGetAllFriendStatus     = "getAllFriendStatus"
)

// Server -> client kinds.
const (
	// KindHelloAck acknowledges the session handshake.
	KindHelloAck = "helloAck"

	// KindPong answers a ping.
	KindPong = "pong"

	// KindAck is the generic success reply for mutating commands.
	KindAck = "ack"

	// KindEvent carries one or more durable events to their recipient.
	KindEvent = "event"

	// KindStatus pushes a friend's presence status.
	KindStatus = "status"

	// KindProfile and KindProfileList answer profile queries.
	KindProfile     = "profile"
	KindProfileList = "profileList"

	// KindStatusList answers getAllFriendStatus.
	KindStatusList = "statusList"

	// KindError is a generic error envelope.
	KindError = "error"

	// KindForceDisconnect is sent before the server closes an expired session.
	KindForceDisconnect = "forceDisconnect"
)

// AllowedKinds is the closed set of envelope kinds accepted on the wire.
var AllowedKinds = map[string]struct{}{
	KindHello:                  {},
	KindPing:                   {},
	KindDataSync:               {},
	KindEventSync:              {},
	KindEventStream:            {},
	KindMarkEvents:             {},
	KindAddFriend:              {},
	KindAcceptRequest:          {},
	KindDeclineRequest:         {},
	KindCancelRequest:          {},
	KindRemoveFriend:           {},
	KindBlockUser:              {},
	KindUnblockUser:            {},
	KindSendReport:             {},
	KindProfileUpdated:         {},
	KindProfilePictureUpdated:  {},
	KindStatusChanged:          {},
	KindGetKnownProfile:        {},
	KindGetKnownProfilePicture: {},
	KindGetFriendStatus:        {},
	KindGetAllKnownProfiles:    {},
	KindGetAllFriendStatus:     {},
	KindHelloAck:               {},
	KindPong:                   {},
	KindAck:                    {},
	KindEvent:                  {},
	KindStatus:                 {},
	KindProfile:                {},
	KindProfileList:            {},
	KindStatusList:             {},
	KindError:                  {},
	KindForceDisconnect:        {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
// Unknown kinds are rejected by construction.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("missing field: kind")
	}
	if _, ok := AllowedKinds[e.Kind]; !ok {
		return fmt.Errorf("unknown kind: %q", e.Kind)
	}
	return nil
}

// ---- Payloads ----

// HelloPayload initiates a session. Token is optional here: the server also
// accepts the token from the upgrade request's query string or bearer header.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload confirms authentication and carries the session identity.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	UserID    int64  `json:"user_id"`
}

// PongPayload answers a ping with the server wall clock.
type PongPayload struct {
	TS time.Time `json:"ts"`
}

// DataSyncPayload is the full relationship snapshot for the caller.
type DataSyncPayload struct {
	Friends  []int64 `json:"friends"`
	Incoming []int64 `json:"incoming"`
	Outgoing []int64 `json:"outgoing"`
	Blocked  []int64 `json:"blocked"`
}

// EventPayload is one durable event row on the wire.
type EventPayload struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Type       string          `json:"type"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	ResourceID int64           `json:"resource_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SeenAt     *time.Time      `json:"seen_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventBatchPayload carries an ordered (ascending id) batch of events.
type EventBatchPayload struct {
	Events []EventPayload `json:"events"`
}

// EventStreamPayload requests events with id > After.
type EventStreamPayload struct {
	After int64 `json:"after"`
}

// MarkEventsPayload advances the seen watermark.
type MarkEventsPayload struct {
	UpTo int64 `json:"up_to"`
}

// AddFriendPayload requests a friendship by target name.
type AddFriendPayload struct {
	Name string `json:"name"`
}

// UserRefPayload addresses a command at a user id (accept/decline/cancel/
// remove/block/unblock and the single-target queries).
type UserRefPayload struct {
	UserID int64 `json:"user_id"`
}

// SendReportPayload files a report against an offender.
type SendReportPayload struct {
	Report     json.RawMessage `json:"report"`
	OffenderID int64           `json:"offender_id"`
}

// StatusChangedPayload announces the caller's new presence status.
type StatusChangedPayload struct {
	Status string `json:"status"`
}

// StatusPayload pushes one user's presence status.
type StatusPayload struct {
	UserID int64  `json:"user_id"`
	Status string `json:"status"`
}

// StatusListPayload answers getAllFriendStatus.
type StatusListPayload struct {
	Statuses []StatusPayload `json:"statuses"`
}

// ProfilePayload is the public profile projection of a known user.
type ProfilePayload struct {
	UserID  int64  `json:"user_id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	Bio     string `json:"bio,omitempty"`
}

// ProfileListPayload answers getAllKnownProfiles.
type ProfileListPayload struct {
	Profiles []ProfilePayload `json:"profiles"`
}

// AckPayload acknowledges the named command kind.
type AckPayload struct {
	For string `json:"for"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ForceDisconnectPayload tells the client why the server is closing.
type ForceDisconnectPayload struct {
	Reason string `json:"reason"`
}
