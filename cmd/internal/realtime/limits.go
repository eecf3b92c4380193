package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max length of a friend name in an addFriend payload (runes).
	maxNameChars = 64

	// Max bytes of an attached report body.
	maxReportBytes = 8 << 10
)

const (
	// Heartbeat defaults (can be overridden by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// How long the gate waits for the hello envelope after upgrade.
	handshakeTimeout = 10 * time.Second
)
