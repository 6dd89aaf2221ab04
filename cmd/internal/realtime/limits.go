package realtime

import "time"

// Security/performance limits for the websocket gateway.
const (
	// Max bytes per websocket frame read (hard limit). The subscription
	// channel is push-oriented; inbound frames are small control chatter.
	maxFrameBytes = 16 << 10 // 16 KiB
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits on inbound frames (events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
