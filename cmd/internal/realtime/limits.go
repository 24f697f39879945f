package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit). Clients only send hello.
	maxFrameBytes = 4 << 10 // 4 KiB

	// Per-user socket cap; the oldest connection is evicted past it.
	maxConnsPerUser = 16
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limits (events per window).
	rateLimitEvents = 20
	rateLimitWindow = 10 * time.Second
)
