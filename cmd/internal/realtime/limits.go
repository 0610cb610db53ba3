package realtime

import "time"

const (
	// Clients never send data frames; anything larger than a control frame is a violation.
	maxFrameBytes = 4 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	defaultWriteTimeout  = 5 * time.Second
	defaultSendQueueSize = 256
	minSendQueueSize     = 32
)
