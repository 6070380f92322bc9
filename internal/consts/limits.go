package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize4KB is 4 kilobytes
	BufferSize4KB = 4 * 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Wire limits
const (
	// MaxLineSize is the longest line a client may send before its
	// connection is dropped.
	MaxLineSize = BufferSize1MB
	// DefaultEventQueueSize is the default capacity of the listener → hub queue
	DefaultEventQueueSize = 1024
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout2Seconds is a 2 second timeout
	Timeout2Seconds = 2 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
)

// Debounce intervals
const (
	// InitReloadDebounce coalesces bursts of writes to the init file
	InitReloadDebounce = 250 * time.Millisecond
)

// Control kinds handled by the broker itself instead of being broadcast.
const (
	// KindPrefix is the namespace reserved for broker control messages
	KindPrefix = "broker/"
	// KindSubscribe replaces the sender's subscription filter
	KindSubscribe = KindPrefix + "subscribe"
)
