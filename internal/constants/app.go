// Package constants holds the protocol limits and timing defaults shared by
// the REST dispatcher, the gateway session and the CLI.
package constants

import (
	"time"
)

// REST endpoint defaults
const (
	// APIBaseURL - default REST base URL (API version 10)
	APIBaseURL = "https://discord.com/api/v10"

	// GatewayVersion - gateway protocol version requested on connect
	GatewayVersion = 10

	// GatewayEncoding - frame encoding requested on connect
	GatewayEncoding = "json"
)

// Rate limiting
const (
	// BucketCleanupInterval - how often idle buckets are swept (30 seconds)
	BucketCleanupInterval = 30 * time.Second

	// ServerErrorRetries - default retry budget for 502/503/504 responses
	ServerErrorRetries = 3

	// ServerErrorInitialDelay - base delay for server error backoff (500ms)
	ServerErrorInitialDelay = 500 * time.Millisecond

	// ServerErrorMaxDelay - cap for server error backoff (10 seconds)
	ServerErrorMaxDelay = 10 * time.Second

	// TimeoutRetryWait - pause before the single automatic retry of a timed-out call
	TimeoutRetryWait = 250 * time.Millisecond
)

// Gateway send limits
//
// The gateway closes connections that send more than 120 frames per 60s.
// Heartbeats bypass the limiter, so the limiter budget leaves headroom for them.
const (
	// GatewaySendWindow - window of the gateway send limit
	GatewaySendWindow = 60 * time.Second

	// GatewaySendBudget - frames per window available to non-heartbeat sends
	GatewaySendBudget = 115
)

// Gateway timing
const (
	// GatewayReconnectInitialDelay - first reconnect backoff (1 second)
	GatewayReconnectInitialDelay = 1 * time.Second

	// GatewayReconnectMaxDelay - reconnect backoff cap (2 minutes)
	GatewayReconnectMaxDelay = 2 * time.Minute

	// GatewayInvalidSessionWait - wait before re-identifying after op 9 (rand 1-5s upstream)
	GatewayInvalidSessionWait = 2 * time.Second

	// GatewayWriteTimeout - deadline applied to each outbound frame
	GatewayWriteTimeout = 10 * time.Second

	// DefaultLargeThreshold - member count above which guilds arrive without a full member list
	DefaultLargeThreshold = 250

	// MaxLargeThreshold - protocol maximum for large_threshold
	MaxLargeThreshold = 250

	// MinLargeThreshold - protocol minimum for large_threshold
	MinLargeThreshold = 50
)

// Event bus sizing
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Guild readiness bursts at startup are proportional to the number of guilds.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// API and Context Timeouts
const (
	// APIContextTimeout - default timeout for CLI-initiated API operations (30 seconds)
	APIContextTimeout = 30 * time.Second
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPResponseHeaderTimeout - time allowed for response headers before the call is
	// considered timed out and becomes eligible for its single retry (20 seconds)
	HTTPResponseHeaderTimeout = 20 * time.Second
)
