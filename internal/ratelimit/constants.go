// Package ratelimit dispatches REST calls through server-discovered rate-limit
// buckets.
package ratelimit

import "time"

// Bucket identifiers
//
// A route whose rate-limit hash has not been observed yet runs on the single
// shared unlimited bucket. Once a response reveals the hash, the bucket id is
// "<hash>:<major parameters>".
const (
	// UnlimitedBucketID is the shared bucket for routes with no known hash.
	// It is never evicted.
	UnlimitedBucketID = "unlimited"

	// NoMajorParameters is the major-parameter string of routes without a
	// guild, channel or webhook id.
	NoMajorParameters = "n/a"
)

// Response headers consumed by the dispatcher.
const (
	HeaderBucket     = "X-RateLimit-Bucket"
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderResetAfter = "X-RateLimit-Reset-After"
	HeaderGlobal     = "X-RateLimit-Global"
	HeaderScope      = "X-RateLimit-Scope"
	HeaderRetryAfter = "Retry-After"
)

// ScopeGlobal is the HeaderScope value of a 429 that applies to every route.
const ScopeGlobal = "global"

// defaultRetryAfter is used when a 429 carries no usable retry-after value.
const defaultRetryAfter = 1 * time.Second
