package ratelimit

import (
	"encoding/json"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"
)

// rateLimitHeaders is the parsed X-RateLimit-* header set of a response.
type rateLimitHeaders struct {
	bucket     string
	limit      int
	remaining  int
	resetAfter time.Duration
	global     bool
	scope      string // user, global or shared

	hasLimit     bool
	hasRemaining bool
	hasReset     bool
}

// present reports whether the response carried any rate-limit header.
func (h rateLimitHeaders) present() bool {
	return h.bucket != "" || h.hasLimit || h.hasRemaining || h.hasReset || h.global
}

func parseHeaders(header nethttp.Header) rateLimitHeaders {
	var h rateLimitHeaders
	if header == nil {
		return h
	}

	h.bucket = header.Get(HeaderBucket)
	if v, err := strconv.Atoi(header.Get(HeaderLimit)); err == nil {
		h.limit, h.hasLimit = v, true
	}
	if v, err := strconv.Atoi(header.Get(HeaderRemaining)); err == nil {
		h.remaining, h.hasRemaining = v, true
	}
	if d, ok := parseSeconds(header.Get(HeaderResetAfter)); ok {
		h.resetAfter, h.hasReset = d, true
	}
	h.scope = strings.ToLower(header.Get(HeaderScope))
	h.global = strings.EqualFold(header.Get(HeaderGlobal), "true") || h.scope == ScopeGlobal
	return h
}

// rateLimitBody is the JSON body of a 429 response.
type rateLimitBody struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// retryAfter extracts the backoff of a 429 and whether the body flags it as
// global. The body value wins over the Retry-After header, which wins over
// X-RateLimit-Reset-After.
func retryAfter(resp *Response, h rateLimitHeaders) (time.Duration, bool) {
	var body rateLimitBody
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &body) == nil && body.RetryAfter > 0 {
		return secondsToDuration(body.RetryAfter), body.Global
	}
	if d, ok := parseSeconds(resp.Header.Get(HeaderRetryAfter)); ok && d > 0 {
		return d, body.Global
	}
	if h.hasReset && h.resetAfter > 0 {
		return h.resetAfter, body.Global
	}
	return defaultRetryAfter, body.Global
}

func parseSeconds(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return secondsToDuration(f), true
}

func secondsToDuration(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
