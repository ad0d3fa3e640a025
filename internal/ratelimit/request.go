package ratelimit

import (
	nethttp "net/http"
	"sync"
	"time"
)

// Request is one queued REST call. A request belongs to exactly one bucket
// queue at a time and resolves exactly one of its continuations.
type Request struct {
	Route CompiledRoute
	Body  []byte

	// Header carries extra per-request headers such as X-Audit-Log-Reason.
	Header nethttp.Header

	// Deadline, when set, fails the request locally if its turn arrives late.
	Deadline time.Time

	OnSuccess func(*Response)
	OnFailure func(error)

	retries int
	seq     uint64 // submission order, assigned by Submit
	once    sync.Once
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     nethttp.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Request) expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

func (r *Request) succeed(resp *Response) {
	r.once.Do(func() {
		if r.OnSuccess != nil {
			r.OnSuccess(resp)
		}
	})
}

func (r *Request) fail(err error) {
	r.once.Do(func() {
		if r.OnFailure != nil {
			r.OnFailure(err)
		}
	})
}
