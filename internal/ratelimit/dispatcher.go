package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/http"
	"github.com/guildwire/guildwire/internal/logging"
)

// Executor performs the HTTP call for a request and reads the whole response.
// A non-nil error means no response was received.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *Request) (*Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Options configures a Dispatcher.
type Options struct {
	// ServerErrorRetries is how many times a 502/503/504 response is retried
	// before the request fails.
	ServerErrorRetries int

	// CleanupInterval is the period of the idle-bucket sweep.
	CleanupInterval time.Duration

	// DecodeError turns a terminal non-2xx response into the error handed to
	// OnFailure. Defaults to *StatusError.
	DecodeError func(*Response) error

	Logger *logging.Logger
}

// Dispatcher runs queued requests through their buckets. Each bucket has at
// most one worker goroutine; a bucket that must wait arms a timer instead of
// holding a goroutine.
type Dispatcher struct {
	registry *Registry
	exec     Executor
	opts     Options
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool // guarded by registry.mu
}

// NewDispatcher creates a dispatcher and starts its cleanup sweep.
func NewDispatcher(exec Executor, opts Options) *Dispatcher {
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = constants.BucketCleanupInterval
	}
	if opts.ServerErrorRetries < 0 {
		opts.ServerErrorRetries = 0
	}
	if opts.DecodeError == nil {
		opts.DecodeError = func(resp *Response) error {
			return &StatusError{StatusCode: resp.StatusCode, Body: resp.Body}
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		registry: NewRegistry(),
		exec:     exec,
		opts:     opts,
		logger:   logger.Component("ratelimit"),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
	}

	d.wg.Add(1)
	go d.cleanupLoop()
	return d
}

// Registry exposes the dispatcher's bucket registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Buckets returns a snapshot of the live buckets.
func (d *Dispatcher) Buckets() []BucketInfo {
	return d.registry.Buckets()
}

// Submit queues req on its bucket and makes sure a worker is draining it.
// It never blocks on the network.
func (d *Dispatcher) Submit(req *Request) {
	r := d.registry
	r.mu.Lock()
	if d.closed {
		r.mu.Unlock()
		req.fail(ErrClosed)
		return
	}
	r.submitted++
	req.seq = r.submitted
	b := r.bucketLocked(r.bucketIDLocked(req.Route))
	b.queue = append(b.queue, req)
	d.scheduleLocked(b)
	r.mu.Unlock()
}

// scheduleLocked starts a worker for b unless it already has one.
func (d *Dispatcher) scheduleLocked(b *Bucket) {
	if b.active {
		return
	}
	b.active = true
	go d.run(b)
}

// resume is the timer callback of a paused bucket.
func (d *Dispatcher) resume(b *Bucket) {
	d.registry.mu.Lock()
	b.timer = nil
	d.registry.mu.Unlock()
	d.run(b)
}

// run drains b until it is empty or must wait. The caller owns b's turn.
func (d *Dispatcher) run(b *Bucket) {
	r := d.registry
	for {
		r.mu.Lock()
		if d.closed || len(b.queue) == 0 {
			b.active = false
			r.mu.Unlock()
			return
		}

		req := b.queue[0]
		now := time.Now()

		// A request parked on the unlimited bucket moves to its real bucket as
		// soon as the route's hash is known, ahead of anything submitted to
		// that bucket after it.
		if b.unlimited() {
			if id := r.bucketIDLocked(req.Route); id != UnlimitedBucketID {
				b.queue = b.queue[1:]
				target := r.bucketLocked(id)
				target.insert(req)
				d.scheduleLocked(target)
				r.mu.Unlock()
				d.logger.Debug().Str("route", req.Route.String()).Str("bucket", id).Msg("migrated request from unlimited bucket")
				continue
			}
		}

		if wait := b.wait(now, r.globalReset); wait > 0 {
			b.timer = time.AfterFunc(wait, func() { d.resume(b) })
			r.mu.Unlock()
			d.logger.Trace().Str("bucket", b.id).Dur("wait", wait).Msg("bucket paused")
			return
		}

		if req.expired(now) {
			b.queue = b.queue[1:]
			r.mu.Unlock()
			req.fail(ErrDeadlineExceeded)
			continue
		}

		b.consume()
		r.mu.Unlock()

		resp, err := d.execute(req)
		d.handle(b, req, resp, err)
	}
}

func (d *Dispatcher) execute(req *Request) (*Response, error) {
	ctx := d.ctx
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}
	return d.exec.Execute(ctx, req)
}

// handle applies a call's outcome to the bucket state and resolves req when
// the outcome is terminal. 429 and retryable 5xx leave req at the head of
// its queue.
func (d *Dispatcher) handle(b *Bucket, req *Request, resp *Response, err error) {
	r := d.registry
	r.mu.Lock()
	now := time.Now()

	if d.closed {
		r.mu.Unlock()
		req.fail(ErrClosed)
		return
	}

	if err != nil {
		d.removeLocked(b, req)
		r.mu.Unlock()
		d.logger.Debug().Err(err).Str("route", req.Route.String()).Msg("request failed without response")
		req.fail(&NetworkError{Route: req.Route.String(), Err: err})
		return
	}

	h := parseHeaders(resp.Header)
	target := b
	if h.bucket != "" {
		target = r.learnLocked(req.Route, h.bucket)
	}
	if !target.unlimited() {
		target.apply(h, now)
	}

	switch {
	case resp.StatusCode == 429:
		after, bodyGlobal := retryAfter(resp, h)
		until := now.Add(after)
		if h.global || bodyGlobal || !h.present() {
			if until.After(r.globalReset) {
				r.globalReset = until
			}
			r.mu.Unlock()
			d.logger.Warn().Str("route", req.Route.String()).Dur("retry_after", after).Msg("global rate limit hit")
			return
		}
		target.pause(until)
		if b != target && !b.unlimited() {
			b.pause(until)
		}
		r.mu.Unlock()
		d.logger.Warn().
			Str("route", req.Route.String()).
			Str("bucket", target.id).
			Str("scope", h.scope).
			Dur("retry_after", after).
			Msg("rate limited")
		return

	case isRetryableServerError(resp.StatusCode) && req.retries < d.opts.ServerErrorRetries:
		req.retries++
		delay := http.CalculateBackoff(req.retries, constants.ServerErrorInitialDelay, constants.ServerErrorMaxDelay)
		b.pause(now.Add(delay))
		r.mu.Unlock()
		d.logger.Warn().
			Str("route", req.Route.String()).
			Int("status", resp.StatusCode).
			Int("attempt", req.retries).
			Dur("backoff", delay).
			Msg("server error, retrying")
		return
	}

	d.removeLocked(b, req)
	r.mu.Unlock()

	if resp.OK() {
		req.succeed(resp)
		return
	}
	req.fail(d.opts.DecodeError(resp))
}

// removeLocked pops req if it is still b's head.
func (d *Dispatcher) removeLocked(b *Bucket, req *Request) {
	if len(b.queue) > 0 && b.queue[0] == req {
		b.queue = b.queue[1:]
	}
}

func isRetryableServerError(status int) bool {
	return status == 502 || status == 503 || status == 504
}

func (d *Dispatcher) cleanupLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			if removed := d.registry.Sweep(now); len(removed) > 0 {
				d.logger.Debug().Strs("buckets", removed).Msg("evicted idle buckets")
			}
		}
	}
}

// Close stops the sweep and every armed timer, cancels in-flight calls and
// fails every queued request with ErrClosed.
func (d *Dispatcher) Close() {
	r := d.registry
	r.mu.Lock()
	if d.closed {
		r.mu.Unlock()
		return
	}
	d.closed = true

	var pending []*Request
	for _, b := range r.buckets {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		pending = append(pending, b.queue...)
		b.queue = nil
		b.active = false
	}
	r.mu.Unlock()

	d.cancel()
	close(d.stop)
	d.wg.Wait()

	for _, req := range pending {
		req.fail(ErrClosed)
	}
}
