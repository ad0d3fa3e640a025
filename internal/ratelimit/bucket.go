package ratelimit

import (
	"time"
)

// Bucket is a rate-limit class: a FIFO queue of requests sharing one
// limit/remaining/reset counter. Every field is guarded by the owning
// Registry's mutex.
type Bucket struct {
	id        string
	limit     int // 0 until a response reports it
	remaining int
	reset     time.Time
	queue     []*Request

	// active is set while a worker goroutine or an armed timer owns the
	// bucket's execution turn.
	active bool
	timer  *time.Timer
}

// BucketInfo is a point-in-time view of a bucket.
type BucketInfo struct {
	ID        string
	Limit     int
	Remaining int
	Reset     time.Time
	Queued    int
	Active    bool
}

func newBucket(id string) *Bucket {
	return &Bucket{id: id, remaining: 1}
}

// ID returns the bucket id.
func (b *Bucket) ID() string { return b.id }

func (b *Bucket) unlimited() bool { return b.id == UnlimitedBucketID }

// insert places req by submission order. The head of an active bucket is
// never displaced since its call may already be in flight.
func (b *Bucket) insert(req *Request) {
	floor := 0
	if b.active && len(b.queue) > 0 {
		floor = 1
	}
	i := len(b.queue)
	for i > floor && b.queue[i-1].seq > req.seq {
		i--
	}
	b.queue = append(b.queue, nil)
	copy(b.queue[i+1:], b.queue[i:])
	b.queue[i] = req
}

// refresh restores remaining once the reset time has passed.
func (b *Bucket) refresh(now time.Time) {
	if b.reset.IsZero() || now.Before(b.reset) {
		return
	}
	if b.limit > 0 {
		b.remaining = b.limit
	} else if b.remaining < 1 {
		b.remaining = 1
	}
	b.reset = time.Time{}
}

// wait returns how long the bucket must pause before its next call.
func (b *Bucket) wait(now, globalReset time.Time) time.Duration {
	var wait time.Duration
	if globalReset.After(now) {
		wait = globalReset.Sub(now)
	}
	b.refresh(now)
	if b.remaining < 1 && b.reset.After(now) {
		if d := b.reset.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// consume decrements remaining ahead of a call when the limit is known.
func (b *Bucket) consume() {
	if b.limit > 0 && b.remaining > 0 {
		b.remaining--
	}
}

// apply copies authoritative header values onto the bucket.
func (b *Bucket) apply(h rateLimitHeaders, now time.Time) {
	if h.hasLimit {
		b.limit = h.limit
	}
	if h.hasRemaining {
		b.remaining = h.remaining
	}
	if h.hasReset {
		b.reset = now.Add(h.resetAfter)
	}
}

// pause exhausts the bucket until at least until.
func (b *Bucket) pause(until time.Time) {
	b.remaining = 0
	if until.After(b.reset) {
		b.reset = until
	}
}

// idle reports whether the bucket can be evicted.
func (b *Bucket) idle(now time.Time) bool {
	return !b.unlimited() && len(b.queue) == 0 && !b.active && !b.reset.After(now)
}

func (b *Bucket) info() BucketInfo {
	return BucketInfo{
		ID:        b.id,
		Limit:     b.limit,
		Remaining: b.remaining,
		Reset:     b.reset,
		Queued:    len(b.queue),
		Active:    b.active,
	}
}
