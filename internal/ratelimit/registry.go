package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// Registry owns the route-to-hash table, the live buckets and the global
// reset time. One mutex guards all of it, including every bucket's counters
// and queue, so "which bucket does this route use" and "does that bucket
// exist" are always answered together.
type Registry struct {
	mu          sync.Mutex
	hashes      map[string]string // route key -> rate-limit hash
	buckets     map[string]*Bucket
	globalReset time.Time
	submitted   uint64
}

// NewRegistry creates a registry holding only the unlimited bucket.
func NewRegistry() *Registry {
	return &Registry{
		hashes: make(map[string]string),
		buckets: map[string]*Bucket{
			UnlimitedBucketID: newBucket(UnlimitedBucketID),
		},
	}
}

// bucketIDLocked resolves the bucket id for route.
func (r *Registry) bucketIDLocked(route CompiledRoute) string {
	hash, ok := r.hashes[route.Route.Key()]
	if !ok {
		return UnlimitedBucketID
	}
	return hash + ":" + route.MajorParameters
}

func (r *Registry) bucketLocked(id string) *Bucket {
	b, ok := r.buckets[id]
	if !ok {
		b = newBucket(id)
		r.buckets[id] = b
	}
	return b
}

// learnLocked records the hash a response reported for route and returns the
// bucket it designates.
func (r *Registry) learnLocked(route CompiledRoute, hash string) *Bucket {
	r.hashes[route.Route.Key()] = hash
	return r.bucketLocked(hash + ":" + route.MajorParameters)
}

// BucketID returns the id a request on route would be queued under now.
func (r *Registry) BucketID(route CompiledRoute) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucketIDLocked(route)
}

// Hash returns the hash learned for a route key.
func (r *Registry) Hash(routeKey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hashes[routeKey]
	return h, ok
}

// GlobalReset returns the time until which every bucket is paused.
func (r *Registry) GlobalReset() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.globalReset
}

// Buckets returns a snapshot of every live bucket, sorted by id.
func (r *Registry) Buckets() []BucketInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]BucketInfo, 0, len(r.buckets))
	for _, b := range r.buckets {
		infos = append(infos, b.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Sweep removes idle buckets whose reset time has passed and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, b := range r.buckets {
		if b.idle(now) {
			delete(r.buckets, id)
			removed = append(removed, id)
		}
	}
	return removed
}
