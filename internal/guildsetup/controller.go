// Package guildsetup sequences guild construction: first pass, member chunk
// collection and the second pass, holding back gateway events for a guild
// until it is ready.
package guildsetup

import (
	"sync"
	"time"

	"github.com/guildwire/guildwire/internal/cache"
	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/events"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/snapshot"
)

// Requester emits the outbound gateway frames setup needs. Implementations
// must not block on the network.
type Requester interface {
	RequestGuildMembers(guildID models.Snowflake) error
	RequestGuildSync(guildIDs ...models.Snowflake) error
}

// Options configures a Controller.
type Options struct {
	// AccountType is config.AccountBot or config.AccountClient. Client
	// accounts also send a sync request for guilds that need chunking.
	AccountType string

	// ChunkTimeout bounds how long a guild may wait for member chunks.
	// Zero waits forever; otherwise the guild is finalized with the members
	// received so far.
	ChunkTimeout time.Duration

	// Scheduler runs timer-driven work, normally on the gateway's event
	// goroutine. Defaults to running inline.
	Scheduler func(func())

	// Replay receives deferred events once their guild is ready, in the
	// order they were deferred.
	Replay func(guildID models.Snowflake, ev Event)

	Bus    *events.EventBus
	Logger *logging.Logger
}

type node struct {
	id    models.Snowflake
	state State

	payload    *models.Guild
	expected   int
	seen       map[models.Snowflake]bool
	chunks     map[int]bool
	chunkCount int

	completion *Completion
	onReady    []func(*cache.Guild)
	deferred   []Event

	timer *time.Timer
	gen   uint64
}

// Controller owns the per-guild setup state. Its mutating methods are called
// from the gateway's event goroutine; State and DeferIfLocked are safe from
// any goroutine.
type Controller struct {
	builder   *snapshot.Builder
	requester Requester
	opts      Options
	logger    *logging.Logger

	mu               sync.Mutex
	nodes            map[models.Snowflake]*node
	readyListeners   []func(*cache.Guild)
	sessionListeners []func()

	loading   bool
	sessionID string
	pending   map[models.Snowflake]bool
	loaded    int
}

// NewController creates a controller that builds guilds with b and asks for
// members through r.
func NewController(b *snapshot.Builder, r Requester, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = func(fn func()) { fn() }
	}
	if opts.AccountType == "" {
		opts.AccountType = config.AccountBot
	}
	return &Controller{
		builder:   b,
		requester: r,
		opts:      opts,
		logger:    opts.Logger.Component("guildsetup"),
		nodes:     make(map[models.Snowflake]*node),
	}
}

// OnGuildReady registers fn to run each time a guild reaches READY,
// including after recovering from an outage.
func (c *Controller) OnGuildReady(fn func(*cache.Guild)) {
	c.mu.Lock()
	c.readyListeners = append(c.readyListeners, fn)
	c.mu.Unlock()
}

// OnSessionReady registers fn to run once the initial guild load finishes.
func (c *Controller) OnSessionReady(fn func()) {
	c.mu.Lock()
	c.sessionListeners = append(c.sessionListeners, fn)
	c.mu.Unlock()
}

// State returns the setup state of a guild.
func (c *Controller) State(id models.Snowflake) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return 0, false
	}
	return n.state, true
}

// Loading reports whether the initial guild load is still in progress.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Controller) nodeLocked(id models.Snowflake) *node {
	n, ok := c.nodes[id]
	if !ok {
		n = &node{id: id, state: StateUnavailable}
		c.nodes[id] = n
	}
	return n
}

// ExpectGuilds starts tracking the initial load for a new session. Guilds not
// seen before are recorded as unavailable until their guild-create arrives.
func (c *Controller) ExpectGuilds(sessionID string, guilds []models.UnavailableGuild) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.pending = make(map[models.Snowflake]bool, len(guilds))
	c.loaded = 0
	c.loading = true
	for _, ug := range guilds {
		if _, ok := c.nodes[ug.ID]; !ok {
			c.nodeLocked(ug.ID)
			c.builder.MarkUnavailable(ug.ID)
		}
		c.pending[ug.ID] = true
	}
	empty := len(c.pending) == 0
	c.mu.Unlock()

	c.logger.Info().Str("session_id", sessionID).Int("guilds", len(guilds)).Msg("waiting for guilds")
	if empty {
		c.finishLoad()
	}
}

// DeferIfLocked queues ev when guildID is under construction or unavailable
// and reports whether it did. Events for guilds the controller has never
// seen are not deferred.
func (c *Controller) DeferIfLocked(guildID models.Snowflake, ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[guildID]
	if !ok || !n.state.locked() {
		return false
	}
	n.deferred = append(n.deferred, ev)
	c.logger.Trace().Str("guild_id", guildID.String()).Str("event", ev.Type).Int("queued", len(n.deferred)).Msg("deferred event")
	return true
}

// BeginFirstPass starts construction of the guild in p. onReady, when not
// nil, runs once the guild is ready or confirmed unavailable. The returned
// completion fires at the same point. If the guild is removed first, onReady
// never runs and the completion fails with ErrGuildRemoved.
func (c *Controller) BeginFirstPass(p *models.Guild, onReady func(*cache.Guild)) *Completion {
	c.mu.Lock()
	n := c.nodeLocked(p.ID)
	c.stopTimerLocked(n)
	if n.completion == nil || n.completion.Resolved() {
		n.completion = newCompletion()
	}
	if onReady != nil {
		n.onReady = append(n.onReady, onReady)
	}
	comp := n.completion

	if p.Unavailable {
		wasReady := n.state == StateReady
		n.state = StateUnavailable
		n.payload, n.seen, n.chunks = nil, nil, nil
		g := c.builder.MarkUnavailable(p.ID)
		callbacks := n.onReady
		n.onReady = nil
		c.mu.Unlock()

		comp.resolve(g, nil)
		for _, cb := range callbacks {
			cb(g)
		}
		if wasReady {
			c.publish(events.EventGuildUnavailable, g, false)
		}
		c.settle(p.ID)
		return comp
	}

	n.state = StateInitializing
	g := c.builder.FirstPass(p)
	n.payload = p
	n.expected = p.MemberCount
	n.seen = make(map[models.Snowflake]bool, len(p.Members))
	for _, m := range p.Members {
		if m.User != nil {
			n.seen[m.User.ID] = true
		}
	}
	n.chunks = make(map[int]bool)
	n.chunkCount = 0

	if len(p.Members) >= p.MemberCount {
		fire := c.finalizeLocked(n, g, false)
		c.mu.Unlock()
		c.fire(fire)
		return comp
	}

	n.state = StateAwaitingChunks
	c.armTimerLocked(n)
	c.mu.Unlock()

	c.logger.Debug().
		Str("guild_id", p.ID.String()).
		Int("inline", len(p.Members)).
		Int("member_count", p.MemberCount).
		Msg("requesting member chunks")
	if err := c.requester.RequestGuildMembers(p.ID); err != nil {
		c.logger.Error().Err(err).Str("guild_id", p.ID.String()).Msg("failed to request guild members")
	}
	if c.opts.AccountType == config.AccountClient {
		if err := c.requester.RequestGuildSync(p.ID); err != nil {
			c.logger.Error().Err(err).Str("guild_id", p.ID.String()).Msg("failed to request guild sync")
		}
	}
	return comp
}

// HandleChunk merges a member chunk. Chunks for guilds that are not
// collecting are merged without affecting setup.
func (c *Controller) HandleChunk(chunk *models.GuildMembersChunk) {
	c.collect(chunk.GuildID, chunk.Members, chunk.ChunkIndex, chunk.ChunkCount)
}

// HandleSync merges the member list of a guild-sync event.
func (c *Controller) HandleSync(sync *models.GuildSync) {
	c.collect(sync.ID, sync.Members, -1, 0)
}

func (c *Controller) collect(id models.Snowflake, members []models.Member, index, count int) {
	c.mu.Lock()
	g, ok := c.builder.Cache().RawGuild(id)
	if !ok {
		c.mu.Unlock()
		c.logger.Debug().Str("guild_id", id.String()).Msg("members for unknown guild")
		return
	}
	n, ok := c.nodes[id]
	collecting := ok && (n.state == StateAwaitingChunks || n.state == StateCollecting)
	c.builder.MergeMembers(g, members)
	if !collecting {
		c.mu.Unlock()
		return
	}

	n.state = StateCollecting
	for _, m := range members {
		if m.User != nil {
			n.seen[m.User.ID] = true
		}
	}
	if count > 0 {
		n.chunkCount = count
		n.chunks[index] = true
	}

	complete := len(n.seen) >= n.expected || (n.chunkCount > 0 && len(n.chunks) >= n.chunkCount)
	if !complete {
		c.mu.Unlock()
		return
	}
	fire := c.finalizeLocked(n, g, false)
	c.mu.Unlock()
	c.fire(fire)
}

// HandleGuildDelete applies a guild-delete. With unavailable set the guild
// enters an outage; otherwise it is removed with everything it owns, its
// pending onReady callbacks are dropped and its completion fails.
func (c *Controller) HandleGuildDelete(id models.Snowflake, unavailable bool) {
	c.mu.Lock()
	if unavailable {
		n := c.nodeLocked(id)
		c.stopTimerLocked(n)
		was := n.state
		n.state = StateUnavailable
		n.payload, n.seen, n.chunks = nil, nil, nil
		g := c.builder.MarkUnavailable(id)
		c.mu.Unlock()

		if was != StateUnavailable {
			c.logger.Warn().Str("guild_id", id.String()).Str("from", was.String()).Msg("guild unavailable")
			c.publish(events.EventGuildUnavailable, g, false)
		}
		c.settle(id)
		return
	}

	n, ok := c.nodes[id]
	var comp *Completion
	if ok {
		c.stopTimerLocked(n)
		comp = n.completion
		n.onReady = nil
		delete(c.nodes, id)
	}
	g, removed := c.builder.RemoveGuild(id)
	c.mu.Unlock()

	if comp != nil {
		comp.resolve(nil, ErrGuildRemoved)
	}
	if removed {
		c.logger.Info().Str("guild_id", id.String()).Msg("guild removed")
		c.publish(events.EventGuildRemoved, g, false)
	}
	c.settle(id)
}

type readyFire struct {
	guild      *cache.Guild
	completion *Completion
	callbacks  []func(*cache.Guild)
	listeners  []func(*cache.Guild)
	partial    bool
}

// finalizeLocked runs the second pass and moves n to READY. The returned
// notifications must be fired after c.mu is released.
func (c *Controller) finalizeLocked(n *node, g *cache.Guild, partial bool) readyFire {
	c.stopTimerLocked(n)
	if n.payload != nil {
		c.builder.SecondPass(g, n.payload)
	}
	if !partial && n.seen != nil {
		if pruned := c.builder.PruneMembers(g, n.seen); pruned > 0 {
			c.logger.Debug().Str("guild_id", g.ID.String()).Int("pruned", pruned).Msg("removed stale members")
		}
	}
	n.state = StateReady
	n.payload, n.seen, n.chunks = nil, nil, nil
	g.SetStatus(cache.StatusReady)

	f := readyFire{
		guild:      g,
		completion: n.completion,
		callbacks:  n.onReady,
		listeners:  append([]func(*cache.Guild){}, c.readyListeners...),
		partial:    partial,
	}
	n.onReady = nil
	return f
}

func (c *Controller) fire(f readyFire) {
	g := f.guild
	f.completion.resolve(g, nil)

	ev := c.logger.Info()
	if f.partial {
		ev = c.logger.Warn()
	}
	ev.Str("guild_id", g.ID.String()).
		Str("name", g.Name()).
		Int("members", g.Members.Len()).
		Int("member_count", g.MemberCount()).
		Bool("partial", f.partial).
		Msg("guild ready")

	for _, cb := range f.callbacks {
		cb(g)
	}
	for _, fn := range f.listeners {
		fn(g)
	}
	c.publish(events.EventGuildReady, g, f.partial)
	c.replay(g.ID)
	c.settle(g.ID)
}

// replay hands deferred events to the replay hook one at a time. It stops if
// a replayed event locks the guild again.
func (c *Controller) replay(id models.Snowflake) {
	for {
		c.mu.Lock()
		n, ok := c.nodes[id]
		if !ok || n.state.locked() || len(n.deferred) == 0 {
			c.mu.Unlock()
			return
		}
		ev := n.deferred[0]
		n.deferred = n.deferred[1:]
		c.mu.Unlock()

		if c.opts.Replay == nil {
			c.logger.Debug().Str("guild_id", id.String()).Str("event", ev.Type).Msg("dropping deferred event")
			continue
		}
		c.opts.Replay(id, ev)
	}
}

// settle records that a guild from the session's READY has been resolved.
func (c *Controller) settle(id models.Snowflake) {
	c.mu.Lock()
	if !c.loading || !c.pending[id] {
		c.mu.Unlock()
		return
	}
	delete(c.pending, id)
	c.loaded++
	done := len(c.pending) == 0
	c.mu.Unlock()

	if done {
		c.finishLoad()
	}
}

func (c *Controller) finishLoad() {
	c.mu.Lock()
	if !c.loading {
		c.mu.Unlock()
		return
	}
	c.loading = false
	sessionID := c.sessionID
	listeners := append([]func(){}, c.sessionListeners...)
	unavailable := 0
	for _, n := range c.nodes {
		if n.state == StateUnavailable {
			unavailable++
		}
	}
	total := c.loaded
	c.mu.Unlock()

	c.logger.Info().Str("session_id", sessionID).Int("guilds", total).Int("unavailable", unavailable).Msg("session ready")
	for _, fn := range listeners {
		fn()
	}
	if c.opts.Bus != nil {
		c.opts.Bus.PublishSessionReady(sessionID, total, unavailable)
	}
}

func (c *Controller) publish(t events.EventType, g *cache.Guild, partial bool) {
	if c.opts.Bus == nil || g == nil {
		return
	}
	c.opts.Bus.PublishGuild(t, g.ID, g.Name(), g.MemberCount(), g.Members.Len(), partial)
}

func (c *Controller) armTimerLocked(n *node) {
	if c.opts.ChunkTimeout <= 0 {
		return
	}
	gen := n.gen
	id := n.id
	n.timer = time.AfterFunc(c.opts.ChunkTimeout, func() {
		c.opts.Scheduler(func() { c.chunkTimeout(id, gen) })
	})
}

// stopTimerLocked disarms n's chunk timer and invalidates any callback
// already in flight.
func (c *Controller) stopTimerLocked(n *node) {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.gen++
}

func (c *Controller) chunkTimeout(id models.Snowflake, gen uint64) {
	c.mu.Lock()
	n, ok := c.nodes[id]
	if !ok || n.gen != gen || (n.state != StateAwaitingChunks && n.state != StateCollecting) {
		c.mu.Unlock()
		return
	}
	g, ok := c.builder.Cache().RawGuild(id)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.logger.Warn().
		Str("guild_id", id.String()).
		Int("received", len(n.seen)).
		Int("expected", n.expected).
		Dur("timeout", c.opts.ChunkTimeout).
		Msg("member chunks timed out, finalizing with partial member list")
	fire := c.finalizeLocked(n, g, true)
	c.mu.Unlock()
	c.fire(fire)
}
