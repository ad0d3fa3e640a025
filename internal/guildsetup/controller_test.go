package guildsetup

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildwire/guildwire/internal/cache"
	"github.com/guildwire/guildwire/internal/config"
	"github.com/guildwire/guildwire/internal/events"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/snapshot"
)

type fakeRequester struct {
	mu      sync.Mutex
	members []models.Snowflake
	syncs   []models.Snowflake
}

func (f *fakeRequester) RequestGuildMembers(id models.Snowflake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members = append(f.members, id)
	return nil
}

func (f *fakeRequester) RequestGuildSync(ids ...models.Snowflake) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, ids...)
	return nil
}

func (f *fakeRequester) memberRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.members)
}

type harness struct {
	cache *cache.Cache
	req   *fakeRequester
	bus   *events.EventBus
	ctrl  *Controller

	mu       sync.Mutex
	replayed []string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{cache: cache.New(), req: &fakeRequester{}, bus: events.NewEventBus(100)}
	t.Cleanup(h.bus.Close)
	opts.Bus = h.bus
	opts.Logger = logging.NewNop()
	opts.Replay = func(_ models.Snowflake, ev Event) {
		h.mu.Lock()
		h.replayed = append(h.replayed, ev.Type)
		h.mu.Unlock()
	}
	h.ctrl = NewController(snapshot.NewBuilder(h.cache, logging.NewNop()), h.req, opts)
	return h
}

func (h *harness) replays() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.replayed...)
}

func member(id models.Snowflake) models.Member {
	return models.Member{User: &models.User{ID: id, Username: "u" + id.String()}}
}

func guildPayload(id models.Snowflake, count int, inline ...models.Snowflake) *models.Guild {
	p := &models.Guild{ID: id, Name: "g" + id.String(), MemberCount: count}
	for _, m := range inline {
		p.Members = append(p.Members, member(m))
	}
	return p
}

func TestSmallGuildReadyWithoutChunkRequest(t *testing.T) {
	h := newHarness(t, Options{})
	fired := 0
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 2, 10, 11), func(*cache.Guild) { fired++ })

	assert.True(t, comp.Resolved())
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, h.req.memberRequests())

	st, ok := h.ctrl.State(1)
	require.True(t, ok)
	assert.Equal(t, StateReady, st)

	g, ok := h.cache.Guild(1)
	require.True(t, ok)
	assert.Equal(t, cache.StatusReady, g.Status())
	assert.Equal(t, 2, g.Members.Len())
}

func TestLargeGuildReadyAfterLastChunk(t *testing.T) {
	h := newHarness(t, Options{})
	var readyGuilds []*cache.Guild
	h.ctrl.OnGuildReady(func(g *cache.Guild) { readyGuilds = append(readyGuilds, g) })
	fired := 0
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), func(*cache.Guild) { fired++ })

	assert.Equal(t, 1, h.req.memberRequests())
	st, _ := h.ctrl.State(1)
	assert.Equal(t, StateAwaitingChunks, st)
	_, visible := h.cache.Guild(1)
	assert.False(t, visible, "locked guild is hidden")

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11)}, ChunkIndex: 0, ChunkCount: 2})
	st, _ = h.ctrl.State(1)
	assert.Equal(t, StateCollecting, st)
	assert.False(t, comp.Resolved())
	assert.Equal(t, 0, fired)

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(12)}, ChunkIndex: 1, ChunkCount: 2})
	assert.True(t, comp.Resolved())
	assert.Equal(t, 1, fired)
	require.Len(t, readyGuilds, 1)
	assert.Equal(t, []models.Snowflake{10, 11, 12}, readyGuilds[0].Members.IDs())

	// A late duplicate chunk does not fire again.
	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(12)}, ChunkIndex: 1, ChunkCount: 2})
	assert.Equal(t, 1, fired)
	assert.Len(t, readyGuilds, 1)
}

func TestChunksOutOfOrderAndDuplicates(t *testing.T) {
	h := newHarness(t, Options{})
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), nil)

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(12), member(10)}, ChunkIndex: 2, ChunkCount: 3})
	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(12)}, ChunkIndex: 1, ChunkCount: 3})
	assert.False(t, comp.Resolved())

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11)}, ChunkIndex: 0, ChunkCount: 3})
	g, err := comp.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, g.Members.Len())
}

func TestChunkIndexCompletesWhenCountDrifts(t *testing.T) {
	h := newHarness(t, Options{})
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 5, 10), nil)

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11)}, ChunkIndex: 0, ChunkCount: 2})
	assert.False(t, comp.Resolved())
	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(12)}, ChunkIndex: 1, ChunkCount: 2})
	assert.True(t, comp.Resolved())
}

func TestDeferredEventsReplayInOrder(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.BeginFirstPass(guildPayload(1, 2, 10), nil)

	assert.True(t, h.ctrl.DeferIfLocked(1, Event{Type: "GUILD_ROLE_CREATE", Data: json.RawMessage(`{}`)}))
	assert.True(t, h.ctrl.DeferIfLocked(1, Event{Type: "GUILD_ROLE_UPDATE"}))
	assert.True(t, h.ctrl.DeferIfLocked(1, Event{Type: "GUILD_ROLE_DELETE"}))
	assert.False(t, h.ctrl.DeferIfLocked(99, Event{Type: "CHANNEL_CREATE"}), "unknown guilds are not deferred")
	assert.Empty(t, h.replays())

	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11)}, ChunkCount: 1})
	assert.Equal(t, []string{"GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE", "GUILD_ROLE_DELETE"}, h.replays())
	assert.False(t, h.ctrl.DeferIfLocked(1, Event{Type: "GUILD_ROLE_CREATE"}))
}

func TestOutageAndRecoveryFireReadyTwice(t *testing.T) {
	h := newHarness(t, Options{})
	unavailable := h.bus.Subscribe(events.EventGuildUnavailable)
	var ready []*cache.Guild
	h.ctrl.OnGuildReady(func(g *cache.Guild) { ready = append(ready, g) })

	h.ctrl.BeginFirstPass(guildPayload(1, 1, 10), nil)
	require.Len(t, ready, 1)

	h.ctrl.HandleGuildDelete(1, true)
	st, _ := h.ctrl.State(1)
	assert.Equal(t, StateUnavailable, st)
	assert.True(t, h.cache.Unavailable(1))
	select {
	case ev := <-unavailable:
		assert.Equal(t, models.Snowflake(1), ev.(*events.GuildEvent).GuildID)
	case <-time.After(time.Second):
		t.Fatal("no guild_unavailable event")
	}

	assert.True(t, h.ctrl.DeferIfLocked(1, Event{Type: "GUILD_MEMBER_ADD"}))

	h.ctrl.BeginFirstPass(guildPayload(1, 1, 10), nil)
	require.Len(t, ready, 2)
	assert.Same(t, ready[0], ready[1])
	assert.False(t, h.cache.Unavailable(1))
	assert.Equal(t, []string{"GUILD_MEMBER_ADD"}, h.replays())
}

func TestRecoveryPrunesStaleMembers(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.BeginFirstPass(guildPayload(1, 2, 10, 11), nil)
	g, _ := h.cache.Guild(1)
	kept, _ := g.Members.Get(10)

	h.ctrl.BeginFirstPass(guildPayload(1, 1, 10), nil)
	assert.Equal(t, []models.Snowflake{10}, g.Members.IDs())
	again, _ := g.Members.Get(10)
	assert.Same(t, kept, again)
}

func TestChunkTimeoutFinalizesPartialGuild(t *testing.T) {
	h := newHarness(t, Options{ChunkTimeout: 50 * time.Millisecond})
	ready := h.bus.Subscribe(events.EventGuildReady)
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	g, err := comp.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, cache.StatusReady, g.Status())
	assert.Equal(t, 1, g.Members.Len())

	select {
	case ev := <-ready:
		assert.True(t, ev.(*events.GuildEvent).Partial)
	case <-time.After(time.Second):
		t.Fatal("no guild_ready event")
	}
}

func TestChunkTimeoutDisarmedByCompletion(t *testing.T) {
	h := newHarness(t, Options{ChunkTimeout: 30 * time.Millisecond})
	fired := 0
	h.ctrl.BeginFirstPass(guildPayload(1, 2, 10), func(*cache.Guild) { fired++ })
	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11)}, ChunkCount: 1})

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, fired)
}

func TestUnavailableFirstPass(t *testing.T) {
	h := newHarness(t, Options{})
	var got *cache.Guild
	comp := h.ctrl.BeginFirstPass(&models.Guild{ID: 5, Unavailable: true}, func(g *cache.Guild) { got = g })

	require.NotNil(t, got)
	assert.True(t, comp.Resolved())
	assert.True(t, h.cache.Unavailable(5))
	st, _ := h.ctrl.State(5)
	assert.Equal(t, StateUnavailable, st)
	assert.Equal(t, 0, h.req.memberRequests())
}

func TestRemovalResolvesPendingCompletion(t *testing.T) {
	h := newHarness(t, Options{})
	removed := h.bus.Subscribe(events.EventGuildRemoved)
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), nil)
	h.ctrl.DeferIfLocked(1, Event{Type: "CHANNEL_CREATE"})

	h.ctrl.HandleGuildDelete(1, false)
	_, err := comp.Wait(context.Background())
	assert.ErrorIs(t, err, ErrGuildRemoved)
	_, ok := h.ctrl.State(1)
	assert.False(t, ok)
	_, ok = h.cache.RawGuild(1)
	assert.False(t, ok)
	assert.Empty(t, h.replays())

	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("no guild_removed event")
	}
}

func TestRemovalDropsPendingReadyCallbacks(t *testing.T) {
	h := newHarness(t, Options{})
	listened := 0
	h.ctrl.OnGuildReady(func(*cache.Guild) { listened++ })
	fired := 0
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), func(*cache.Guild) { fired++ })

	h.ctrl.HandleGuildDelete(1, false)
	// A chunk arriving after removal must not revive the guild.
	h.ctrl.HandleChunk(&models.GuildMembersChunk{GuildID: 1, Members: []models.Member{member(11), member(12)}, ChunkIndex: 0, ChunkCount: 1})

	_, err := comp.Wait(context.Background())
	assert.ErrorIs(t, err, ErrGuildRemoved)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 0, listened)
}

func TestListenerAddedDuringReadyRunsNextTime(t *testing.T) {
	h := newHarness(t, Options{})
	late := 0
	added := false
	h.ctrl.OnGuildReady(func(*cache.Guild) {
		if !added {
			added = true
			h.ctrl.OnGuildReady(func(*cache.Guild) { late++ })
		}
	})

	h.ctrl.BeginFirstPass(guildPayload(1, 1, 10), nil)
	assert.Equal(t, 0, late)
	h.ctrl.BeginFirstPass(guildPayload(2, 1, 10), nil)
	assert.Equal(t, 1, late)
}

func TestSessionReadyAfterAllGuildsSettle(t *testing.T) {
	h := newHarness(t, Options{})
	sessions := 0
	h.ctrl.OnSessionReady(func() { sessions++ })

	h.ctrl.ExpectGuilds("s1", []models.UnavailableGuild{{ID: 1, Unavailable: true}, {ID: 2, Unavailable: true}})
	assert.True(t, h.ctrl.Loading())
	assert.True(t, h.cache.Unavailable(1))

	h.ctrl.BeginFirstPass(guildPayload(1, 1, 10), nil)
	assert.Equal(t, 0, sessions)

	h.ctrl.BeginFirstPass(&models.Guild{ID: 2, Unavailable: true}, nil)
	assert.Equal(t, 1, sessions)
	assert.False(t, h.ctrl.Loading())

	// Later guilds do not repeat the notification.
	h.ctrl.BeginFirstPass(guildPayload(3, 1, 10), nil)
	assert.Equal(t, 1, sessions)
}

func TestSessionReadyWithNoGuilds(t *testing.T) {
	h := newHarness(t, Options{})
	ch := h.bus.Subscribe(events.EventSessionReady)
	h.ctrl.ExpectGuilds("s1", nil)

	select {
	case ev := <-ch:
		assert.Equal(t, "s1", ev.(*events.SessionEvent).SessionID)
	case <-time.After(time.Second):
		t.Fatal("no session_ready event")
	}
}

func TestClientAccountRequestsSync(t *testing.T) {
	h := newHarness(t, Options{AccountType: config.AccountClient})
	h.ctrl.BeginFirstPass(guildPayload(1, 3, 10), nil)

	h.req.mu.Lock()
	defer h.req.mu.Unlock()
	assert.Equal(t, []models.Snowflake{1}, h.req.members)
	assert.Equal(t, []models.Snowflake{1}, h.req.syncs)
}

func TestGuildSyncCompletesSetup(t *testing.T) {
	h := newHarness(t, Options{AccountType: config.AccountClient})
	comp := h.ctrl.BeginFirstPass(guildPayload(1, 2, 10), nil)

	h.ctrl.HandleSync(&models.GuildSync{ID: 1, Members: []models.Member{member(10), member(11)}})
	assert.True(t, comp.Resolved())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_chunks", StateAwaitingChunks.String())
	assert.Equal(t, "unknown", State(42).String())
}
