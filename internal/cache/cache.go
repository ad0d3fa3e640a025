package cache

import (
	"sort"
	"sync"

	"github.com/guildwire/guildwire/internal/models"
)

type userEntry struct {
	user *User
	refs int
}

// Cache is the per-client entity store. mu is the structural lock: it guards
// the guild table, the global channel and role indexes and the user table,
// so adding or removing an entity updates its guild and the global index in
// one step.
type Cache struct {
	mu       sync.RWMutex
	guilds   map[models.Snowflake]*Guild
	channels map[models.Snowflake]*Channel
	roles    map[models.Snowflake]*Role
	users    map[models.Snowflake]*userEntry
	self     models.Snowflake
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		guilds:   make(map[models.Snowflake]*Guild),
		channels: make(map[models.Snowflake]*Channel),
		roles:    make(map[models.Snowflake]*Role),
		users:    make(map[models.Snowflake]*userEntry),
	}
}

// Guild returns a guild that is ready or unavailable. Guilds under
// construction are hidden.
func (c *Cache) Guild(id models.Snowflake) (*Guild, bool) {
	g, ok := c.RawGuild(id)
	if !ok || g.Status() == StatusLocked {
		return nil, false
	}
	return g, true
}

// RawGuild returns a guild regardless of its status. It is meant for the
// snapshot builder and the setup controller.
func (c *Cache) RawGuild(id models.Snowflake) (*Guild, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.guilds[id]
	return g, ok
}

// Guilds returns every visible guild ordered by id.
func (c *Cache) Guilds() []*Guild {
	c.mu.RLock()
	out := make([]*Guild, 0, len(c.guilds))
	for _, g := range c.guilds {
		out = append(out, g)
	}
	c.mu.RUnlock()

	visible := out[:0]
	for _, g := range out {
		if g.Status() != StatusLocked {
			visible = append(visible, g)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })
	return visible
}

// GuildCount returns the number of guilds in any state.
func (c *Cache) GuildCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.guilds)
}

// Unavailable reports whether a known guild is in an outage.
func (c *Cache) Unavailable(id models.Snowflake) bool {
	g, ok := c.RawGuild(id)
	return ok && g.Status() == StatusUnavailable
}

// GuildOrCreate returns the guild with id, creating it locked if absent.
func (c *Cache) GuildOrCreate(id models.Snowflake) (g *Guild, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.guilds[id]; ok {
		return g, false
	}
	g = newGuild(id)
	c.guilds[id] = g
	return g, true
}

// DeleteGuild removes a guild and, in the same step, every channel and role
// of it from the global indexes. Member user references are released.
func (c *Cache) DeleteGuild(id models.Snowflake) (*Guild, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.guilds[id]
	if !ok {
		return nil, false
	}
	delete(c.guilds, id)

	for chID := range g.Channels.Drain() {
		delete(c.channels, chID)
	}
	for roleID := range g.Roles.Drain() {
		delete(c.roles, roleID)
	}
	for userID := range g.Members.Drain() {
		c.releaseUserLocked(userID)
	}
	return g, true
}

// Channel looks up a channel in the global index.
func (c *Cache) Channel(id models.Snowflake) (*Channel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ch, ok := c.channels[id]
	return ch, ok
}

// ChannelCount returns the size of the global channel index.
func (c *Cache) ChannelCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.channels)
}

// ChannelOrCreate returns g's channel with id, creating and indexing it if absent.
func (c *Cache) ChannelOrCreate(g *Guild, id models.Snowflake) (ch *Channel, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := g.Channels.Get(id); ok {
		return ch, false
	}
	ch = &Channel{ID: id, Guild: g}
	g.Channels.Put(id, ch)
	c.channels[id] = ch
	return ch, true
}

// RemoveChannel removes a channel from its guild and the global index.
func (c *Cache) RemoveChannel(g *Guild, id models.Snowflake) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := g.Channels.Remove(id)
	if ok {
		delete(c.channels, id)
	}
	return ch, ok
}

// Role looks up a role in the global index.
func (c *Cache) Role(id models.Snowflake) (*Role, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.roles[id]
	return r, ok
}

// RoleCount returns the size of the global role index.
func (c *Cache) RoleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roles)
}

// RoleOrCreate returns g's role with id, creating and indexing it if absent.
func (c *Cache) RoleOrCreate(g *Guild, id models.Snowflake) (r *Role, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := g.Roles.Get(id); ok {
		return r, false
	}
	r = &Role{ID: id, Guild: g}
	g.Roles.Put(id, r)
	c.roles[id] = r
	return r, true
}

// RemoveRole removes a role from its guild and the global index.
func (c *Cache) RemoveRole(g *Guild, id models.Snowflake) (*Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := g.Roles.Remove(id)
	if ok {
		delete(c.roles, id)
	}
	return r, ok
}

// MemberOrCreate returns g's member for user, creating it if absent. The
// shared User is created or updated from user and gains a reference when a
// new member is created.
func (c *Cache) MemberOrCreate(g *Guild, user models.User) (m *Member, created bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.upsertUserLocked(user)
	if m, ok := g.Members.Get(user.ID); ok {
		return m, false
	}
	c.users[user.ID].refs++
	m = &Member{Guild: g, User: u}
	g.Members.Put(user.ID, m)
	return m, true
}

// RemoveMember removes a member and releases its user reference.
func (c *Cache) RemoveMember(g *Guild, userID models.Snowflake) (*Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := g.Members.Remove(userID)
	if ok {
		c.releaseUserLocked(userID)
	}
	return m, ok
}

// User looks up a user referenced by at least one guild, or the session's own user.
func (c *Cache) User(id models.Snowflake) (*User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[id]
	if !ok {
		return nil, false
	}
	return e.user, true
}

// UserCount returns the number of cached users.
func (c *Cache) UserCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// UpdateUser refreshes a cached user's attributes. Unknown users are ignored.
func (c *Cache) UpdateUser(user models.User) (*User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.users[user.ID]
	if !ok {
		return nil, false
	}
	e.user.set(user)
	return e.user, true
}

// SetSelf records the session's own user. It is never evicted.
func (c *Cache) SetSelf(user models.User) *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.self = user.ID
	return c.upsertUserLocked(user)
}

// Self returns the session's own user.
func (c *Cache) Self() (*User, bool) {
	c.mu.RLock()
	id := c.self
	c.mu.RUnlock()
	if id == 0 {
		return nil, false
	}
	return c.User(id)
}

func (c *Cache) upsertUserLocked(data models.User) *User {
	e, ok := c.users[data.ID]
	if !ok {
		e = &userEntry{user: &User{ID: data.ID}}
		c.users[data.ID] = e
	}
	e.user.set(data)
	return e.user
}

func (c *Cache) releaseUserLocked(id models.Snowflake) {
	e, ok := c.users[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 && id != c.self {
		delete(c.users, id)
	}
}
