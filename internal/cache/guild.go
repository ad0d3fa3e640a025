package cache

import (
	"sort"
	"sync"

	"github.com/guildwire/guildwire/internal/models"
)

// Status is a guild's visibility to readers outside the setup controller.
type Status int

const (
	// StatusLocked guilds are under construction and hidden from readers.
	StatusLocked Status = iota
	// StatusReady guilds are fully built.
	StatusReady
	// StatusUnavailable guilds are in an outage.
	StatusUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "locked"
	case StatusReady:
		return "ready"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// GuildData holds a guild's top-level attributes.
type GuildData struct {
	Name              string
	Icon              string
	OwnerID           models.Snowflake
	Region            string
	AFKChannelID      models.Snowflake
	AFKTimeout        int
	VerificationLevel int
	MemberCount       int
	Large             bool
}

// Guild is the snapshot of one guild. The object is created on first contact
// and mutated in place afterwards, so references held elsewhere stay valid.
type Guild struct {
	ID models.Snowflake

	Roles    *SnowflakeCache[*Role]
	Channels *SnowflakeCache[*Channel]
	Members  *SnowflakeCache[*Member]

	mu     sync.RWMutex
	data   GuildData
	status Status
}

func newGuild(id models.Snowflake) *Guild {
	return &Guild{
		ID:       id,
		Roles:    NewSnowflakeCache[*Role](),
		Channels: NewSnowflakeCache[*Channel](),
		Members:  NewSnowflakeCache[*Member](),
		status:   StatusLocked,
	}
}

func (g *Guild) Data() GuildData {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data
}

func (g *Guild) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.Name
}

// MemberCount returns the member count declared by the server.
func (g *Guild) MemberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.data.MemberCount
}

// Update applies fn to the guild's attributes in place.
func (g *Guild) Update(fn func(*GuildData)) {
	g.mu.Lock()
	fn(&g.data)
	g.mu.Unlock()
}

func (g *Guild) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// SetStatus is called by the setup controller as the guild changes state.
func (g *Guild) SetStatus(s Status) {
	g.mu.Lock()
	g.status = s
	g.mu.Unlock()
}

// Available reports whether the guild is not in an outage.
func (g *Guild) Available() bool {
	return g.Status() != StatusUnavailable
}

// Owner returns the owning member if cached.
func (g *Guild) Owner() (*Member, bool) {
	g.mu.RLock()
	owner := g.data.OwnerID
	g.mu.RUnlock()
	return g.Members.Get(owner)
}

// SortedRoles returns roles ordered by position descending, then id ascending.
func (g *Guild) SortedRoles() []*Role {
	roles := g.Roles.Values()
	type keyed struct {
		role *Role
		pos  int
	}
	ks := make([]keyed, len(roles))
	for i, r := range roles {
		ks[i] = keyed{r, r.Position()}
	}
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].pos != ks[j].pos {
			return ks[i].pos > ks[j].pos
		}
		return ks[i].role.ID < ks[j].role.ID
	})
	for i := range ks {
		roles[i] = ks[i].role
	}
	return roles
}

// SortedChannels returns channels ordered by position ascending, then id ascending.
func (g *Guild) SortedChannels() []*Channel {
	channels := g.Channels.Values()
	type keyed struct {
		ch  *Channel
		pos int
	}
	ks := make([]keyed, len(channels))
	for i, c := range channels {
		ks[i] = keyed{c, c.Position()}
	}
	sort.Slice(ks, func(i, j int) bool {
		if ks[i].pos != ks[j].pos {
			return ks[i].pos < ks[j].pos
		}
		return ks[i].ch.ID < ks[j].ch.ID
	})
	for i := range ks {
		channels[i] = ks[i].ch
	}
	return channels
}

// SortedMembers returns members ordered by user id.
func (g *Guild) SortedMembers() []*Member {
	members := g.Members.Values()
	sortMembers(members)
	return members
}

func sortMembers(members []*Member) {
	sort.Slice(members, func(i, j int) bool { return members[i].ID() < members[j].ID() })
}
