package cache

import (
	"sync"

	"github.com/guildwire/guildwire/internal/models"
)

// User is a cached account, shared by every guild the user is a member of.
type User struct {
	ID models.Snowflake

	mu   sync.RWMutex
	data models.User
}

// Data returns a copy of the user's attributes.
func (u *User) Data() models.User {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.data
}

// Name returns the user's display name.
func (u *User) Name() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.data.GlobalName != "" {
		return u.data.GlobalName
	}
	return u.data.Username
}

func (u *User) set(data models.User) {
	u.mu.Lock()
	u.data = data
	u.data.ID = u.ID
	u.mu.Unlock()
}

// RoleData holds a role's mutable attributes.
type RoleData struct {
	Name        string
	Color       int
	Hoist       bool
	Position    int
	Permissions models.Permissions
	Managed     bool
	Mentionable bool
}

// Role is a guild role. Updates mutate the same object.
type Role struct {
	ID    models.Snowflake
	Guild *Guild

	mu   sync.RWMutex
	data RoleData
}

func (r *Role) Data() RoleData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data
}

func (r *Role) Position() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Position
}

func (r *Role) Permissions() models.Permissions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.Permissions
}

// Update applies fn to the role's attributes in place.
func (r *Role) Update(fn func(*RoleData)) {
	r.mu.Lock()
	fn(&r.data)
	r.mu.Unlock()
}

// VoiceState is a member's connection to a voice channel.
type VoiceState struct {
	Channel   *Channel
	SessionID string
	Deaf      bool
	Mute      bool
	SelfDeaf  bool
	SelfMute  bool
	Suppress  bool
}

// MemberData holds a member's mutable attributes.
type MemberData struct {
	Nick     string
	Roles    []*Role
	JoinedAt string
	Deaf     bool
	Mute     bool
	Voice    *VoiceState
}

// Member is a user's membership in one guild. Guild and User are
// back-references; the member is owned by its guild.
type Member struct {
	Guild *Guild
	User  *User

	mu   sync.RWMutex
	data MemberData
}

// ID returns the member's user id.
func (m *Member) ID() models.Snowflake { return m.User.ID }

func (m *Member) Data() MemberData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d := m.data
	d.Roles = append([]*Role(nil), m.data.Roles...)
	return d
}

// Roles returns the member's roles.
func (m *Member) Roles() []*Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Role(nil), m.data.Roles...)
}

// Voice returns the member's voice state, or nil when not connected.
func (m *Member) Voice() *VoiceState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Voice
}

// Update applies fn to the member's attributes in place.
func (m *Member) Update(fn func(*MemberData)) {
	m.mu.Lock()
	fn(&m.data)
	m.mu.Unlock()
}

// Nickname returns the guild nickname, or the user's name when unset.
func (m *Member) Nickname() string {
	m.mu.RLock()
	nick := m.data.Nick
	m.mu.RUnlock()
	if nick != "" {
		return nick
	}
	return m.User.Name()
}
