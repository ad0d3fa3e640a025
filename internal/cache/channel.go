package cache

import (
	"sync"

	"github.com/guildwire/guildwire/internal/models"
)

// ChannelKind tags which kind-specific fields a Channel carries.
type ChannelKind int

const (
	KindText ChannelKind = iota
	KindVoice
	KindCategory
	KindNews
	KindStage
)

func (k ChannelKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindVoice:
		return "voice"
	case KindCategory:
		return "category"
	case KindNews:
		return "news"
	case KindStage:
		return "stage"
	default:
		return "unknown"
	}
}

// KindFromType maps a wire channel type to a kind. Unsupported types report false.
func KindFromType(t int) (ChannelKind, bool) {
	switch t {
	case models.ChannelTypeText:
		return KindText, true
	case models.ChannelTypeVoice:
		return KindVoice, true
	case models.ChannelTypeCategory:
		return KindCategory, true
	case models.ChannelTypeNews:
		return KindNews, true
	case models.ChannelTypeStage:
		return KindStage, true
	}
	return 0, false
}

// TextFields are set for text and news channels.
type TextFields struct {
	Topic         string
	NSFW          bool
	SlowMode      int
	LastMessageID models.Snowflake
}

// VoiceFields are set for voice and stage channels.
type VoiceFields struct {
	Bitrate   int
	UserLimit int
}

// Overwrite is a resolved permission overwrite. Exactly one of Role and
// Member is set.
type Overwrite struct {
	Role   *Role
	Member *Member
	Allow  models.Permissions
	Deny   models.Permissions
}

// TargetID returns the id of the role or member the overwrite applies to.
func (o Overwrite) TargetID() models.Snowflake {
	if o.Role != nil {
		return o.Role.ID
	}
	if o.Member != nil {
		return o.Member.ID()
	}
	return 0
}

// ChannelData holds a channel's mutable attributes.
type ChannelData struct {
	Kind       ChannelKind
	Name       string
	Position   int
	ParentID   models.Snowflake
	Text       *TextFields
	Voice      *VoiceFields
	Overwrites []Overwrite
}

// Channel is a guild channel of any kind.
type Channel struct {
	ID    models.Snowflake
	Guild *Guild

	mu   sync.RWMutex
	data ChannelData
}

func (c *Channel) Data() ChannelData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.data
	d.Overwrites = append([]Overwrite(nil), c.data.Overwrites...)
	return d
}

func (c *Channel) Kind() ChannelKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Kind
}

func (c *Channel) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Name
}

func (c *Channel) Position() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Position
}

// Overwrites returns the channel's permission overwrites.
func (c *Channel) Overwrites() []Overwrite {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Overwrite(nil), c.data.Overwrites...)
}

// Update applies fn to the channel's attributes in place.
func (c *Channel) Update(fn func(*ChannelData)) {
	c.mu.Lock()
	fn(&c.data)
	c.mu.Unlock()
}

// Parent returns the category the channel belongs to.
func (c *Channel) Parent() (*Channel, bool) {
	c.mu.RLock()
	parentID := c.data.ParentID
	c.mu.RUnlock()
	if parentID == 0 {
		return nil, false
	}
	return c.Guild.Channels.Get(parentID)
}

// ConnectedMembers returns the members whose voice state points at c.
func (c *Channel) ConnectedMembers() []*Member {
	var out []*Member
	for _, m := range c.Guild.Members.Values() {
		if vs := m.Voice(); vs != nil && vs.Channel == c {
			out = append(out, m)
		}
	}
	sortMembers(out)
	return out
}
