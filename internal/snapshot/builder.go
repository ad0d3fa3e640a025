// Package snapshot translates gateway payloads into entity cache mutations.
package snapshot

import (
	"github.com/guildwire/guildwire/internal/cache"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
)

// Builder applies payloads to one client's cache. It is not safe for
// concurrent use; the gateway session drives it from one goroutine.
type Builder struct {
	cache  *cache.Cache
	logger *logging.Logger
}

// NewBuilder creates a builder over c.
func NewBuilder(c *cache.Cache, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{cache: c, logger: logger.Component("snapshot")}
}

// Cache returns the cache the builder mutates.
func (b *Builder) Cache() *cache.Cache {
	return b.cache
}

// skip logs a protocol error and returns it.
func (b *Builder) skip(err *ProtocolError) error {
	b.logger.Warn().
		Str("guild_id", err.GuildID.String()).
		Str("entity", err.Entity).
		Str("id", err.ID.String()).
		Msg(err.Reason)
	return err
}

// MarkUnavailable records an outage for id, creating the guild if needed.
func (b *Builder) MarkUnavailable(id models.Snowflake) *cache.Guild {
	g, _ := b.cache.GuildOrCreate(id)
	g.SetStatus(cache.StatusUnavailable)
	return g
}

// RemoveGuild deletes a guild and everything it owns.
func (b *Builder) RemoveGuild(id models.Snowflake) (*cache.Guild, bool) {
	return b.cache.DeleteGuild(id)
}

// FirstPass applies the guild-create payload p without permission overwrites
// or voice states. Roles are built before members so member role sets can be
// resolved. An existing guild is updated in place; roles and channels absent
// from p are removed. The guild is left locked.
func (b *Builder) FirstPass(p *models.Guild) *cache.Guild {
	g, _ := b.cache.GuildOrCreate(p.ID)
	g.SetStatus(cache.StatusLocked)
	b.UpdateGuild(g, p)

	keepRoles := make(map[models.Snowflake]bool, len(p.Roles))
	for _, r := range p.Roles {
		b.UpsertRole(g, r)
		keepRoles[r.ID] = true
	}
	for _, id := range g.Roles.IDs() {
		if !keepRoles[id] {
			b.DeleteRole(g, id)
		}
	}

	b.MergeMembers(g, p.Members)

	keepChannels := make(map[models.Snowflake]bool, len(p.Channels))
	for _, ch := range p.Channels {
		if _, err := b.upsertChannel(g, ch, false); err == nil {
			keepChannels[ch.ID] = true
		}
	}
	for _, id := range g.Channels.IDs() {
		if !keepChannels[id] {
			b.DeleteChannel(g, id)
		}
	}
	return g
}

// SecondPass builds what needs the full member list: channel permission
// overwrites and voice states.
func (b *Builder) SecondPass(g *cache.Guild, p *models.Guild) {
	if _, ok := g.Owner(); !ok && p.OwnerID != 0 {
		b.logger.Debug().Str("guild_id", g.ID.String()).Str("owner_id", p.OwnerID.String()).Msg("owner not in member cache")
	}

	for _, chp := range p.Channels {
		ch, ok := g.Channels.Get(chp.ID)
		if !ok {
			continue
		}
		b.ApplyOverwrites(g, ch, chp.PermissionOverwrites)
	}

	for _, m := range g.Members.Values() {
		m.Update(func(d *cache.MemberData) { d.Voice = nil })
	}
	for _, vs := range p.VoiceStates {
		b.ApplyVoiceState(g, vs)
	}
}

// UpdateGuild copies top-level attributes. Payloads without a member count
// (guild-update) keep the previous count.
func (b *Builder) UpdateGuild(g *cache.Guild, p *models.Guild) {
	g.Update(func(d *cache.GuildData) {
		d.Name = p.Name
		d.Icon = p.Icon
		d.OwnerID = p.OwnerID
		d.Region = p.Region
		d.AFKChannelID = p.AFKChannelID
		d.AFKTimeout = p.AFKTimeout
		d.VerificationLevel = p.VerificationLevel
		d.Large = p.Large
		if p.MemberCount > 0 {
			d.MemberCount = p.MemberCount
		}
	})
}

// AdjustMemberCount changes the declared member count by delta.
func (b *Builder) AdjustMemberCount(g *cache.Guild, delta int) {
	g.Update(func(d *cache.GuildData) {
		d.MemberCount += delta
		if d.MemberCount < 0 {
			d.MemberCount = 0
		}
	})
}

// UpsertRole creates or updates a role in place.
func (b *Builder) UpsertRole(g *cache.Guild, p models.Role) *cache.Role {
	r, _ := b.cache.RoleOrCreate(g, p.ID)
	r.Update(func(d *cache.RoleData) {
		d.Name = p.Name
		d.Color = p.Color
		d.Hoist = p.Hoist
		d.Position = p.Position
		d.Permissions = p.Permissions
		d.Managed = p.Managed
		d.Mentionable = p.Mentionable
	})
	return r
}

// DeleteRole removes a role and every reference to it from members and
// channel overwrites.
func (b *Builder) DeleteRole(g *cache.Guild, id models.Snowflake) bool {
	role, ok := b.cache.RemoveRole(g, id)
	if !ok {
		return false
	}
	for _, m := range g.Members.Values() {
		m.Update(func(d *cache.MemberData) {
			d.Roles = removeRole(d.Roles, role)
		})
	}
	for _, ch := range g.Channels.Values() {
		ch.Update(func(d *cache.ChannelData) {
			kept := d.Overwrites[:0]
			for _, o := range d.Overwrites {
				if o.Role != role {
					kept = append(kept, o)
				}
			}
			d.Overwrites = kept
		})
	}
	return true
}

func removeRole(roles []*cache.Role, role *cache.Role) []*cache.Role {
	out := roles[:0]
	for _, r := range roles {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}

// MergeMembers applies a batch of member payloads keyed by user id and
// returns how many were applied. Duplicates overwrite.
func (b *Builder) MergeMembers(g *cache.Guild, members []models.Member) int {
	applied := 0
	for _, mp := range members {
		if _, err := b.UpsertMember(g, mp); err == nil {
			applied++
		}
	}
	return applied
}

// UpsertMember creates or updates a member. Role ids that are not cached are
// dropped from the member's role set and reported.
func (b *Builder) UpsertMember(g *cache.Guild, p models.Member) (*cache.Member, error) {
	if p.User == nil || p.User.ID == 0 {
		return nil, b.skip(&ProtocolError{GuildID: g.ID, Entity: "member", Reason: "member payload without user"})
	}

	roles := make([]*cache.Role, 0, len(p.Roles))
	for _, id := range p.Roles {
		r, ok := g.Roles.Get(id)
		if !ok {
			b.skip(&ProtocolError{
				GuildID: g.ID,
				Entity:  "member",
				ID:      p.User.ID,
				Reason:  "references unknown role " + id.String(),
			})
			continue
		}
		roles = append(roles, r)
	}

	m, _ := b.cache.MemberOrCreate(g, *p.User)
	m.Update(func(d *cache.MemberData) {
		d.Nick = p.Nick
		d.Roles = roles
		if p.JoinedAt != "" {
			d.JoinedAt = p.JoinedAt
		}
		d.Deaf = p.Deaf
		d.Mute = p.Mute
	})
	return m, nil
}

// RemoveMember removes a member from the guild.
func (b *Builder) RemoveMember(g *cache.Guild, userID models.Snowflake) bool {
	m, ok := b.cache.RemoveMember(g, userID)
	if !ok {
		return false
	}
	for _, ch := range g.Channels.Values() {
		ch.Update(func(d *cache.ChannelData) {
			kept := d.Overwrites[:0]
			for _, o := range d.Overwrites {
				if o.Member != m {
					kept = append(kept, o)
				}
			}
			d.Overwrites = kept
		})
	}
	return true
}

// PruneMembers removes every member whose user id is not in keep and returns
// how many were removed.
func (b *Builder) PruneMembers(g *cache.Guild, keep map[models.Snowflake]bool) int {
	removed := 0
	for _, id := range g.Members.IDs() {
		if !keep[id] && b.RemoveMember(g, id) {
			removed++
		}
	}
	return removed
}

// UpsertChannel creates or updates a channel including its overwrites.
func (b *Builder) UpsertChannel(g *cache.Guild, p models.Channel) (*cache.Channel, error) {
	return b.upsertChannel(g, p, true)
}

func (b *Builder) upsertChannel(g *cache.Guild, p models.Channel, withOverwrites bool) (*cache.Channel, error) {
	kind, ok := cache.KindFromType(p.Type)
	if !ok {
		b.logger.Debug().Str("guild_id", g.ID.String()).Int("type", p.Type).Msg("ignoring unsupported channel type")
		return nil, ErrUnsupportedChannel
	}

	ch, _ := b.cache.ChannelOrCreate(g, p.ID)
	ch.Update(func(d *cache.ChannelData) {
		d.Kind = kind
		d.Name = p.Name
		d.Position = p.Position
		d.ParentID = p.ParentID
		d.Text, d.Voice = nil, nil
		switch kind {
		case cache.KindText, cache.KindNews:
			d.Text = &cache.TextFields{
				Topic:         p.Topic,
				NSFW:          p.NSFW,
				SlowMode:      p.RateLimitPerUser,
				LastMessageID: p.LastMessageID,
			}
		case cache.KindVoice, cache.KindStage:
			d.Voice = &cache.VoiceFields{
				Bitrate:   p.Bitrate,
				UserLimit: p.UserLimit,
			}
		}
	})
	if withOverwrites {
		b.ApplyOverwrites(g, ch, p.PermissionOverwrites)
	}
	return ch, nil
}

// ApplyOverwrites replaces a channel's overwrites. Overwrites naming a role
// or member that is not cached are skipped.
func (b *Builder) ApplyOverwrites(g *cache.Guild, ch *cache.Channel, overwrites []models.PermissionOverwrite) {
	resolved := make([]cache.Overwrite, 0, len(overwrites))
	for _, o := range overwrites {
		ow := cache.Overwrite{Allow: o.Allow, Deny: o.Deny}
		switch o.Type {
		case models.OverwriteRole:
			r, ok := g.Roles.Get(o.ID)
			if !ok {
				b.skip(&ProtocolError{GuildID: g.ID, Entity: "overwrite", ID: o.ID, Reason: "unknown role in channel " + ch.ID.String()})
				continue
			}
			ow.Role = r
		case models.OverwriteMember:
			m, ok := g.Members.Get(o.ID)
			if !ok {
				b.skip(&ProtocolError{GuildID: g.ID, Entity: "overwrite", ID: o.ID, Reason: "unknown member in channel " + ch.ID.String()})
				continue
			}
			ow.Member = m
		default:
			b.skip(&ProtocolError{GuildID: g.ID, Entity: "overwrite", ID: o.ID, Reason: "unknown overwrite type"})
			continue
		}
		resolved = append(resolved, ow)
	}
	ch.Update(func(d *cache.ChannelData) { d.Overwrites = resolved })
}

// DeleteChannel removes a channel and disconnects voice states pointing at it.
func (b *Builder) DeleteChannel(g *cache.Guild, id models.Snowflake) bool {
	ch, ok := b.cache.RemoveChannel(g, id)
	if !ok {
		return false
	}
	for _, m := range g.Members.Values() {
		if vs := m.Voice(); vs != nil && vs.Channel == ch {
			m.Update(func(d *cache.MemberData) { d.Voice = nil })
		}
	}
	return true
}

// ApplyVoiceState sets or clears a member's voice state. It needs both the
// member and the channel to be cached.
func (b *Builder) ApplyVoiceState(g *cache.Guild, p models.VoiceState) error {
	m, ok := g.Members.Get(p.UserID)
	if !ok {
		return b.skip(&ProtocolError{GuildID: g.ID, Entity: "voice_state", ID: p.UserID, Reason: "unknown member"})
	}
	if p.ChannelID == 0 {
		m.Update(func(d *cache.MemberData) { d.Voice = nil })
		return nil
	}
	ch, ok := g.Channels.Get(p.ChannelID)
	if !ok {
		return b.skip(&ProtocolError{GuildID: g.ID, Entity: "voice_state", ID: p.UserID, Reason: "unknown channel " + p.ChannelID.String()})
	}
	m.Update(func(d *cache.MemberData) {
		d.Voice = &cache.VoiceState{
			Channel:   ch,
			SessionID: p.SessionID,
			Deaf:      p.Deaf,
			Mute:      p.Mute,
			SelfDeaf:  p.SelfDeaf,
			SelfMute:  p.SelfMute,
			Suppress:  p.Suppress,
		}
	})
	return nil
}
