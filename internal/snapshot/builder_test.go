package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildwire/guildwire/internal/cache"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
)

func newBuilder() *Builder {
	return NewBuilder(cache.New(), logging.NewNop())
}

func user(id models.Snowflake, name string) *models.User {
	return &models.User{ID: id, Username: name}
}

func samplePayload() *models.Guild {
	return &models.Guild{
		ID:          1,
		Name:        "hangout",
		OwnerID:     100,
		MemberCount: 2,
		Roles: []models.Role{
			{ID: 1, Name: "@everyone", Position: 0},
			{ID: 10, Name: "mod", Position: 1, Permissions: 8},
		},
		Members: []models.Member{
			{User: user(100, "owner"), Roles: []models.Snowflake{10}},
			{User: user(101, "guest")},
		},
		Channels: []models.Channel{
			{ID: 20, Type: models.ChannelTypeCategory, Name: "general"},
			{ID: 21, Type: models.ChannelTypeText, Name: "chat", ParentID: 20, Topic: "hi",
				PermissionOverwrites: []models.PermissionOverwrite{
					{ID: 10, Type: models.OverwriteRole, Allow: 1024},
					{ID: 101, Type: models.OverwriteMember, Deny: 2048},
				}},
			{ID: 22, Type: models.ChannelTypeVoice, Name: "lounge", Bitrate: 64000},
		},
		VoiceStates: []models.VoiceState{{UserID: 101, ChannelID: 22, SessionID: "s"}},
	}
}

func TestFirstPassBuildsRolesMembersChannels(t *testing.T) {
	b := newBuilder()
	p := samplePayload()

	g := b.FirstPass(p)
	assert.Equal(t, cache.StatusLocked, g.Status())
	assert.Equal(t, "hangout", g.Name())
	assert.Equal(t, 2, g.Roles.Len())
	assert.Equal(t, 2, g.Members.Len())
	assert.Equal(t, 3, g.Channels.Len())

	owner, ok := g.Members.Get(100)
	require.True(t, ok)
	require.Len(t, owner.Roles(), 1)
	assert.Equal(t, models.Snowflake(10), owner.Roles()[0].ID)

	chat, ok := g.Channels.Get(21)
	require.True(t, ok)
	assert.Empty(t, chat.Overwrites(), "overwrites wait for the second pass")
	require.NotNil(t, chat.Data().Text)
	assert.Equal(t, "hi", chat.Data().Text.Topic)

	b.SecondPass(g, p)
	ows := chat.Overwrites()
	require.Len(t, ows, 2)
	assert.Equal(t, models.Snowflake(10), ows[0].Role.ID)
	assert.Equal(t, models.Snowflake(101), ows[1].Member.ID())

	lounge, _ := g.Channels.Get(22)
	connected := lounge.ConnectedMembers()
	require.Len(t, connected, 1)
	assert.Equal(t, models.Snowflake(101), connected[0].ID())

	gotOwner, ok := g.Owner()
	require.True(t, ok)
	assert.Same(t, owner, gotOwner)
}

func TestFirstPassIsIdempotentInPlace(t *testing.T) {
	b := newBuilder()
	p := samplePayload()
	g := b.FirstPass(p)
	role, _ := g.Roles.Get(10)
	chat, _ := g.Channels.Get(21)

	p.Name = "renamed"
	p.Roles[1].Permissions = 16
	p.Channels = p.Channels[:2]
	again := b.FirstPass(p)

	assert.Same(t, g, again)
	assert.Equal(t, "renamed", g.Name())

	sameRole, _ := g.Roles.Get(10)
	assert.Same(t, role, sameRole)
	assert.Equal(t, models.Permissions(16), role.Permissions())

	sameChat, _ := g.Channels.Get(21)
	assert.Same(t, chat, sameChat)

	_, ok := g.Channels.Get(22)
	assert.False(t, ok, "channels missing from the new payload are removed")
	_, ok = b.Cache().Channel(22)
	assert.False(t, ok)
}

func TestUpsertRoleTwiceKeepsIdentity(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)

	r := b.UpsertRole(g, models.Role{ID: 5, Permissions: 1})
	held := r
	b.UpsertRole(g, models.Role{ID: 5, Permissions: 2})
	b.UpsertRole(g, models.Role{ID: 5, Permissions: 4})

	got, ok := g.Roles.Get(5)
	require.True(t, ok)
	assert.Same(t, held, got)
	assert.Equal(t, models.Permissions(4), held.Permissions())
	assert.Equal(t, 1, g.Roles.Len())
}

func TestUpsertMemberSkipsUnknownRole(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)
	b.UpsertRole(g, models.Role{ID: 5})

	m, err := b.UpsertMember(g, models.Member{User: user(7, "x"), Roles: []models.Snowflake{5, 99}})
	require.NoError(t, err)
	require.Len(t, m.Roles(), 1)
	assert.Equal(t, models.Snowflake(5), m.Roles()[0].ID)
}

func TestUpsertMemberWithoutUser(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)

	_, err := b.UpsertMember(g, models.Member{})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "member", perr.Entity)
	assert.Equal(t, 0, g.Members.Len())
}

func TestMergeMembersOverwritesDuplicates(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)

	n := b.MergeMembers(g, []models.Member{
		{User: user(1, "a")},
		{User: user(2, "b"), Nick: "first"},
		{User: user(2, "b"), Nick: "second"},
		{},
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, g.Members.Len())
	m, _ := g.Members.Get(2)
	assert.Equal(t, "second", m.Nickname())
}

func TestDeleteRoleDetachesReferences(t *testing.T) {
	b := newBuilder()
	p := samplePayload()
	g := b.FirstPass(p)
	b.SecondPass(g, p)

	require.True(t, b.DeleteRole(g, 10))
	assert.False(t, b.DeleteRole(g, 10))

	owner, _ := g.Members.Get(100)
	assert.Empty(t, owner.Roles())
	chat, _ := g.Channels.Get(21)
	ows := chat.Overwrites()
	require.Len(t, ows, 1)
	assert.Nil(t, ows[0].Role)
	_, ok := b.Cache().Role(10)
	assert.False(t, ok)
}

func TestRemoveMemberDropsOverwrites(t *testing.T) {
	b := newBuilder()
	p := samplePayload()
	g := b.FirstPass(p)
	b.SecondPass(g, p)

	require.True(t, b.RemoveMember(g, 101))
	chat, _ := g.Channels.Get(21)
	ows := chat.Overwrites()
	require.Len(t, ows, 1)
	assert.NotNil(t, ows[0].Role)
}

func TestApplyOverwritesSkipsUnknownTargets(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)
	b.UpsertRole(g, models.Role{ID: 5})
	ch, err := b.UpsertChannel(g, models.Channel{ID: 30, Type: models.ChannelTypeText})
	require.NoError(t, err)

	b.ApplyOverwrites(g, ch, []models.PermissionOverwrite{
		{ID: 5, Type: models.OverwriteRole},
		{ID: 6, Type: models.OverwriteRole},
		{ID: 7, Type: models.OverwriteMember},
		{ID: 8, Type: 9},
	})
	ows := ch.Overwrites()
	require.Len(t, ows, 1)
	assert.Equal(t, models.Snowflake(5), ows[0].TargetID())
}

func TestUpsertChannelUnsupportedType(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)

	_, err := b.UpsertChannel(g, models.Channel{ID: 30, Type: 99})
	assert.ErrorIs(t, err, ErrUnsupportedChannel)
	assert.Equal(t, 0, g.Channels.Len())
}

func TestUpsertChannelKindSwitchClearsFields(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)

	ch, _ := b.UpsertChannel(g, models.Channel{ID: 30, Type: models.ChannelTypeText, Topic: "t"})
	require.NotNil(t, ch.Data().Text)

	b.UpsertChannel(g, models.Channel{ID: 30, Type: models.ChannelTypeStage, UserLimit: 5})
	d := ch.Data()
	assert.Equal(t, cache.KindStage, d.Kind)
	assert.Nil(t, d.Text)
	require.NotNil(t, d.Voice)
	assert.Equal(t, 5, d.Voice.UserLimit)
}

func TestVoiceStates(t *testing.T) {
	b := newBuilder()
	p := samplePayload()
	g := b.FirstPass(p)
	b.SecondPass(g, p)
	guest, _ := g.Members.Get(101)
	require.NotNil(t, guest.Voice())

	err := b.ApplyVoiceState(g, models.VoiceState{UserID: 101, ChannelID: 999})
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.NotNil(t, guest.Voice(), "a bad update leaves the previous state")

	require.NoError(t, b.ApplyVoiceState(g, models.VoiceState{UserID: 101}))
	assert.Nil(t, guest.Voice())

	err = b.ApplyVoiceState(g, models.VoiceState{UserID: 555, ChannelID: 22})
	require.ErrorAs(t, err, &perr)
}

func TestDeleteChannelDisconnectsVoice(t *testing.T) {
	b := newBuilder()
	p := samplePayload()
	g := b.FirstPass(p)
	b.SecondPass(g, p)

	require.True(t, b.DeleteChannel(g, 22))
	guest, _ := g.Members.Get(101)
	assert.Nil(t, guest.Voice())
	_, ok := b.Cache().Channel(22)
	assert.False(t, ok)
}

func TestMarkUnavailableAndRemove(t *testing.T) {
	b := newBuilder()
	g := b.FirstPass(samplePayload())
	g.SetStatus(cache.StatusReady)

	same := b.MarkUnavailable(1)
	assert.Same(t, g, same)
	assert.True(t, b.Cache().Unavailable(1))

	removed, ok := b.RemoveGuild(1)
	require.True(t, ok)
	assert.Same(t, g, removed)
	assert.Equal(t, 0, b.Cache().RoleCount())
	assert.Equal(t, 0, b.Cache().ChannelCount())
}

func TestGuildUpdateKeepsMemberCount(t *testing.T) {
	b := newBuilder()
	g := b.FirstPass(samplePayload())

	b.UpdateGuild(g, &models.Guild{ID: 1, Name: "new"})
	assert.Equal(t, "new", g.Name())
	assert.Equal(t, 2, g.MemberCount())

	b.AdjustMemberCount(g, 1)
	assert.Equal(t, 3, g.MemberCount())
	b.AdjustMemberCount(g, -10)
	assert.Equal(t, 0, g.MemberCount())
}

func TestPruneMembers(t *testing.T) {
	b := newBuilder()
	g, _ := b.Cache().GuildOrCreate(1)
	b.MergeMembers(g, []models.Member{{User: user(1, "a")}, {User: user(2, "b")}, {User: user(3, "c")}})

	n := b.PruneMembers(g, map[models.Snowflake]bool{2: true})
	assert.Equal(t, 2, n)
	assert.Equal(t, []models.Snowflake{2}, g.Members.IDs())
	assert.Equal(t, 1, b.Cache().UserCount())
}
