package gateway

import (
	"encoding/json"

	"github.com/guildwire/guildwire/internal/guildsetup"
	"github.com/guildwire/guildwire/internal/logging"
	"github.com/guildwire/guildwire/internal/models"
	"github.com/guildwire/guildwire/internal/snapshot"
)

// Router applies dispatch events to the cache. Guild lifecycle events go to
// the setup controller; live updates for a guild that is still locked are
// deferred through the controller and replayed once it is ready.
type Router struct {
	builder    *snapshot.Builder
	controller *guildsetup.Controller
	logger     *logging.Logger
}

// NewRouter creates a router. SetController must be called before events
// are routed.
func NewRouter(b *snapshot.Builder, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Router{builder: b, logger: logger.Component("router")}
}

// SetController installs the guild setup controller.
func (r *Router) SetController(c *guildsetup.Controller) {
	r.controller = c
}

// HandleDispatch implements Handler.
func (r *Router) HandleDispatch(eventType string, data json.RawMessage) {
	switch eventType {
	case "READY":
		var ready models.Ready
		if !r.decode(eventType, data, &ready) {
			return
		}
		r.builder.Cache().SetSelf(ready.User)
		r.controller.ExpectGuilds(ready.SessionID, ready.Guilds)

	case "GUILD_CREATE":
		var g models.Guild
		if !r.decode(eventType, data, &g) {
			return
		}
		r.controller.BeginFirstPass(&g, nil)

	case "GUILD_DELETE":
		var g models.UnavailableGuild
		if !r.decode(eventType, data, &g) {
			return
		}
		r.controller.HandleGuildDelete(g.ID, g.Unavailable)

	case "GUILD_MEMBERS_CHUNK":
		var chunk models.GuildMembersChunk
		if !r.decode(eventType, data, &chunk) {
			return
		}
		r.controller.HandleChunk(&chunk)

	case "GUILD_SYNC":
		var sync models.GuildSync
		if !r.decode(eventType, data, &sync) {
			return
		}
		r.controller.HandleSync(&sync)

	case "USER_UPDATE":
		var u models.User
		if !r.decode(eventType, data, &u) {
			return
		}
		r.builder.Cache().UpdateUser(u)

	default:
		guildID, ok := r.guildOf(eventType, data)
		if !ok {
			return
		}
		if r.controller.DeferIfLocked(guildID, guildsetup.Event{Type: eventType, Data: data}) {
			return
		}
		r.apply(guildID, eventType, data)
	}
}

// Replay applies an event the controller deferred.
func (r *Router) Replay(guildID models.Snowflake, ev guildsetup.Event) {
	r.apply(guildID, ev.Type, ev.Data)
}

// guildOf extracts the guild a live-update event addresses.
func (r *Router) guildOf(eventType string, data json.RawMessage) (models.Snowflake, bool) {
	if !handled(eventType) {
		return 0, false
	}
	var ref struct {
		ID      models.Snowflake `json:"id"`
		GuildID models.Snowflake `json:"guild_id"`
	}
	if !r.decode(eventType, data, &ref) {
		return 0, false
	}
	if eventType == "GUILD_UPDATE" {
		return ref.ID, ref.ID != 0
	}
	return ref.GuildID, ref.GuildID != 0
}

func handled(eventType string) bool {
	switch eventType {
	case "GUILD_UPDATE",
		"GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE", "GUILD_ROLE_DELETE",
		"CHANNEL_CREATE", "CHANNEL_UPDATE", "CHANNEL_DELETE",
		"GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE", "GUILD_MEMBER_REMOVE",
		"VOICE_STATE_UPDATE":
		return true
	}
	return false
}

func (r *Router) apply(guildID models.Snowflake, eventType string, data json.RawMessage) {
	g, ok := r.builder.Cache().Guild(guildID)
	if !ok {
		r.logger.Debug().Str("guild_id", guildID.String()).Str("event", eventType).Msg("event for unknown guild")
		return
	}

	switch eventType {
	case "GUILD_UPDATE":
		var p models.Guild
		if r.decode(eventType, data, &p) {
			r.builder.UpdateGuild(g, &p)
		}

	case "GUILD_ROLE_CREATE", "GUILD_ROLE_UPDATE":
		var ev models.GuildRoleEvent
		if r.decode(eventType, data, &ev) {
			r.builder.UpsertRole(g, ev.Role)
		}

	case "GUILD_ROLE_DELETE":
		var ev models.GuildRoleDelete
		if r.decode(eventType, data, &ev) {
			r.builder.DeleteRole(g, ev.RoleID)
		}

	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch models.Channel
		if r.decode(eventType, data, &ch) {
			r.builder.UpsertChannel(g, ch)
		}

	case "CHANNEL_DELETE":
		var ch models.Channel
		if r.decode(eventType, data, &ch) {
			r.builder.DeleteChannel(g, ch.ID)
		}

	case "GUILD_MEMBER_ADD":
		var m models.Member
		if !r.decode(eventType, data, &m) || m.User == nil {
			return
		}
		_, existed := g.Members.Get(m.User.ID)
		if _, err := r.builder.UpsertMember(g, m); err == nil && !existed {
			r.builder.AdjustMemberCount(g, 1)
		}

	case "GUILD_MEMBER_UPDATE":
		var m models.Member
		if r.decode(eventType, data, &m) {
			r.builder.UpsertMember(g, m)
		}

	case "GUILD_MEMBER_REMOVE":
		var ev models.GuildMemberRemove
		if r.decode(eventType, data, &ev) && r.builder.RemoveMember(g, ev.User.ID) {
			r.builder.AdjustMemberCount(g, -1)
		}

	case "VOICE_STATE_UPDATE":
		var vs models.VoiceState
		if r.decode(eventType, data, &vs) {
			r.builder.ApplyVoiceState(g, vs)
		}
	}
}

func (r *Router) decode(eventType string, data json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Warn().Err(err).Str("event", eventType).Msg("malformed event payload")
		return false
	}
	return true
}
