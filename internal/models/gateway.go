package models

import "encoding/json"

// GatewayPayload is the envelope of every gateway frame.
type GatewayPayload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// Hello is the op 10 payload.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// Identify is the op 2 payload.
type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int                `json:"large_threshold"`
	Intents        int64              `json:"intents"`
}

// Resume is the op 6 payload.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// RequestGuildMembers is the op 8 payload.
type RequestGuildMembers struct {
	GuildID Snowflake `json:"guild_id"`
	Query   string    `json:"query"`
	Limit   int       `json:"limit"`
}

// Ready is the READY dispatch payload.
type Ready struct {
	Version          int                `json:"v"`
	User             User               `json:"user"`
	Guilds           []UnavailableGuild `json:"guilds"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url,omitempty"`
}

// GuildMembersChunk is the GUILD_MEMBERS_CHUNK dispatch payload.
type GuildMembersChunk struct {
	GuildID    Snowflake   `json:"guild_id"`
	Members    []Member    `json:"members"`
	ChunkIndex int         `json:"chunk_index"`
	ChunkCount int         `json:"chunk_count"`
	NotFound   []Snowflake `json:"not_found,omitempty"`
}

// GuildSync is the GUILD_SYNC dispatch payload sent to client accounts.
type GuildSync struct {
	ID      Snowflake `json:"id"`
	Large   bool      `json:"large"`
	Members []Member  `json:"members"`
}

// GuildRoleEvent is the GUILD_ROLE_CREATE and GUILD_ROLE_UPDATE payload.
type GuildRoleEvent struct {
	GuildID Snowflake `json:"guild_id"`
	Role    Role      `json:"role"`
}

// GuildRoleDelete is the GUILD_ROLE_DELETE payload.
type GuildRoleDelete struct {
	GuildID Snowflake `json:"guild_id"`
	RoleID  Snowflake `json:"role_id"`
}

// GuildMemberRemove is the GUILD_MEMBER_REMOVE payload.
type GuildMemberRemove struct {
	GuildID Snowflake `json:"guild_id"`
	User    User      `json:"user"`
}

// GatewayBot is the response of GET /gateway/bot.
type GatewayBot struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// SessionStartLimit reports the identify budget.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}
