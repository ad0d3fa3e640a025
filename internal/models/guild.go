package models

// Channel types as transmitted in Channel.Type.
const (
	ChannelTypeText     = 0
	ChannelTypeVoice    = 2
	ChannelTypeCategory = 4
	ChannelTypeNews     = 5
	ChannelTypeStage    = 13
)

// Permission overwrite target types.
const (
	OverwriteRole   = 0
	OverwriteMember = 1
)

// User is a platform account.
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator,omitempty"`
	GlobalName    string    `json:"global_name,omitempty"`
	Avatar        string    `json:"avatar,omitempty"`
	Bot           bool      `json:"bot,omitempty"`
}

// Role is a guild role.
type Role struct {
	ID          Snowflake   `json:"id"`
	Name        string      `json:"name"`
	Color       int         `json:"color"`
	Hoist       bool        `json:"hoist"`
	Position    int         `json:"position"`
	Permissions Permissions `json:"permissions"`
	Managed     bool        `json:"managed"`
	Mentionable bool        `json:"mentionable"`
}

// Member is a user's membership in a guild. GuildID is only present on
// member events.
type Member struct {
	GuildID  Snowflake   `json:"guild_id,omitempty"`
	User     *User       `json:"user"`
	Nick     string      `json:"nick,omitempty"`
	Roles    []Snowflake `json:"roles"`
	JoinedAt string      `json:"joined_at,omitempty"`
	Deaf     bool        `json:"deaf"`
	Mute     bool        `json:"mute"`
}

// PermissionOverwrite grants or denies bits to a role or member in a channel.
type PermissionOverwrite struct {
	ID    Snowflake   `json:"id"`
	Type  int         `json:"type"`
	Allow Permissions `json:"allow"`
	Deny  Permissions `json:"deny"`
}

// Channel is any guild channel; kind-specific fields are zero for other kinds.
type Channel struct {
	ID                   Snowflake             `json:"id"`
	GuildID              Snowflake             `json:"guild_id,omitempty"`
	Type                 int                   `json:"type"`
	Name                 string                `json:"name"`
	Position             int                   `json:"position"`
	ParentID             Snowflake             `json:"parent_id,omitempty"`
	Topic                string                `json:"topic,omitempty"`
	NSFW                 bool                  `json:"nsfw,omitempty"`
	RateLimitPerUser     int                   `json:"rate_limit_per_user,omitempty"`
	LastMessageID        Snowflake             `json:"last_message_id,omitempty"`
	Bitrate              int                   `json:"bitrate,omitempty"`
	UserLimit            int                   `json:"user_limit,omitempty"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites,omitempty"`
}

// VoiceState is a member's voice connection state.
type VoiceState struct {
	GuildID   Snowflake `json:"guild_id,omitempty"`
	ChannelID Snowflake `json:"channel_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
	Deaf      bool      `json:"deaf"`
	Mute      bool      `json:"mute"`
	SelfDeaf  bool      `json:"self_deaf"`
	SelfMute  bool      `json:"self_mute"`
	Suppress  bool      `json:"suppress"`
}

// Guild is the guild payload carried by guild-create and guild-update.
// Members, Channels and VoiceStates are only sent on guild-create.
type Guild struct {
	ID                Snowflake    `json:"id"`
	Name              string       `json:"name"`
	Icon              string       `json:"icon,omitempty"`
	OwnerID           Snowflake    `json:"owner_id"`
	Region            string       `json:"region,omitempty"`
	AFKChannelID      Snowflake    `json:"afk_channel_id,omitempty"`
	AFKTimeout        int          `json:"afk_timeout"`
	VerificationLevel int          `json:"verification_level"`
	MemberCount       int          `json:"member_count"`
	Large             bool         `json:"large"`
	Unavailable       bool         `json:"unavailable"`
	Roles             []Role       `json:"roles"`
	Members           []Member     `json:"members,omitempty"`
	Channels          []Channel    `json:"channels,omitempty"`
	VoiceStates       []VoiceState `json:"voice_states,omitempty"`
}

// UnavailableGuild is the stub sent in READY and guild-delete.
type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// Message is the subset of a message returned by create-message.
type Message struct {
	ID        Snowflake `json:"id"`
	ChannelID Snowflake `json:"channel_id"`
	Content   string    `json:"content"`
	Author    *User     `json:"author,omitempty"`
}
