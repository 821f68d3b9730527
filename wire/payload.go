package wire

import "encoding/json"

// Dispatch event names interpreted by the state layer. Dispatch frames with
// other names are passed through to handlers unmodified.
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildUpdate       = "GUILD_UPDATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	EventGuildRoleCreate   = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate   = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete   = "GUILD_ROLE_DELETE"
	EventGuildEmojisUpdate = "GUILD_EMOJIS_UPDATE"
	EventChannelCreate     = "CHANNEL_CREATE"
	EventChannelUpdate     = "CHANNEL_UPDATE"
	EventChannelDelete     = "CHANNEL_DELETE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
	EventVoiceStateUpdate  = "VOICE_STATE_UPDATE"
	EventUserUpdate        = "USER_UPDATE"
	EventMessageCreate     = "MESSAGE_CREATE"
)

// Hello is the payload of an OpHello frame.
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// Identify is the payload of an OpIdentify frame.
type Identify struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties"`
	Compress   bool               `json:"compress"`
	Shard      []int              `json:"shard,omitempty"` // [index, total]
}

// IdentifyProperties describes the connecting client to the gateway.
type IdentifyProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

// Resume is the payload of an OpResume frame.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Heartbeat is the payload of an OpHeartbeat frame: the last sequence number
// seen, or null before any dispatch has arrived.
type Heartbeat struct {
	Seq *int64
}

// MarshalJSON encodes the heartbeat payload as a bare number or null.
func (h Heartbeat) MarshalJSON() ([]byte, error) {
	if h.Seq == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*h.Seq)
}

// UnmarshalJSON decodes a bare number or null.
func (h *Heartbeat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		h.Seq = nil
		return nil
	}
	h.Seq = new(int64)
	return json.Unmarshal(data, h.Seq)
}

// StatusUpdate is the payload of an OpStatusUpdate frame.
type StatusUpdate struct {
	Since  *int64 `json:"since"`
	Game   *Game  `json:"game"`
	Status string `json:"status"`
	AFK    bool   `json:"afk"`
}

// Game is the activity portion of a status update or presence.
type Game struct {
	Name string `json:"name"`
	Type int    `json:"type"`
	URL  string `json:"url,omitempty"`
}

// RequestGuildMembers is the payload of an OpRequestGuildMembers frame.
type RequestGuildMembers struct {
	GuildID string `json:"guild_id"`
	Query   string `json:"query"`
	Limit   int    `json:"limit"`
}

// Ready is the payload of the READY dispatch event.
type Ready struct {
	V               int       `json:"v"`
	User            User      `json:"user"`
	SessionID       string    `json:"session_id"`
	Guilds          []Guild   `json:"guilds"`
	PrivateChannels []Channel `json:"private_channels"`
}

// InvalidSession is the payload of an OpInvalidSession frame: whether the
// session may still be resumed on the next connection.
type InvalidSession bool

// MembersChunk is the payload of the GUILD_MEMBERS_CHUNK dispatch event.
type MembersChunk struct {
	GuildID string   `json:"guild_id"`
	Members []Member `json:"members"`
}

// The types below are thin value objects for the slices of server state the
// core pipeline tracks. Fields not consulted by the cache are omitted; the
// raw dispatch payload remains available to handlers that need more.

// User is a user account.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Bot           bool   `json:"bot,omitempty"`
}

// Guild is a guild and, on GUILD_CREATE, its full initial state.
type Guild struct {
	ID          string       `json:"id"`
	Name        string       `json:"name,omitempty"`
	OwnerID     string       `json:"owner_id,omitempty"`
	Region      string       `json:"region,omitempty"`
	Unavailable bool         `json:"unavailable,omitempty"`
	MemberCount int          `json:"member_count,omitempty"`
	Members     []Member     `json:"members,omitempty"`
	Roles       []Role       `json:"roles,omitempty"`
	Channels    []Channel    `json:"channels,omitempty"`
	Presences   []Presence   `json:"presences,omitempty"`
	VoiceStates []VoiceState `json:"voice_states,omitempty"`
	Emojis      []Emoji      `json:"emojis,omitempty"`
}

// Member is a user's membership in one guild. On GUILD_MEMBER_UPDATE the
// guild id rides alongside the member fields.
type Member struct {
	GuildID  string   `json:"guild_id,omitempty"`
	User     User     `json:"user"`
	Nick     string   `json:"nick,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	JoinedAt string   `json:"joined_at,omitempty"`
}

// Role is a guild role. On GUILD_ROLE_CREATE/UPDATE the wire payload nests
// the role under "role" with a sibling guild id; see RoleUpdate.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Color       int    `json:"color,omitempty"`
	Position    int    `json:"position,omitempty"`
	Permissions int64  `json:"permissions,omitempty"`
}

// RoleUpdate is the payload of GUILD_ROLE_CREATE and GUILD_ROLE_UPDATE.
type RoleUpdate struct {
	GuildID string `json:"guild_id"`
	Role    Role   `json:"role"`
}

// RoleDelete is the payload of GUILD_ROLE_DELETE.
type RoleDelete struct {
	GuildID string `json:"guild_id"`
	RoleID  string `json:"role_id"`
}

// EmojisUpdate is the payload of GUILD_EMOJIS_UPDATE.
type EmojisUpdate struct {
	GuildID string  `json:"guild_id"`
	Emojis  []Emoji `json:"emojis"`
}

// Emoji is a custom guild emoji.
type Emoji struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Animated bool   `json:"animated,omitempty"`
}

// Channel is a guild channel or a private (direct-message) channel.
type Channel struct {
	ID         string `json:"id"`
	Type       int    `json:"type"`
	GuildID    string `json:"guild_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Position   int    `json:"position,omitempty"`
	Recipients []User `json:"recipients,omitempty"`
}

// ChannelTypePrivate is the channel type of a direct-message channel.
const ChannelTypePrivate = 1

// Presence is a user's presence within one guild.
type Presence struct {
	GuildID string `json:"guild_id,omitempty"`
	User    User   `json:"user"`
	Status  string `json:"status,omitempty"`
	Game    *Game  `json:"game,omitempty"`
}

// VoiceState is a user's voice connection state within one guild.
type VoiceState struct {
	GuildID   string `json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Deaf      bool   `json:"deaf,omitempty"`
	Mute      bool   `json:"mute,omitempty"`
}

// Message is a chat message as delivered by MESSAGE_CREATE.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id,omitempty"`
	Author    User   `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}
