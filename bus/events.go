package bus

import (
	"encoding/json"

	"github.com/guildkit/realtime-sync/types"
)

// Bus channels. Every process subscribes to the subset it reacts to; the
// gateway process subscribes to all of them.
const (
	ChannelConfigUpdate      = "config:update"
	ChannelModuleToggle      = "module:toggle"
	ChannelGuildReload       = "guild:reload"
	ChannelPermissionRevoked = "permission:revoked"
	ChannelCommandExecuted   = "command:executed"
)

// ConfigUpdate announces that a guild's settings changed in the source of
// truth.
type ConfigUpdate struct {
	TenantID  string              `json:"tenantId"`
	Settings  types.GuildSettings `json:"settings"`
	Timestamp int64               `json:"timestamp,omitempty"`
}

// ModuleToggle announces that a feature module was enabled or disabled.
type ModuleToggle struct {
	TenantID  string          `json:"tenantId"`
	Module    string          `json:"moduleName"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// GuildReload requests a bulk resynchronization of every cached entry
// belonging to the guild.
type GuildReload struct {
	TenantID  string `json:"tenantId"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// PermissionRevoked announces that a user lost access to a guild
// mid-session. The gateway evicts the user's connections from the room.
type PermissionRevoked struct {
	TenantID  string `json:"tenantId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// CommandExecuted announces that a command ran against a guild. Result is
// types.ResultSuccess or types.ResultError.
type CommandExecuted struct {
	TenantID  string `json:"tenantId"`
	Command   string `json:"command"`
	Executor  string `json:"executor"`
	Result    string `json:"result"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
