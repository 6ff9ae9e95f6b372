package types

import "encoding/json"

// GuildSettings is the per-guild configuration document as committed to the
// source of truth. Values stay raw JSON so this layer never depends on the
// shape of individual settings.
type GuildSettings map[string]json.RawMessage

// ModuleState is the state of a single feature module within a guild.
type ModuleState struct {
	Name    string          `json:"name"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// Results carried on command:executed events.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)
