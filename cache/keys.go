package cache

// Cache keys are namespaced by entity kind and id. Kept in one place so
// they do not drift between readers and the invalidation handlers.

// ConfigKey is the shared-store key for a guild's settings document.
func ConfigKey(guildID string) string {
	return "guild:" + guildID + ":config"
}

// ModuleKey is the shared-store key for one feature module's state.
func ModuleKey(guildID, module string) string {
	return "guild:" + guildID + ":module:" + module
}

// GuildPattern matches every cached entry belonging to a guild. Used for
// bulk resynchronization on guild:reload.
func GuildPattern(guildID string) string {
	return "guild:" + guildID + ":*"
}
