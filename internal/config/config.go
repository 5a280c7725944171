// Package config loads the relay core's user-facing tunables (spec
// §6) from environment variables via viper, the same BindEnv pattern
// the teacher CLI's root command uses.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// RelayConfig mirrors relay.Config plus the process-level settings
// (database driver, cache tier, log level) the demo CLI needs to wire
// everything together.
type RelayConfig struct {
	LogLevel string

	DatabaseDriver string // "sqlite" or "postgres"
	DatabaseDSN    string

	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string

	CompatV6GroupSend        bool
	GroupAssertChunk         int
	GroupAssertDelayMs       int
	RecentMessagesCacheSize  int
	EnableRecentMessageCache bool
	MaxMsgRetryCount         int
	EmitOwnEvents            bool
}

// Load reads configuration from environment variables, falling back
// to the documented defaults (spec §6), the way the teacher's
// cmd/root.go binds env vars onto viper before reading them back.
func Load() (*RelayConfig, error) {
	v := viper.New()
	v.AutomaticEnv()

	bindEnv(v,
		"log_level", "LOG_LEVEL",
		"db_driver", "DB_DRIVER",
		"db_dsn", "DB_DSN",
		"valkey_enabled", "VALKEY_ENABLED",
		"valkey_address", "VALKEY_ADDRESS",
		"valkey_password", "VALKEY_PASSWORD",
		"valkey_db", "VALKEY_DB",
		"valkey_key_prefix", "VALKEY_KEY_PREFIX",
		"compat_v6_group_send", "RELAY_COMPAT_V6_GROUP_SEND",
		"group_assert_chunk", "RELAY_GROUP_ASSERT_CHUNK",
		"group_assert_delay_ms", "RELAY_GROUP_ASSERT_DELAY_MS",
		"recent_messages_cache_size", "RELAY_RECENT_MESSAGES_CACHE_SIZE",
		"enable_recent_message_cache", "RELAY_ENABLE_RECENT_MESSAGE_CACHE",
		"max_msg_retry_count", "RELAY_MAX_MSG_RETRY_COUNT",
		"emit_own_events", "RELAY_EMIT_OWN_EVENTS",
	)

	v.SetDefault("log_level", "info")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "file:relay.db?_foreign_keys=on")
	v.SetDefault("valkey_key_prefix", "wa-relay:")
	v.SetDefault("group_assert_chunk", 10)
	v.SetDefault("group_assert_delay_ms", 250)
	v.SetDefault("recent_messages_cache_size", 20000)
	v.SetDefault("enable_recent_message_cache", true)
	v.SetDefault("max_msg_retry_count", 5)

	return &RelayConfig{
		LogLevel:                 v.GetString("log_level"),
		DatabaseDriver:           v.GetString("db_driver"),
		DatabaseDSN:              v.GetString("db_dsn"),
		ValkeyEnabled:            v.GetBool("valkey_enabled"),
		ValkeyAddress:            v.GetString("valkey_address"),
		ValkeyPassword:           v.GetString("valkey_password"),
		ValkeyDB:                 v.GetInt("valkey_db"),
		ValkeyKeyPrefix:          v.GetString("valkey_key_prefix"),
		CompatV6GroupSend:        v.GetBool("compat_v6_group_send"),
		GroupAssertChunk:         v.GetInt("group_assert_chunk"),
		GroupAssertDelayMs:       v.GetInt("group_assert_delay_ms"),
		RecentMessagesCacheSize:  v.GetInt("recent_messages_cache_size"),
		EnableRecentMessageCache: v.GetBool("enable_recent_message_cache"),
		MaxMsgRetryCount:         v.GetInt("max_msg_retry_count"),
		EmitOwnEvents:            v.GetBool("emit_own_events"),
	}, nil
}

// GroupAssertDelay converts the millisecond config value into a duration.
func (c *RelayConfig) GroupAssertDelay() time.Duration {
	return time.Duration(c.GroupAssertDelayMs) * time.Millisecond
}

func bindEnv(v *viper.Viper, pairs ...string) {
	for i := 0; i < len(pairs); i += 2 {
		_ = v.BindEnv(pairs[i], pairs[i+1])
	}
}
