// Package config implements the record described by spec §6: a
// spf13/viper-backed load of database/store/messenger/runtime/advanced
// options plus a named remotes map, read from an optional YAML/TOML file
// with environment overrides. cmd/tangram passes only the --config path;
// no other cobra flag is bound to these options.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DatabaseKind selects the index's backing database (spec §6).
type DatabaseKind string

const (
	DatabaseSQLite   DatabaseKind = "sqlite"
	DatabasePostgres DatabaseKind = "postgres"
)

// StoreKind selects the object store backend (spec §6).
type StoreKind string

const (
	StoreLMDB   StoreKind = "lmdb"
	StoreFDB    StoreKind = "fdb"
	StoreMemory StoreKind = "memory"
	// StoreFS is the local content-addressed directory tree that stands
	// in for lmdb/fdb in this implementation (DESIGN.md Open Question).
	StoreFS StoreKind = "fs"
)

// MessengerKind selects the internal pub/sub transport (spec §6).
type MessengerKind string

const (
	MessengerMemory MessengerKind = "memory"
	MessengerNATS   MessengerKind = "nats"
)

// SandboxKind selects the native runtime's isolation strategy (spec §6).
type SandboxKind string

const (
	SandboxLinuxNative  SandboxKind = "linux-native"
	SandboxDarwinNative SandboxKind = "darwin-native"
	SandboxNone         SandboxKind = "none"
)

// Database holds database.* options.
type Database struct {
	Kind DatabaseKind `mapstructure:"kind"`
	DSN  string       `mapstructure:"dsn"`
}

// Store holds store.* options.
type Store struct {
	Kind StoreKind `mapstructure:"kind"`
	Path string    `mapstructure:"path"`
}

// Messenger holds messenger.* options.
type Messenger struct {
	Kind MessengerKind `mapstructure:"kind"`
	URL  string        `mapstructure:"url"`
}

// Runtime holds runtime.* options.
type Runtime struct {
	Sandbox SandboxKind `mapstructure:"sandbox"`
}

// Advanced holds advanced.* options.
type Advanced struct {
	PreserveTempDirectories bool `mapstructure:"preserve_temp_directories"`
	WriteCacheEnabled       bool `mapstructure:"write_cache_enabled"`
}

// Config is the fully resolved configuration record.
type Config struct {
	Database  Database             `mapstructure:"database"`
	Store     Store                `mapstructure:"store"`
	Messenger Messenger            `mapstructure:"messenger"`
	Runtime   Runtime              `mapstructure:"runtime"`
	Advanced  Advanced             `mapstructure:"advanced"`
	Remotes   map[string]string    `mapstructure:"remotes"`
}

// defaults mirrors the teacher's viper.SetDefault block: every option gets
// a safe, fully-local default so the server starts with no config file.
func defaults(v *viper.Viper) {
	v.SetDefault("database.kind", string(DatabaseSQLite))
	v.SetDefault("database.dsn", "tangram.db")
	v.SetDefault("store.kind", string(StoreFS))
	v.SetDefault("store.path", "store")
	v.SetDefault("messenger.kind", string(MessengerMemory))
	v.SetDefault("runtime.sandbox", string(SandboxNone))
	v.SetDefault("advanced.preserve_temp_directories", false)
	v.SetDefault("advanced.write_cache_enabled", true)
}

// Load reads configPath (if non-empty), layers TANGRAM_-prefixed
// environment variables over it, and returns the resolved Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("tangram")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]string{}
	}
	return &cfg, nil
}

// Default returns the all-defaults Config, equivalent to Load("").
func Default() (*Config, error) { return Load("") }
