// Package config loads server settings from defaults, an optional config
// file, and ROOMSYNC_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds server configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Rooms   RoomConfig
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Addr string
}

// StorageConfig selects and locates the snapshot store.
type StorageConfig struct {
	Driver string // sqlite or bolt
	Path   string
}

// RoomConfig holds per-room behavior.
type RoomConfig struct {
	Capacity       int
	PersistEvery   time.Duration
	AssetsEndpoint string
}

// Load reads configuration. Env var overrides use prefix ROOMSYNC_, with dots
// replaced by underscores (e.g. ROOMSYNC_STORAGE_DRIVER).
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", "localhost:8080")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "roomsync.sqlite3")
	v.SetDefault("rooms.capacity", 2)
	v.SetDefault("rooms.persist_every", "1s")
	v.SetDefault("rooms.assets_endpoint", "")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("ROOMSYNC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "roomsync"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("ROOMSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// config file is optional
	_ = v.ReadInConfig()

	persistEvery, err := time.ParseDuration(v.GetString("rooms.persist_every"))
	if err != nil {
		return Config{}, fmt.Errorf("bad rooms.persist_every: %w", err)
	}

	c := Config{
		Server: ServerConfig{Addr: v.GetString("server.addr")},
		Storage: StorageConfig{
			Driver: v.GetString("storage.driver"),
			Path:   v.GetString("storage.path"),
		},
		Rooms: RoomConfig{
			Capacity:       v.GetInt("rooms.capacity"),
			PersistEvery:   persistEvery,
			AssetsEndpoint: v.GetString("rooms.assets_endpoint"),
		},
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "bolt" {
		return Config{}, fmt.Errorf("storage.driver must be sqlite or bolt, got %q", c.Storage.Driver)
	}
	if c.Rooms.Capacity < 1 {
		return Config{}, fmt.Errorf("rooms.capacity must be positive, got %d", c.Rooms.Capacity)
	}
	return c, nil
}
