// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/viper"
)

// Defaults mirrored from the client contract.
const (
	DefaultQuotaBytes   = int64(1 << 30)  // 1GiB per user
	DefaultMaxFileBytes = int64(100 << 20) // 100MiB per upload
)

// ServerConfig holds everything the server command needs to wire the store.
type ServerConfig struct {
	ListenAddr string

	// DebugAddr serves pprof and readiness probes when non-empty.
	DebugAddr string

	// DataDir is the root for blob bytes, the blob index, and the key store.
	DataDir string

	// DBDriver selects the registry backend: "memory" or "postgres".
	DBDriver    string
	PostgresDSN string

	// WrappingKey is the server-held key used to wrap user data keys at
	// rest. Supplied as 64 hex characters, never persisted by the server.
	WrappingKey []byte

	// Redis event publishing (optional; disabled when Addr is empty).
	RedisAddr    string
	RedisChannel string

	// RotationRate caps re-encryption throughput in files per second.
	RotationRate float64

	QuotaBytes   int64
	MaxFileBytes int64
}

// ServerConfigFromViper reads the server configuration from the loaded
// viper state, applying defaults and validating the wrapping key.
func ServerConfigFromViper(v *viper.Viper) (*ServerConfig, error) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("redis.channel", "vaultfs:files")
	v.SetDefault("rotation.rate", 20.0)
	v.SetDefault("quota_bytes", DefaultQuotaBytes)
	v.SetDefault("max_file_bytes", DefaultMaxFileBytes)

	cfg := &ServerConfig{
		ListenAddr:   v.GetString("listen"),
		DebugAddr:    v.GetString("debug_listen"),
		DataDir:      v.GetString("data_dir"),
		DBDriver:     v.GetString("db.driver"),
		PostgresDSN:  v.GetString("db.dsn"),
		RedisAddr:    v.GetString("redis.addr"),
		RedisChannel: v.GetString("redis.channel"),
		RotationRate: v.GetFloat64("rotation.rate"),
		QuotaBytes:   v.GetInt64("quota_bytes"),
		MaxFileBytes: v.GetInt64("max_file_bytes"),
	}

	keyHex := v.GetString("wrapping_key")
	if keyHex == "" {
		return nil, fmt.Errorf("wrapping_key is required (64 hex chars)")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse wrapping_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("wrapping_key must be 32 bytes, got %d", len(key))
	}
	cfg.WrappingKey = key

	switch cfg.DBDriver {
	case "memory":
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("unknown db.driver %q", cfg.DBDriver)
	}

	return cfg, nil
}
