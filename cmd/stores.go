// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/blob"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring/bboltstore"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	regmem "github.com/LeeDigitalWorks/vaultfs/pkg/registry/memory"
	regpg "github.com/LeeDigitalWorks/vaultfs/pkg/registry/postgres"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"
)

// stores bundles every persistence backend the commands wire up.
type stores struct {
	Blobs     blob.Store
	Files     registry.Store
	Usage     usage.Store
	AccessLog accesslog.Store
	Keys      keyring.RecordStore

	db *sql.DB
}

// openStores builds the persistence layer described by cfg.
func openStores(ctx context.Context, cfg *types.ServerConfig) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	blobs, err := blob.NewDiskStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	keys, err := bboltstore.Open(filepath.Join(cfg.DataDir, "keys.db"))
	if err != nil {
		blobs.Close()
		return nil, err
	}

	s := &stores{Blobs: blobs, Keys: keys}
	switch cfg.DBDriver {
	case "memory":
		s.Files = regmem.NewStore()
		s.Usage = usage.NewMemoryStore()
		s.AccessLog = accesslog.NewMemoryStore()
	case "postgres":
		db, err := regpg.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.db = db
		s.Files = regpg.NewFileStore(db)
		s.Usage = regpg.NewUsageStore(db)
		s.AccessLog = regpg.NewAccessLogStore(db)
	default:
		s.Close()
		return nil, fmt.Errorf("unknown db driver %q", cfg.DBDriver)
	}
	return s, nil
}

func (s *stores) Close() {
	if s.Keys != nil {
		s.Keys.Close()
	}
	if s.Blobs != nil {
		s.Blobs.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
