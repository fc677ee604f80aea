// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/LeeDigitalWorks/vaultfs/pkg/accesslog"
	"github.com/LeeDigitalWorks/vaultfs/pkg/api"
	"github.com/LeeDigitalWorks/vaultfs/pkg/debug"
	"github.com/LeeDigitalWorks/vaultfs/pkg/events"
	"github.com/LeeDigitalWorks/vaultfs/pkg/keyring"
	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/registry"
	"github.com/LeeDigitalWorks/vaultfs/pkg/rotation"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"
	"github.com/LeeDigitalWorks/vaultfs/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the VaultFS HTTP server",
	Run: func(cmd *cobra.Command, args []string) {
		utils.LoadConfiguration("vaultfs", false)

		cfg, err := types.ServerConfigFromViper(viper.GetViper())
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid configuration")
		}
		runServer(cmd.Context(), cfg)
	},
}

func runServer(ctx context.Context, cfg *types.ServerConfig) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open stores")
	}
	defer st.Close()

	keys, err := keyring.NewService(st.Keys, cfg.WrappingKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize key manager")
	}

	var pub events.Publisher = events.NopPublisher{}
	if cfg.RedisAddr != "" {
		rcfg := events.DefaultRedisConfig(cfg.RedisAddr)
		rcfg.Channel = cfg.RedisChannel
		pub, err = events.NewRedisPublisher(rcfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect event publisher")
		}
	}
	defer pub.Close()

	tracker := usage.NewTracker(st.Usage, cfg.QuotaBytes)
	svc := registry.NewService(registry.Deps{
		Files:        st.Files,
		Blobs:        st.Blobs,
		Keys:         keys,
		Quota:        tracker,
		Access:       accesslog.NewRecorder(st.AccessLog),
		Publisher:    pub,
		MaxFileBytes: cfg.MaxFileBytes,
	})

	jobs, err := rotation.OpenBoltJobStore(filepath.Join(cfg.DataDir, "rotation.db"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open rotation job store")
	}
	defer jobs.Close()

	coord := rotation.NewCoordinator(rotation.Deps{
		Jobs:           jobs,
		Files:          st.Files,
		Blobs:          st.Blobs,
		Keys:           keys,
		Publisher:      pub,
		FilesPerSecond: cfg.RotationRate,
	})
	defer coord.Close()

	if err := coord.Resume(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to resume interrupted rotations")
	}

	httpServer := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: api.NewServer(api.Config{
			Registry: svc,
			Keys:     keys,
			Rotation: coord,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.DebugAddr != "" {
		debugServer := &http.Server{
			Addr:              cfg.DebugAddr,
			Handler:           debug.Mux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("listen", cfg.DebugAddr).Msg("debug server listening")
			if err := debugServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("debug server failed")
			}
		}()
		defer debugServer.Close()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("listen", cfg.ListenAddr).
			Str("data_dir", cfg.DataDir).
			Str("db_driver", cfg.DBDriver).
			Msg("vaultfs server listening")
		errCh <- httpServer.ListenAndServe()
	}()
	debug.SetReady()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		debug.SetNotReady()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}
}
