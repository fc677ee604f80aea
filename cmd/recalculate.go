// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/LeeDigitalWorks/vaultfs/pkg/logger"
	"github.com/LeeDigitalWorks/vaultfs/pkg/types"
	"github.com/LeeDigitalWorks/vaultfs/pkg/usage"
	"github.com/LeeDigitalWorks/vaultfs/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(recalculateCmd)
}

var recalculateCmd = &cobra.Command{
	Use:   "recalculate",
	Short: "Recompute per-user storage usage from the file registry",
	Long: `Recalculates every usage account from the authoritative sum of logical
file sizes and corrects drifted accounts. Run while the server is stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		utils.LoadConfiguration("vaultfs", false)

		cfg, err := types.ServerConfigFromViper(viper.GetViper())
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid configuration")
		}

		ctx := cmd.Context()
		st, err := openStores(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open stores")
		}
		defer st.Close()

		tracker := usage.NewTracker(st.Usage, cfg.QuotaBytes)
		corrections, err := usage.NewReconciler(tracker, st.Files).Run(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("recalculation failed")
		}

		if len(corrections) == 0 {
			fmt.Println("All usage accounts are accurate.")
			return
		}
		for _, c := range corrections {
			fmt.Printf("%s: %s -> %s\n", c.UserID,
				humanize.IBytes(uint64(c.Recorded)),
				humanize.IBytes(uint64(c.Actual)))
		}
		fmt.Printf("Corrected %d account(s).\n", len(corrections))
	},
}
