// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cmd provides the CLI commands for the VaultFS server.
package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/vaultfs/pkg/utils"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vaultfs",
	Short: "VaultFS - an encrypted, deduplicating file store",
	Long: `VaultFS stores user files as content-addressed blobs encrypted under
per-user keys. Identical content is stored once per user; keys can be
rotated with online re-encryption of existing files.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
