// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package utils holds configuration loading helpers shared by the CLI
// commands.
package utils

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ConfigurationFileDirectory string
)

// LoadConfiguration merges the named config file into viper, searching
// the configured directory and the usual system locations. Environment
// variables (VAULTFS_*) override file values.
func LoadConfiguration(configFileName string, required bool) bool {
	viper.SetConfigName(configFileName)
	viper.AddConfigPath(ResolvePath(ConfigurationFileDirectory))
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.vaultfs")
	viper.AddConfigPath("/usr/local/etc/vaultfs/")
	viper.AddConfigPath("/etc/vaultfs/")
	viper.SetEnvPrefix("vaultfs")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if required {
				log.Fatal().Msgf("Config file not found: %s", configFileName)
			}
			log.Info().Msgf("Config file not found: %s", configFileName)
			return false
		}

		if required {
			log.Fatal().Msgf("Failed to load required config file: %s", configFileName)
		}
		return false
	}
	log.Info().Msgf("Loaded config file: %s", viper.ConfigFileUsed())

	return true
}

// ResolvePath expands "~" and environment variables in path.
func ResolvePath(path string) string {
	if !strings.Contains(path, "~") {
		return os.ExpandEnv(path)
	}

	if path == "~" {
		if usr, err := user.Current(); err == nil {
			path = usr.HomeDir
		}
	} else if strings.HasPrefix(path, "~/") {
		if usr, err := user.Current(); err == nil {
			path = filepath.Join(usr.HomeDir, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
