// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName = "tekton-step"
	defaultConfigFile    = "config.yaml"
)

// DefaultConfigPath honours TEKTON_STEP_CONFIG, then the user config dir
// ($XDG_CONFIG_HOME on Linux).
func DefaultConfigPath() string {
	if env := os.Getenv("TEKTON_STEP_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tekton-step", defaultConfigFile)
}
