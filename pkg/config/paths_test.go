// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath(t *testing.T) {
	t.Run("environment override", func(t *testing.T) {
		t.Setenv("TEKTON_STEP_CONFIG", "/etc/tekton-step/config.yaml")
		assert.Equal(t, "/etc/tekton-step/config.yaml", DefaultConfigPath())
	})

	t.Run("xdg config home", func(t *testing.T) {
		if runtime.GOOS != "linux" {
			t.Skip("XDG_CONFIG_HOME is only honoured on linux")
		}
		dir := t.TempDir()
		t.Setenv("TEKTON_STEP_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", dir)
		assert.Equal(t, filepath.Join(dir, "tekton-step", "config.yaml"), DefaultConfigPath())
	})
}
