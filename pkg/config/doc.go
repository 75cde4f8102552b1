// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the tekton-step configuration file: the ordered list of
// cluster identities plus settings for catalog expansion, check reports and
// metrics.
package config
