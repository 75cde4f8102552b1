// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package cluster provides cluster connectivity for tekton-step: the Identity
// describing one configured cluster, construction of API clients from it, and a
// TTL-bounded ClientCache that hands out clients only while their validity
// fingerprint still matches the current configuration.
package cluster
