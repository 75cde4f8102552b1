// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package cluster

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// DefaultIdentityName is used when no cluster is configured and credentials
// come entirely from the standard kubeconfig loading rules.
const DefaultIdentityName = "default"

// Identity describes one logical cluster configuration. Values are treated as
// immutable; configuration changes replace the whole set via Reconfigure.
type Identity struct {
	// Name is the display name and the cache key.
	Name string
	// Server is the API server URL. Empty means "take it from kubeconfig".
	Server string
	// Namespace is the namespace used for unscoped operations.
	Namespace string
	// CAData holds PEM encoded trust material for the API server.
	CAData []byte
	// InsecureSkipTLSVerify disables server certificate verification.
	InsecureSkipTLSVerify bool

	// Kubeconfig and Context select where credentials are loaded from.
	Kubeconfig string
	Context    string
}

// Fingerprint hashes the fields that, when changed, must invalidate a cached
// client for this identity. The name is deliberately not part of it.
func (i Identity) Fingerprint() string {
	h := sha256.New()
	for _, part := range []string{
		i.Server,
		i.Namespace,
		string(i.CAData),
		strconv.FormatBool(i.InsecureSkipTLSVerify),
		i.Kubeconfig,
		i.Context,
	} {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		_, _ = h.Write([]byte(strconv.Itoa(len(part))))
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DisplayName returns the identity name, defaulting to DefaultIdentityName.
func (i Identity) DisplayName() string {
	if i.Name == "" {
		return DefaultIdentityName
	}
	return i.Name
}
