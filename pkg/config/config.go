// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/tekton-step/pkg/cluster"
)

const (
	VersionV1 = "v1"

	DefaultCatalogBinary = "jx-pipeline-effective"
	DefaultTokenEnv      = "GITHUB_TOKEN"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentCluster string    `yaml:"current-cluster,omitempty"`
	Clusters       []Cluster `yaml:"clusters,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
	Catalog        Catalog   `yaml:"catalog,omitempty"`
	Checks         Checks    `yaml:"checks,omitempty"`
	Metrics        Metrics   `yaml:"metrics,omitempty"`
	Tracing        Tracing   `yaml:"tracing,omitempty"`
}

// Cluster is one configured cluster identity.
type Cluster struct {
	Name      string `yaml:"name"`
	Server    string `yaml:"server,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
	// CertificateAuthorityData is base64 encoded PEM, as in a kubeconfig.
	CertificateAuthorityData string `yaml:"certificate-authority-data,omitempty"`
	CAFile                   string `yaml:"ca-file,omitempty"`
	InsecureSkipTLSVerify    bool   `yaml:"insecure-skip-tls-verify,omitempty"`
	Kubeconfig               string `yaml:"kubeconfig,omitempty"`
	Context                  string `yaml:"context,omitempty"`
}

type Settings struct {
	DefaultNamespace string        `yaml:"default-namespace,omitempty"`
	ClientTTL        time.Duration `yaml:"client-ttl,omitempty"`
	PollInterval     time.Duration `yaml:"poll-interval,omitempty"`
	OutputFormat     string        `yaml:"output-format,omitempty"`
}

type Catalog struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Binary  string `yaml:"binary,omitempty"`
}

type Checks struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// GitHubURL selects a GitHub Enterprise instance; empty means github.com.
	GitHubURL string `yaml:"github-url,omitempty"`
	TokenEnv  string `yaml:"token-env,omitempty"`
}

type Metrics struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Tracing configures OpenTelemetry spans for each invocation.
type Tracing struct {
	Enabled bool `yaml:"enabled,omitempty"`
	// Exporter is otlp, stdout or none.
	Exporter     string  `yaml:"exporter,omitempty"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	Insecure     bool    `yaml:"insecure,omitempty"`
	SamplingRate float64 `yaml:"sampling-rate,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			ClientTTL:    cluster.DefaultClientTTL,
			PollInterval: 2 * time.Second,
			OutputFormat: "text",
		},
		Catalog: Catalog{Binary: DefaultCatalogBinary},
		Checks:  Checks{TokenEnv: DefaultTokenEnv},
		Tracing: Tracing{Exporter: "otlp", SamplingRate: 1.0},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields DefaultConfig.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		def := DefaultConfig()
		return &def, nil
	}
	return cfg, err
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindCluster(name string) (*Cluster, error) {
	for i := range c.Clusters {
		if c.Clusters[i].Name == name {
			return &c.Clusters[i], nil
		}
	}
	return nil, fmt.Errorf("cluster not found: %s", name)
}

// CurrentClusterOrDefault returns current-cluster, the first configured
// cluster, or the implicit default identity name.
func (c *Config) CurrentClusterOrDefault() string {
	if c.CurrentCluster != "" {
		return c.CurrentCluster
	}
	if len(c.Clusters) > 0 {
		return c.Clusters[0].Name
	}
	return cluster.DefaultIdentityName
}

// Identity resolves the named cluster. With no clusters configured the
// implicit default identity is returned for DefaultIdentityName.
func (c *Config) Identity(name string) (cluster.Identity, error) {
	if len(c.Clusters) == 0 && (name == "" || name == cluster.DefaultIdentityName) {
		return cluster.Identity{Name: cluster.DefaultIdentityName}, nil
	}
	cl, err := c.FindCluster(name)
	if err != nil {
		return cluster.Identity{}, err
	}
	return cl.Identity()
}

// Identities returns all configured identities in order.
func (c *Config) Identities() ([]cluster.Identity, error) {
	if len(c.Clusters) == 0 {
		return []cluster.Identity{{Name: cluster.DefaultIdentityName}}, nil
	}
	ids := make([]cluster.Identity, 0, len(c.Clusters))
	for i := range c.Clusters {
		id, err := c.Clusters[i].Identity()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Identity converts the cluster entry, decoding or reading its trust material.
func (cl *Cluster) Identity() (cluster.Identity, error) {
	id := cluster.Identity{
		Name:                  cl.Name,
		Server:                cl.Server,
		Namespace:             cl.Namespace,
		InsecureSkipTLSVerify: cl.InsecureSkipTLSVerify,
		Kubeconfig:            cl.Kubeconfig,
		Context:               cl.Context,
	}
	switch {
	case cl.CertificateAuthorityData != "":
		ca, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cl.CertificateAuthorityData))
		if err != nil {
			return cluster.Identity{}, fmt.Errorf("cluster %s: invalid certificate-authority-data: %w", cl.Name, err)
		}
		id.CAData = ca
	case cl.CAFile != "":
		ca, err := os.ReadFile(cl.CAFile)
		if err != nil {
			return cluster.Identity{}, fmt.Errorf("cluster %s: read ca-file: %w", cl.Name, err)
		}
		id.CAData = ca
	}
	return id, nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if c.Version != VersionV1 {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	seen := map[string]bool{}
	for _, cl := range c.Clusters {
		if strings.TrimSpace(cl.Name) == "" {
			return errors.New("cluster name cannot be empty")
		}
		if seen[cl.Name] {
			return fmt.Errorf("cluster %s is defined more than once", cl.Name)
		}
		seen[cl.Name] = true
		if cl.CertificateAuthorityData != "" && cl.CAFile != "" {
			return fmt.Errorf("cluster %s: certificate-authority-data and ca-file are mutually exclusive", cl.Name)
		}
	}
	if c.CurrentCluster != "" && len(c.Clusters) > 0 && !seen[c.CurrentCluster] {
		return fmt.Errorf("current-cluster %s is not defined", c.CurrentCluster)
	}
	switch c.Settings.OutputFormat {
	case "", "text", "json", "yaml":
	default:
		return fmt.Errorf("unknown output format: %s", c.Settings.OutputFormat)
	}
	if c.Settings.ClientTTL < 0 || c.Settings.PollInterval < 0 {
		return errors.New("client-ttl and poll-interval must not be negative")
	}
	switch c.Tracing.Exporter {
	case "", "otlp", "stdout", "none":
	default:
		return fmt.Errorf("unknown tracing exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("tracing endpoint is required for the otlp exporter")
	}
	return nil
}
