package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/cluster"
	"github.com/telekom/tekton-step/pkg/config"
	"github.com/telekom/tekton-step/pkg/output"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrWriter    io.Writer
	Stdin        io.Reader
	// Context is the base context of every command, e.g. one cancelled on SIGTERM.
	Context context.Context
	// NewLogger builds the process logger once the debug flag is known.
	NewLogger func(debug bool) *zap.Logger
	// Environ returns the calling job's environment; defaults to os.Environ.
	Environ func() []string
	// ClientFactory replaces cluster.NewClients.
	ClientFactory cluster.Factory
}

type runtimeState struct {
	configPath        string
	cfg               *config.Config
	clusterOverride   string
	namespaceOverride string
	outputFormat      string
	debug             bool

	writer    io.Writer
	errWriter io.Writer
	stdin     io.Reader
	newLogger func(bool) *zap.Logger
	log       *zap.SugaredLogger
	environ   func() []string
	factory   cluster.Factory
	cache     *cluster.ClientCache
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
		Stdin:        os.Stdin,
		Environ:      os.Environ,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrWriter,
		stdin:      cfg.Stdin,
		newLogger:  cfg.NewLogger,
		environ:    cfg.Environ,
		factory:    cfg.ClientFactory,
	}

	root := &cobra.Command{
		Use:           "tekton-step",
		Short:         "Submit Tekton resources from a CI step and follow their runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.errWriter == nil {
				rt.errWriter = os.Stderr
			}
			if rt.stdin == nil {
				rt.stdin = os.Stdin
			}
			if rt.environ == nil {
				rt.environ = os.Environ
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.clusterOverride == "" {
				rt.clusterOverride = os.Getenv("TEKTON_STEP_CLUSTER")
			}
			if rt.namespaceOverride == "" {
				rt.namespaceOverride = os.Getenv("TEKTON_STEP_NAMESPACE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("TEKTON_STEP_OUTPUT")
			}
			if !rt.debug {
				rt.debug = strings.EqualFold(os.Getenv("TEKTON_STEP_DEBUG"), "true")
			}
			rt.setupLogger()

			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}

			cfg, err := config.LoadOrDefault(rt.configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.clusterOverride, "cluster", "", "Cluster name override")
	root.PersistentFlags().StringVarP(&rt.namespaceOverride, "namespace", "n", "", "Default namespace for documents that declare none")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: text, json, yaml")
	root.PersistentFlags().BoolVar(&rt.debug, "debug", false, "Enable debug logging")
	registerCompletions(root, rt)
	if cfg.OutputWriter != nil {
		root.SetOut(cfg.OutputWriter)
	}
	if cfg.ErrWriter != nil {
		root.SetErr(cfg.ErrWriter)
	}

	base := cfg.Context
	if base == nil {
		base = context.Background()
	}
	root.SetContext(context.WithValue(base, runtimeKey{}, rt))

	root.AddCommand(
		NewApplyCommand(),
		NewDeleteCommand(),
		NewClassifyCommand(),
		NewClustersCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

// PrintError writes err to the error stream of root. In text output mode the
// line is echoed to the console writer too, unless both are the same stream.
func PrintError(root *cobra.Command, err error) {
	errOut := root.ErrOrStderr()
	_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)

	rt, rerr := getRuntime(root)
	if rerr != nil {
		return
	}
	format, ferr := rt.OutputFormat()
	if ferr != nil || format != output.FormatText || rt.Writer() == errOut {
		return
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Error: %v\n", err)
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) setupLogger() {
	if rt.log != nil {
		return
	}
	if rt.newLogger == nil {
		rt.log = zap.S()
		return
	}
	rt.log = rt.newLogger(rt.debug).Sugar()
}

func (rt *runtimeState) ResolveClusterName() string {
	if rt.clusterOverride != "" {
		return rt.clusterOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentClusterOrDefault()
	}
	return cluster.DefaultIdentityName
}

func (rt *runtimeState) ResolveIdentity() (cluster.Identity, error) {
	if rt.cfg == nil {
		return cluster.Identity{}, errors.New("config not loaded")
	}
	return rt.cfg.Identity(rt.ResolveClusterName())
}

// Namespace is the default namespace for unscoped documents.
func (rt *runtimeState) Namespace() string {
	if rt.namespaceOverride != "" {
		return rt.namespaceOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Settings.DefaultNamespace
	}
	return ""
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatText, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

// ClientCache returns the process wide cache, built on first use from the
// configured identities.
func (rt *runtimeState) ClientCache() (*cluster.ClientCache, error) {
	if rt.cache != nil {
		return rt.cache, nil
	}
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	opts := []cluster.Option{cluster.WithTTL(rt.cfg.Settings.ClientTTL)}
	if rt.factory != nil {
		opts = append(opts, cluster.WithFactory(rt.factory))
	}
	cache := cluster.NewClientCache(rt.log, opts...)
	ids, err := rt.cfg.Identities()
	if err != nil {
		return nil, err
	}
	cache.Reconfigure(ids)
	rt.cache = cache
	return cache, nil
}

// Env returns the calling job's environment as a map.
func (rt *runtimeState) Env() map[string]string {
	environ := rt.environ
	if environ == nil {
		environ = os.Environ
	}
	return buildenv.Environ(environ())
}
