package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/catalog"
	"github.com/telekom/tekton-step/pkg/input"
	"github.com/telekom/tekton-step/pkg/metrics"
	"github.com/telekom/tekton-step/pkg/output"
	"github.com/telekom/tekton-step/pkg/report"
	"github.com/telekom/tekton-step/pkg/step"
	"github.com/telekom/tekton-step/pkg/telemetry"
	"github.com/telekom/tekton-step/pkg/version"
)

// ErrRunFailed makes the process exit non-zero for runs that finished
// unsuccessfully.
var ErrRunFailed = errors.New("run failed")

type sourceFlags struct {
	yaml string
	file string
	url  string
}

func (s *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&s.yaml, "yaml", "", "Inline resource document")
	cmd.Flags().StringVarP(&s.file, "file", "f", "", "Path to the resource document, - for stdin")
	cmd.Flags().StringVar(&s.url, "url", "", "URL of the resource document")
	cmd.MarkFlagsMutuallyExclusive("yaml", "file", "url")
}

func (s *sourceFlags) source() input.Source {
	return input.Source{YAML: s.yaml, File: s.file, URL: s.url}
}

func NewApplyCommand() *cobra.Command {
	var (
		src        sourceFlags
		workingDir string
		catalogOn  bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create a Tekton resource and follow its run to completion",
		Long: `Create one Task, TaskRun, Pipeline or PipelineRun on the selected cluster.
TaskRuns and PipelineRuns are followed until they finish; their step logs are
streamed to stdout and the command fails when the run fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.writeMetrics()

			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			doc, err := input.NewLoader(input.WithStdin(rt.stdin)).Load(cmd.Context(), src.source())
			if err != nil {
				return err
			}
			id, err := rt.ResolveIdentity()
			if err != nil {
				return err
			}
			cache, err := rt.ClientCache()
			if err != nil {
				return err
			}

			env := rt.Env()
			// structured output keeps stdout parseable, progress goes to stderr
			var console io.Writer = rt.Writer()
			if format != output.FormatText {
				console = rt.errWriter
			}

			ctx := telemetry.ContextFromEnv(cmd.Context(), env)
			tp, shutdown, err := telemetry.Init(ctx, rt.tracingOptions())
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					rt.log.Warnw("Failed to flush traces", "error", err)
				}
			}()

			opts := []step.Option{
				step.WithConsole(console),
				step.WithReporter(rt.reporter(env)),
				step.WithPollInterval(rt.cfg.Settings.PollInterval),
				step.WithTracerProvider(tp),
			}
			if catalogOn || rt.cfg.Catalog.Enabled {
				opts = append(opts, step.WithExpander(catalog.NewExpander(rt.cfg.Catalog.Binary, rt.log)))
			}
			if workingDir == "" {
				workingDir, _ = os.Getwd()
			}

			res, err := step.NewRunner(cache, rt.log, opts...).Apply(ctx, step.Request{
				Document:   doc,
				Cluster:    id,
				Namespace:  rt.Namespace(),
				WorkingDir: workingDir,
				Env:        env,
			})
			if res != nil {
				if werr := writeResult(rt.Writer(), format, res); werr != nil {
					return werr
				}
			}
			if err != nil {
				return err
			}
			if !res.Succeeded {
				reason := ""
				if res.Condition != nil {
					reason = res.Condition.Reason
				}
				return fmt.Errorf("%w: %s %s: %s", ErrRunFailed, res.Kind, res.Name, reason)
			}
			return nil
		},
	}

	src.register(cmd)
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "Job workspace used for catalog expansion (default: current directory)")
	cmd.Flags().BoolVar(&catalogOn, "catalog", false, "Expand catalog references before submitting")

	return cmd
}

// reporter always logs reports and also publishes GitHub check runs when
// checks are enabled.
func (rt *runtimeState) reporter(env map[string]string) report.Reporter {
	reporters := report.Multi{report.NewLog(rt.log)}
	if !rt.cfg.Checks.Enabled {
		return reporters
	}
	client, err := report.NewGitHubClient(nil, rt.cfg.Checks.GitHubURL, env[rt.cfg.Checks.TokenEnv])
	if err != nil {
		rt.log.Warnw("GitHub check reports disabled", "error", err)
		return reporters
	}
	build := buildenv.FromEnv(env)
	target := report.Target{Owner: build.RepoOwner, Repo: build.RepoName, HeadSHA: build.GitCommit}
	return append(reporters, report.NewGitHub(client, target, rt.log))
}

func (rt *runtimeState) tracingOptions() telemetry.Options {
	t := rt.cfg.Tracing
	return telemetry.Options{
		Enabled:        t.Enabled,
		ServiceVersion: version.Version,
		Exporter:       t.Exporter,
		Endpoint:       t.Endpoint,
		Insecure:       t.Insecure,
		Writer:         rt.errWriter,
		SamplingRate:   t.SamplingRate,
		Logger:         rt.log,
	}
}

func (rt *runtimeState) writeMetrics() {
	if rt.cfg == nil {
		return
	}
	if err := metrics.WriteTextfile(rt.cfg.Metrics.Textfile); err != nil {
		rt.log.Warnw("Failed to write metrics", "error", err)
	}
}

func writeResult(w io.Writer, format output.Format, res *step.Result) error {
	if format != output.FormatText {
		return output.WriteObject(w, format, res)
	}
	status := "succeeded"
	if !res.Succeeded {
		status = "failed"
	}
	fields := [][2]string{
		{"Cluster", res.Cluster},
		{"Kind", string(res.Kind)},
		{"Name", res.Name},
		{"Namespace", res.Namespace},
		{"Result", status},
	}
	if res.Condition != nil {
		fields = append(fields,
			[2]string{"Reason", res.Condition.Reason},
			[2]string{"Message", res.Condition.Message},
		)
	}
	output.WriteFields(w, fields)
	return nil
}
