// Package step runs one tekton-step invocation: classify the document,
// optionally expand catalog references, submit it with a cached cluster
// client, follow the run to its terminal condition and report the outcome.
package step

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/clock"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/cluster"
	"github.com/telekom/tekton-step/pkg/observe"
	"github.com/telekom/tekton-step/pkg/report"
	"github.com/telekom/tekton-step/pkg/resource"
	"github.com/telekom/tekton-step/pkg/submit"
	"github.com/telekom/tekton-step/pkg/telemetry"
)

// Expander rewrites catalog references in a document.
type Expander interface {
	Expand(ctx context.Context, doc []byte, workingDir string, env map[string]string) ([]byte, error)
}

// Request is the input of one invocation.
type Request struct {
	Document []byte
	Cluster  cluster.Identity
	// Namespace is the default namespace for documents that declare none.
	Namespace string
	// WorkingDir is the job workspace, used for catalog expansion.
	WorkingDir string
	// Env holds the calling job's environment variables.
	Env map[string]string
}

// Result is the outcome of one invocation.
type Result struct {
	Cluster      string                `json:"cluster" yaml:"cluster"`
	Kind         resource.Kind         `json:"kind" yaml:"kind"`
	Name         string                `json:"name" yaml:"name"`
	Namespace    string                `json:"namespace" yaml:"namespace"`
	GenerateName string                `json:"generateName,omitempty" yaml:"generateName,omitempty"`
	Condition    *observe.RunCondition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Report       *report.CheckReport   `json:"report,omitempty" yaml:"report,omitempty"`
	Succeeded    bool                  `json:"succeeded" yaml:"succeeded"`
}

// Runner executes invocations. One Runner, and its ClientCache, may serve
// concurrent invocations.
type Runner struct {
	cache        *cluster.ClientCache
	expander     Expander
	reporter     report.Reporter
	console      io.Writer
	log          *zap.SugaredLogger
	clock        clock.PassiveClock
	pollInterval time.Duration
	tracer       trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithExpander enables catalog expansion.
func WithExpander(e Expander) Option {
	return func(r *Runner) { r.expander = e }
}

func WithReporter(rep report.Reporter) Option {
	return func(r *Runner) {
		if rep != nil {
			r.reporter = rep
		}
	}
}

// WithConsole sets the sink for progress lines and run logs.
func WithConsole(w io.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.console = w
		}
	}
}

func WithClock(clk clock.PassiveClock) Option {
	return func(r *Runner) { r.clock = clk }
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithTracerProvider records invocation spans with tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer(telemetry.TracerName)
		}
	}
}

func NewRunner(cache *cluster.ClientCache, log *zap.SugaredLogger, opts ...Option) *Runner {
	if log == nil {
		log = zap.S()
	}
	r := &Runner{
		cache:    cache,
		reporter: report.Nop{},
		console:  io.Discard,
		log:      log,
		clock:    clock.RealClock{},
		tracer:   otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply submits the document and, for TaskRuns and PipelineRuns, blocks until
// the run is terminal. A failed run is returned as a Result with Succeeded
// false and no error; errors mean the invocation itself failed.
func (r *Runner) Apply(ctx context.Context, req Request) (_ *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "tekton-step.apply",
		trace.WithAttributes(attribute.String("tekton.cluster", req.Cluster.DisplayName())))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var doc *resource.Document
	if err := r.stage(ctx, "classify", func(context.Context) (err error) {
		doc, err = resource.Parse(req.Document)
		return err
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tekton.kind", string(doc.Kind)))
	log := r.log.With("cluster", req.Cluster.DisplayName(), "kind", doc.Kind)

	if r.expander != nil {
		if err := r.stage(ctx, "expand", func(ctx context.Context) error {
			expanded, err := r.expander.Expand(ctx, doc.Raw, req.WorkingDir, req.Env)
			if err != nil {
				return err
			}
			if doc, err = resource.Parse(expanded); err != nil {
				return fmt.Errorf("expanded document: %w", err)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		log.Debugw("Expanded catalog references", "kind", doc.Kind)
	}

	var (
		clients *cluster.Clients
		res     *submit.SubmittedResource
	)
	if err := r.stage(ctx, "submit", func(ctx context.Context) (err error) {
		if clients, err = r.cache.Get(ctx, req.Cluster); err != nil {
			return err
		}
		submitter := submit.NewSubmitter(clients.Client, clients.Namespace, buildenv.FromEnv(req.Env), log)
		res, err = submitter.Submit(ctx, doc, req.Namespace)
		return err
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("tekton.name", res.Name),
		attribute.String("tekton.namespace", res.Namespace),
	)
	r.printf("%s %s/%s created\n", res.Kind, res.Namespace, res.Name)

	result := &Result{
		Cluster:      req.Cluster.DisplayName(),
		Kind:         res.Kind,
		Name:         res.Name,
		Namespace:    res.Namespace,
		GenerateName: res.GenerateName,
	}
	if !res.Kind.IsRun() {
		result.Succeeded = true
		return result, nil
	}

	var rep *report.CheckReport
	if res.Kind == resource.KindPipelineRun {
		rep = report.New(*res, r.clock.Now())
		if err := r.reporter.Open(ctx, rep); err != nil {
			log.Warnw("Failed to open check report", "error", err)
		}
		result.Report = rep
	}
	r.printf("%s %s is running\n", res.Kind, res.Name)

	var opts []observe.Option
	if r.pollInterval > 0 {
		opts = append(opts, observe.WithPollInterval(r.pollInterval))
	}
	var cond observe.RunCondition
	obsErr := r.stage(ctx, "observe", func(ctx context.Context) (err error) {
		observer := observe.NewObserver(clients.Client, clients.Kube, r.console, log, opts...)
		cond, err = observer.Observe(ctx, res)
		return err
	})
	if obsErr != nil {
		// the run outcome is unknown; report it as failed
		cond = observe.RunCondition{
			Type:    observe.ConditionSucceeded,
			Status:  corev1.ConditionFalse,
			Reason:  "ObservationError",
			Message: obsErr.Error(),
		}
	}

	if rep != nil {
		report.Complete(rep, cond, r.clock.Now())
		// reports are closed even when the invocation was cancelled
		if err := r.reporter.Close(context.WithoutCancel(ctx), rep); err != nil {
			log.Warnw("Failed to close check report", "error", err)
		}
	}

	result.Condition = &cond
	result.Succeeded = obsErr == nil && cond.Succeeded()
	span.SetAttributes(
		attribute.Bool("tekton.succeeded", result.Succeeded),
		attribute.String("tekton.reason", cond.Reason),
	)
	if !result.Succeeded && obsErr == nil {
		span.SetStatus(codes.Error, cond.Reason)
	}
	r.summary(res, cond)
	if obsErr != nil {
		return result, obsErr
	}
	return result, nil
}

// stage runs fn inside a child span named after the step.
func (r *Runner) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Delete removes a resource through the cached client for id.
func (r *Runner) Delete(ctx context.Context, id cluster.Identity, kind resource.Kind, name, namespace string) error {
	clients, err := r.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	submitter := submit.NewSubmitter(clients.Client, clients.Namespace, buildenv.Context{}, r.log.With("cluster", id.DisplayName()))
	if err := submitter.Delete(ctx, kind, name, namespace); err != nil {
		return err
	}
	r.printf("%s %s deleted\n", kind, name)
	return nil
}

func (r *Runner) summary(res *submit.SubmittedResource, cond observe.RunCondition) {
	if cond.Succeeded() {
		_, _ = color.New(color.FgGreen, color.Bold).Fprintf(r.console, "%s %s succeeded\n", res.Kind, res.Name)
		return
	}
	_, _ = color.New(color.FgRed, color.Bold).Fprintf(r.console, "%s %s failed: %s: %s\n", res.Kind, res.Name, cond.Reason, cond.Message)
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.console, format, args...)
}
