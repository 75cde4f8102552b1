// Package observe follows a submitted TaskRun or PipelineRun until it reaches
// a terminal condition, streaming the logs of its step containers to a console
// sink while it runs.
package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/telekom/tekton-step/pkg/metrics"
	"github.com/telekom/tekton-step/pkg/resource"
	"github.com/telekom/tekton-step/pkg/submit"
)

// DefaultPollInterval is how often run status and pods are polled.
const DefaultPollInterval = 2 * time.Second

// PipelineRunLabel links TaskRuns to the PipelineRun that created them.
const PipelineRunLabel = "tekton.dev/pipelineRun"

// ErrObservationFailed is the sentinel every observation error unwraps to.
var ErrObservationFailed = errors.New("observation failed")

// Error is returned when the log worker itself failed (lost connection,
// missing pod, decode error, cancellation). It carries the worker's error.
type Error struct {
	Kind resource.Kind
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("observe %s %s: %v", e.Kind, e.Name, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrObservationFailed, e.Err}
}

// Observer follows runs on one cluster.
type Observer struct {
	client       ctrlclient.Client
	kube         kubernetes.Interface
	out          io.Writer
	log          *zap.SugaredLogger
	pollInterval time.Duration
}

// Option configures an Observer.
type Option func(*Observer)

// WithPollInterval overrides DefaultPollInterval. Non-positive values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *Observer) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

func NewObserver(c ctrlclient.Client, kube kubernetes.Interface, out io.Writer, log *zap.SugaredLogger, opts ...Option) *Observer {
	if log == nil {
		log = zap.S()
	}
	if out == nil {
		out = io.Discard
	}
	o := &Observer{client: c, kube: kube, out: out, log: log, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Observe starts one worker that streams the run's logs and watches its
// Succeeded condition, and blocks until that worker has finished. A terminal
// condition is returned for both successful and failed runs; an error is
// returned only when the worker could not follow the run.
func (o *Observer) Observe(ctx context.Context, res *submit.SubmittedResource) (RunCondition, error) {
	if res == nil || !res.Kind.IsRun() {
		var kind resource.Kind
		var name string
		if res != nil {
			kind, name = res.Kind, res.Name
		}
		return RunCondition{}, &Error{Kind: kind, Name: name, Err: errors.New("only TaskRun and PipelineRun can be observed")}
	}

	log := o.log.With("kind", res.Kind, "name", res.Name, "namespace", res.Namespace)
	start := time.Now()

	var cond RunCondition
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cond, err = o.follow(gctx, log, res)
		return err
	})
	err := g.Wait()
	metrics.RunObservationSeconds.WithLabelValues(string(res.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RunsObserved.WithLabelValues(string(res.Kind), "error").Inc()
		log.Errorw("Run observation failed", "error", err)
		return RunCondition{}, &Error{Kind: res.Kind, Name: res.Name, Err: err}
	}

	outcome := "succeeded"
	if !cond.Succeeded() {
		outcome = "failed"
	}
	metrics.RunsObserved.WithLabelValues(string(res.Kind), outcome).Inc()
	log.Infow("Run reached terminal condition", "status", cond.Status, "reason", cond.Reason)
	return cond, nil
}

// follow is the worker body. It loops until the run is terminal and the logs
// of every TaskRun that got a pod have been read to the end.
func (o *Observer) follow(ctx context.Context, log *zap.SugaredLogger, res *submit.SubmittedResource) (RunCondition, error) {
	streamed := map[string]bool{}
	for {
		if err := ctx.Err(); err != nil {
			return RunCondition{}, err
		}

		// the run is read before its TaskRuns so a terminal run never has
		// TaskRuns we have not listed yet
		cond, taskRuns, err := o.snapshot(ctx, res)
		if err != nil {
			return RunCondition{}, err
		}

		for i := range taskRuns {
			tr := &taskRuns[i]
			if streamed[tr.Name] {
				continue
			}
			if tr.Status.PodName == "" {
				if TaskRunCondition(tr).Terminal() {
					log.Debugw("TaskRun finished without a pod", "taskRun", tr.Name)
					streamed[tr.Name] = true
				}
				continue
			}
			if err := o.streamPod(ctx, log, tr); err != nil {
				if !o.podGone(ctx, err, cond, tr) {
					return RunCondition{}, err
				}
				log.Infow("Pod of finished TaskRun is gone, skipping its logs", "taskRun", tr.Name, "pod", tr.Status.PodName)
			}
			streamed[tr.Name] = true
		}

		if cond.Terminal() {
			return cond, nil
		}
		if err := o.sleep(ctx); err != nil {
			return RunCondition{}, err
		}
	}
}

// podGone reports whether err means the TaskRun's pod was deleted after the
// run or the TaskRun itself finished. Tekton deletes the pods of cancelled
// and timed out TaskRuns.
func (o *Observer) podGone(ctx context.Context, err error, run RunCondition, tr *pipelinev1.TaskRun) bool {
	if !apierrors.IsNotFound(err) {
		return false
	}
	if run.Terminal() || TaskRunCondition(tr).Terminal() {
		return true
	}
	var current pipelinev1.TaskRun
	if err := o.client.Get(ctx, ctrlclient.ObjectKeyFromObject(tr), &current); err != nil {
		return false
	}
	return TaskRunCondition(&current).Terminal()
}

// snapshot reads the run's condition and the TaskRuns whose logs belong to it.
func (o *Observer) snapshot(ctx context.Context, res *submit.SubmittedResource) (RunCondition, []pipelinev1.TaskRun, error) {
	key := ctrlclient.ObjectKey{Namespace: res.Namespace, Name: res.Name}
	switch res.Kind {
	case resource.KindTaskRun:
		var tr pipelinev1.TaskRun
		if err := o.client.Get(ctx, key, &tr); err != nil {
			return RunCondition{}, nil, fmt.Errorf("get TaskRun %s: %w", key, err)
		}
		return TaskRunCondition(&tr), []pipelinev1.TaskRun{tr}, nil
	case resource.KindPipelineRun:
		var pr pipelinev1.PipelineRun
		if err := o.client.Get(ctx, key, &pr); err != nil {
			return RunCondition{}, nil, fmt.Errorf("get PipelineRun %s: %w", key, err)
		}
		var list pipelinev1.TaskRunList
		if err := o.client.List(ctx, &list,
			ctrlclient.InNamespace(res.Namespace),
			ctrlclient.MatchingLabels{PipelineRunLabel: res.Name},
		); err != nil {
			return RunCondition{}, nil, fmt.Errorf("list TaskRuns of PipelineRun %s: %w", key, err)
		}
		sort.SliceStable(list.Items, func(i, j int) bool {
			a, b := list.Items[i].CreationTimestamp, list.Items[j].CreationTimestamp
			if a.Equal(&b) {
				return list.Items[i].Name < list.Items[j].Name
			}
			return a.Before(&b)
		})
		return PipelineRunCondition(&pr), list.Items, nil
	default:
		return RunCondition{}, nil, fmt.Errorf("kind %s cannot be observed", res.Kind)
	}
}

func (o *Observer) sleep(ctx context.Context) error {
	t := time.NewTimer(o.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
