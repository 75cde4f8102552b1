package observe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubefake "k8s.io/client-go/kubernetes/fake"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	"sigs.k8s.io/yaml"

	"github.com/telekom/tekton-step/pkg/cluster"
	"github.com/telekom/tekton-step/pkg/resource"
	"github.com/telekom/tekton-step/pkg/submit"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// syncBuffer is a console sink safe for the worker goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mustTaskRun(t *testing.T, doc string) *pipelinev1.TaskRun {
	t.Helper()
	var tr pipelinev1.TaskRun
	require.NoError(t, yaml.Unmarshal([]byte(doc), &tr))
	return &tr
}

func mustPipelineRun(t *testing.T, doc string) *pipelinev1.PipelineRun {
	t.Helper()
	var pr pipelinev1.PipelineRun
	require.NoError(t, yaml.Unmarshal([]byte(doc), &pr))
	return &pr
}

func stepPod(name, namespace string, steps ...string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Status:     corev1.PodStatus{Phase: corev1.PodSucceeded},
	}
	for _, s := range steps {
		pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: s})
		pod.Status.ContainerStatuses = append(pod.Status.ContainerStatuses, corev1.ContainerStatus{
			Name:  s,
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 0}},
		})
	}
	return pod
}

const succeededTaskRun = `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: compile
  namespace: ci
status:
  podName: compile-pod
  conditions:
    - type: Succeeded
      status: "True"
      reason: Succeeded
      message: All Steps have completed executing
`

func TestObserveTaskRun_Succeeded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(mustTaskRun(t, succeededTaskRun)).Build()
	kube := kubefake.NewSimpleClientset(stepPod("compile-pod", "ci", "step-build", "step-test"))
	out := &syncBuffer{}
	o := NewObserver(c, kube, out, zaptest.NewLogger(t).Sugar(), WithPollInterval(5*time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "compile", Namespace: "ci"})
	require.NoError(t, err)

	assert.True(t, cond.Terminal())
	assert.True(t, cond.Succeeded())
	assert.Equal(t, "Succeeded", cond.Reason)

	console := out.String()
	assert.Contains(t, console, "[compile : build] fake logs")
	assert.Contains(t, console, "[compile : test] fake logs")
	assert.Less(t, strings.Index(console, "[compile : build]"), strings.Index(console, "[compile : test]"))
}

func TestObservePipelineRun_FailedWithReason(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pr := mustPipelineRun(t, `apiVersion: tekton.dev/v1
kind: PipelineRun
metadata:
  name: release
  namespace: ci
status:
  conditions:
    - type: Succeeded
      status: "False"
      reason: TaskRunFailed
      message: "Tasks Completed: 2 (Failed: 1, Cancelled 0), Skipped: 0"
`)
	first := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: release-1-fetch
  namespace: ci
  creationTimestamp: "2026-01-01T10:00:00Z"
  labels:
    tekton.dev/pipelineRun: release
status:
  podName: release-1-fetch-pod
  conditions:
    - type: Succeeded
      status: "True"
`)
	second := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: release-2-build
  namespace: ci
  creationTimestamp: "2026-01-01T10:01:00Z"
  labels:
    tekton.dev/pipelineRun: release
status:
  podName: release-2-build-pod
  conditions:
    - type: Succeeded
      status: "False"
      reason: Failed
`)
	unrelated := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: other
  namespace: ci
  labels:
    tekton.dev/pipelineRun: other
status:
  podName: other-pod
`)

	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(pr, second, first, unrelated).Build()
	kube := kubefake.NewSimpleClientset(
		stepPod("release-1-fetch-pod", "ci", "step-clone"),
		stepPod("release-2-build-pod", "ci", "step-build"),
	)
	out := &syncBuffer{}
	o := NewObserver(c, kube, out, zaptest.NewLogger(t).Sugar(), WithPollInterval(5*time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindPipelineRun, Name: "release", Namespace: "ci"})
	require.NoError(t, err)

	assert.True(t, cond.Terminal())
	assert.False(t, cond.Succeeded())
	assert.Equal(t, "TaskRunFailed", cond.Reason)
	assert.Contains(t, cond.Message, "Failed: 1")

	console := out.String()
	assert.Contains(t, console, "[release-1-fetch : clone] fake logs")
	assert.Contains(t, console, "[release-2-build : build] fake logs")
	assert.NotContains(t, console, "[other")
	assert.Less(t, strings.Index(console, "release-1-fetch"), strings.Index(console, "release-2-build"))
}

func TestObserveTaskRun_WaitsForTerminalCondition(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	running := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: slow
  namespace: ci
status:
  podName: slow-pod
  conditions:
    - type: Succeeded
      status: Unknown
      reason: Running
`)
	var gets atomic.Int32
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(running).WithInterceptorFuncs(interceptor.Funcs{
		Get: func(ctx context.Context, cl ctrlclient.WithWatch, key ctrlclient.ObjectKey, obj ctrlclient.Object, opts ...ctrlclient.GetOption) error {
			if err := cl.Get(ctx, key, obj, opts...); err != nil {
				return err
			}
			if tr, ok := obj.(*pipelinev1.TaskRun); ok && gets.Add(1) >= 3 {
				done := mustTaskRun(t, succeededTaskRun)
				tr.Status = done.Status
			}
			return nil
		},
	}).Build()
	kube := kubefake.NewSimpleClientset(stepPod("slow-pod", "ci", "step-run"))
	o := NewObserver(c, kube, &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "slow", Namespace: "ci"})
	require.NoError(t, err)
	assert.True(t, cond.Succeeded())
	assert.GreaterOrEqual(t, gets.Load(), int32(3))
}

const runningTaskRun = `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: compile
  namespace: ci
status:
  podName: compile-pod
  conditions:
    - type: Succeeded
      status: Unknown
      reason: Running
`

const cancelledTaskRun = `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: compile
  namespace: ci
status:
  podName: compile-pod
  conditions:
    - type: Succeeded
      status: "False"
      reason: TaskRunCancelled
      message: TaskRun "compile" was cancelled
`

func TestObserveTaskRun_DeletedPodKeepsTerminalReason(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(mustTaskRun(t, cancelledTaskRun)).Build()
	o := NewObserver(c, kubefake.NewSimpleClientset(), &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "compile", Namespace: "ci"})
	require.NoError(t, err)
	assert.True(t, cond.Terminal())
	assert.False(t, cond.Succeeded())
	assert.Equal(t, "TaskRunCancelled", cond.Reason)
	assert.Contains(t, cond.Message, "was cancelled")
}

func TestObserveTaskRun_PodDeletedWhileFinishing(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var gets atomic.Int32
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(mustTaskRun(t, runningTaskRun)).WithInterceptorFuncs(interceptor.Funcs{
		Get: func(ctx context.Context, cl ctrlclient.WithWatch, key ctrlclient.ObjectKey, obj ctrlclient.Object, opts ...ctrlclient.GetOption) error {
			if err := cl.Get(ctx, key, obj, opts...); err != nil {
				return err
			}
			// the first read still sees the run, later ones see it timed out
			if tr, ok := obj.(*pipelinev1.TaskRun); ok && gets.Add(1) > 1 {
				tr.Status.Conditions[0].Status = corev1.ConditionFalse
				tr.Status.Conditions[0].Reason = "TaskRunTimeout"
			}
			return nil
		},
	}).Build()
	o := NewObserver(c, kubefake.NewSimpleClientset(), &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "compile", Namespace: "ci"})
	require.NoError(t, err)
	assert.Equal(t, "TaskRunTimeout", cond.Reason)
	assert.False(t, cond.Succeeded())
}

func TestObservePipelineRun_DeletedChildPodKeepsReason(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pr := mustPipelineRun(t, `apiVersion: tekton.dev/v1
kind: PipelineRun
metadata:
  name: release
  namespace: ci
status:
  conditions:
    - type: Succeeded
      status: "False"
      reason: PipelineRunTimeout
      message: PipelineRun "release" failed to finish within "1h0m0s"
`)
	child := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: release-build
  namespace: ci
  labels:
    tekton.dev/pipelineRun: release
status:
  podName: release-build-pod
  conditions:
    - type: Succeeded
      status: Unknown
`)
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(pr, child).Build()
	o := NewObserver(c, kubefake.NewSimpleClientset(), &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindPipelineRun, Name: "release", Namespace: "ci"})
	require.NoError(t, err)
	assert.Equal(t, "PipelineRunTimeout", cond.Reason)
	assert.Contains(t, cond.Message, "failed to finish")
}

func TestObserve_MissingPodSurfacesWorkerError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(mustTaskRun(t, runningTaskRun)).Build()
	kube := kubefake.NewSimpleClientset()
	o := NewObserver(c, kube, &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	_, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "compile", Namespace: "ci"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObservationFailed)
	assert.True(t, apierrors.IsNotFound(err), "the stored worker error should be re-raised: %v", err)

	var obsErr *Error
	require.True(t, errors.As(err, &obsErr))
	assert.Equal(t, resource.KindTaskRun, obsErr.Kind)
	assert.Equal(t, "compile", obsErr.Name)
}

func TestObserve_CancellationStopsWorker(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	running := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: forever
  namespace: ci
status:
  conditions:
    - type: Succeeded
      status: Unknown
`)
	var callsAfterCancel atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(running).WithInterceptorFuncs(interceptor.Funcs{
		Get: func(gctx context.Context, cl ctrlclient.WithWatch, key ctrlclient.ObjectKey, obj ctrlclient.Object, opts ...ctrlclient.GetOption) error {
			if ctx.Err() != nil {
				callsAfterCancel.Add(1)
			}
			cancel()
			return cl.Get(gctx, key, obj, opts...)
		},
	}).Build()
	o := NewObserver(c, kubefake.NewSimpleClientset(), &syncBuffer{}, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	_, err := o.Observe(ctx, &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "forever", Namespace: "ci"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), callsAfterCancel.Load())
}

func TestObserve_TaskRunWithoutPodFinishes(t *testing.T) {
	tr := mustTaskRun(t, `apiVersion: tekton.dev/v1
kind: TaskRun
metadata:
  name: rejected
  namespace: ci
status:
  conditions:
    - type: Succeeded
      status: "False"
      reason: TaskRunValidationFailed
      message: invalid params
`)
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(tr).Build()
	o := NewObserver(c, kubefake.NewSimpleClientset(), &syncBuffer{}, zaptest.NewLogger(t).Sugar())

	cond, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "rejected", Namespace: "ci"})
	require.NoError(t, err)
	assert.False(t, cond.Succeeded())
	assert.Equal(t, "TaskRunValidationFailed", cond.Reason)
}

func TestObserve_SkipsContainersThatNeverStarted(t *testing.T) {
	pod := stepPod("compile-pod", "ci", "step-build")
	pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{Name: "step-never"})
	pod.Status.Phase = corev1.PodFailed

	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithObjects(mustTaskRun(t, succeededTaskRun)).Build()
	out := &syncBuffer{}
	o := NewObserver(c, kubefake.NewSimpleClientset(pod), out, zaptest.NewLogger(t).Sugar(), WithPollInterval(time.Millisecond))

	_, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTaskRun, Name: "compile", Namespace: "ci"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[compile : build]")
	assert.NotContains(t, out.String(), "[compile : never]")
}

func TestObserve_RejectsNonRunKinds(t *testing.T) {
	o := NewObserver(fake.NewClientBuilder().WithScheme(cluster.Scheme).Build(), kubefake.NewSimpleClientset(), nil, zaptest.NewLogger(t).Sugar())

	_, err := o.Observe(context.Background(), &submit.SubmittedResource{Kind: resource.KindTask, Name: "t", Namespace: "ci"})
	assert.ErrorIs(t, err, ErrObservationFailed)
}

func TestRunCondition(t *testing.T) {
	assert.False(t, unknownCondition().Terminal())
	assert.Equal(t, corev1.ConditionUnknown, TaskRunCondition(&pipelinev1.TaskRun{}).Status)
	assert.Equal(t, corev1.ConditionUnknown, PipelineRunCondition(&pipelinev1.PipelineRun{}).Status)

	var _ runtime.Object = &pipelinev1.TaskRun{}
}
