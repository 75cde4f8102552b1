package observe

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"strings"

	"github.com/abiosoft/lineprefix"
	"github.com/fatih/color"
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
)

// maxLogLine bounds a single log line read from a container.
const maxLogLine = 1024 * 1024

var prefixColors = []*color.Color{
	color.New(color.FgCyan),
	color.New(color.FgMagenta),
	color.New(color.FgBlue),
	color.New(color.FgYellow),
	color.New(color.FgGreen),
}

// streamPod writes the logs of every step container of the TaskRun's pod to
// the console, one container after the other, following each to its end.
func (o *Observer) streamPod(ctx context.Context, log *zap.SugaredLogger, tr *pipelinev1.TaskRun) error {
	pods := o.kube.CoreV1().Pods(tr.Namespace)
	pod, err := pods.Get(ctx, tr.Status.PodName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get pod %s of TaskRun %s: %w", tr.Status.PodName, tr.Name, err)
	}

	for _, container := range pod.Spec.Containers {
		started, err := o.waitForContainer(ctx, tr, container.Name)
		if err != nil {
			return err
		}
		if !started {
			log.Debugw("Container never started, skipping logs", "taskRun", tr.Name, "pod", pod.Name, "container", container.Name)
			continue
		}
		if err := o.streamContainer(ctx, tr, pod.Name, container.Name); err != nil {
			return err
		}
	}
	return nil
}

// waitForContainer blocks until the container is running or terminated. It
// returns false when the pod or TaskRun finished without ever starting it.
func (o *Observer) waitForContainer(ctx context.Context, tr *pipelinev1.TaskRun, container string) (bool, error) {
	started := false
	err := wait.PollUntilContextCancel(ctx, o.pollInterval, true, func(ctx context.Context) (bool, error) {
		pod, err := o.kube.CoreV1().Pods(tr.Namespace).Get(ctx, tr.Status.PodName, metav1.GetOptions{})
		if err != nil {
			return false, fmt.Errorf("get pod %s of TaskRun %s: %w", tr.Status.PodName, tr.Name, err)
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name == container && (cs.State.Running != nil || cs.State.Terminated != nil) {
				started = true
				return true, nil
			}
		}
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed || pod.DeletionTimestamp != nil {
			return true, nil
		}

		var current pipelinev1.TaskRun
		if err := o.client.Get(ctx, ctrlclient.ObjectKeyFromObject(tr), &current); err != nil {
			return false, fmt.Errorf("get TaskRun %s: %w", tr.Name, err)
		}
		return TaskRunCondition(&current).Terminal(), nil
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

// streamContainer follows one container's log and writes it line by line,
// prefixed with the TaskRun and step name.
func (o *Observer) streamContainer(ctx context.Context, tr *pipelinev1.TaskRun, pod, container string) error {
	req := o.kube.CoreV1().Pods(tr.Namespace).GetLogs(pod, &corev1.PodLogOptions{Container: container, Follow: true})
	stream, err := req.Stream(ctx)
	if err != nil {
		return fmt.Errorf("stream logs of %s/%s: %w", pod, container, err)
	}
	defer func() { _ = stream.Close() }()

	var out io.Writer = lineprefix.New(
		lineprefix.Writer(o.out),
		lineprefix.Prefix(fmt.Sprintf("[%s : %s] ", tr.Name, strings.TrimPrefix(container, "step-"))),
		lineprefix.Color(prefixColor(tr.Name)),
	)

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(out, scanner.Text()); err != nil {
			return fmt.Errorf("write logs of %s/%s: %w", pod, container, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read logs of %s/%s: %w", pod, container, err)
	}
	return nil
}

func prefixColor(taskRun string) *color.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskRun))
	return prefixColors[h.Sum32()%uint32(len(prefixColors))]
}
