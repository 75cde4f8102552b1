package observe

import (
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	corev1 "k8s.io/api/core/v1"
)

// ConditionSucceeded is the condition type Tekton uses for run completion.
const ConditionSucceeded = "Succeeded"

// RunCondition is the Succeeded condition reported by the cluster for a run.
type RunCondition struct {
	Type    string                 `json:"type" yaml:"type"`
	Status  corev1.ConditionStatus `json:"status" yaml:"status"`
	Reason  string                 `json:"reason,omitempty" yaml:"reason,omitempty"`
	Message string                 `json:"message,omitempty" yaml:"message,omitempty"`
}

// Terminal reports whether the run has finished.
func (c RunCondition) Terminal() bool {
	return c.Status == corev1.ConditionTrue || c.Status == corev1.ConditionFalse
}

// Succeeded reports whether the run finished successfully.
func (c RunCondition) Succeeded() bool {
	return c.Status == corev1.ConditionTrue
}

func unknownCondition() RunCondition {
	return RunCondition{Type: ConditionSucceeded, Status: corev1.ConditionUnknown}
}

// TaskRunCondition reads the Succeeded condition of a TaskRun.
func TaskRunCondition(tr *pipelinev1.TaskRun) RunCondition {
	for _, c := range tr.Status.Conditions {
		if string(c.Type) == ConditionSucceeded {
			return RunCondition{Type: ConditionSucceeded, Status: c.Status, Reason: c.Reason, Message: c.Message}
		}
	}
	return unknownCondition()
}

// PipelineRunCondition reads the Succeeded condition of a PipelineRun.
func PipelineRunCondition(pr *pipelinev1.PipelineRun) RunCondition {
	for _, c := range pr.Status.Conditions {
		if string(c.Type) == ConditionSucceeded {
			return RunCondition{Type: ConditionSucceeded, Status: c.Status, Reason: c.Reason, Message: c.Message}
		}
	}
	return unknownCondition()
}
