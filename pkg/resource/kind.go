package resource

import (
	"fmt"
	"strings"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
)

// Kind is the closed set of resource kinds tekton-step can submit.
type Kind string

const (
	KindTask        Kind = "Task"
	KindTaskRun     Kind = "TaskRun"
	KindPipeline    Kind = "Pipeline"
	KindPipelineRun Kind = "PipelineRun"
)

// Kinds lists the supported kinds in a stable order.
var Kinds = []Kind{KindTask, KindTaskRun, KindPipeline, KindPipelineRun}

// APIVersion is the only apiVersion submitted to clusters.
var APIVersion = pipelinev1.SchemeGroupVersion.String()

// IsRun reports whether resources of this kind execute and are observed.
func (k Kind) IsRun() bool {
	return k == KindTaskRun || k == KindPipelineRun
}

// Valid reports whether k is one of Kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind maps a user supplied kind name (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, error) {
	for _, known := range Kinds {
		if strings.EqualFold(string(known), s) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedKind, s)
}
