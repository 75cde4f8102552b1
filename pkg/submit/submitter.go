// Package submit creates classified Tekton documents on a cluster through a
// kind-specific typed handler.
package submit

import (
	"context"
	"errors"
	"fmt"

	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/types"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/metrics"
	"github.com/telekom/tekton-step/pkg/resource"
)

var (
	// ErrSubmissionFailed is the sentinel every submission error unwraps to.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrUnsupportedAPIVersion is the cause for documents of a supported kind
	// in an apiVersion other than resource.APIVersion.
	ErrUnsupportedAPIVersion = errors.New("unsupported apiVersion")
)

// Error reports a failed decode or create call for one kind.
type Error struct {
	Kind resource.Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrSubmissionFailed, e.Err}
}

// SubmittedResource identifies a resource created on the cluster.
type SubmittedResource struct {
	Kind      resource.Kind
	Name      string
	Namespace string
	// GenerateName is set when the server picked the name.
	GenerateName string
	UID          types.UID
}

// kindHandler knows how to load and prepare one kind.
type kindHandler struct {
	newObject func() ctrlclient.Object
	// prepare runs after decoding and defaulting, right before create.
	prepare func(obj ctrlclient.Object, build buildenv.Context)
}

var handlers = map[resource.Kind]kindHandler{
	resource.KindTask: {
		newObject: func() ctrlclient.Object { return &pipelinev1.Task{} },
	},
	resource.KindTaskRun: {
		newObject: func() ctrlclient.Object { return &pipelinev1.TaskRun{} },
		prepare:   prepareRun,
	},
	resource.KindPipeline: {
		newObject: func() ctrlclient.Object { return &pipelinev1.Pipeline{} },
	},
	resource.KindPipelineRun: {
		newObject: func() ctrlclient.Object { return &pipelinev1.PipelineRun{} },
		prepare: func(obj ctrlclient.Object, build buildenv.Context) {
			InjectParams(obj.(*pipelinev1.PipelineRun), build.Params())
			prepareRun(obj, build)
		},
	},
}

// NewObject returns an empty typed object for kind.
func NewObject(kind resource.Kind) (ctrlclient.Object, error) {
	h, ok := handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", resource.ErrUnrecognizedKind, kind)
	}
	return h.newObject(), nil
}

// Submitter creates resources on one cluster.
type Submitter struct {
	client ctrlclient.Client
	// clusterNamespace is used when neither the document nor the caller name a namespace.
	clusterNamespace string
	build            buildenv.Context
	log              *zap.SugaredLogger
}

func NewSubmitter(c ctrlclient.Client, clusterNamespace string, build buildenv.Context, log *zap.SugaredLogger) *Submitter {
	if log == nil {
		log = zap.S()
	}
	return &Submitter{client: c, clusterNamespace: clusterNamespace, build: build, log: log}
}

// Submit decodes doc into its typed representation, fills in the namespace
// and creates it. Submissions are never retried and nothing is cleaned up on
// failure.
func (s *Submitter) Submit(ctx context.Context, doc *resource.Document, namespace string) (*SubmittedResource, error) {
	if doc == nil {
		return nil, &Error{Err: errors.New("no document")}
	}
	h, ok := handlers[doc.Kind]
	if !ok {
		return nil, &Error{Kind: doc.Kind, Err: fmt.Errorf("%w: %q", resource.ErrUnrecognizedKind, doc.Kind)}
	}

	if doc.APIVersion != "" && doc.APIVersion != resource.APIVersion {
		metrics.ResourceSubmissionErrors.WithLabelValues(string(doc.Kind)).Inc()
		return nil, &Error{Kind: doc.Kind, Err: fmt.Errorf("%w %q (want %s)", ErrUnsupportedAPIVersion, doc.APIVersion, resource.APIVersion)}
	}
	obj := h.newObject()
	if err := yaml.Unmarshal(doc.Raw, obj); err != nil {
		metrics.ResourceSubmissionErrors.WithLabelValues(string(doc.Kind)).Inc()
		return nil, &Error{Kind: doc.Kind, Err: fmt.Errorf("decode: %w", err)}
	}
	obj.GetObjectKind().SetGroupVersionKind(pipelinev1.SchemeGroupVersion.WithKind(string(doc.Kind)))

	if obj.GetNamespace() == "" {
		obj.SetNamespace(s.resolveNamespace(namespace))
	}
	if h.prepare != nil {
		h.prepare(obj, s.build)
	}

	log := s.log.With("kind", doc.Kind, "namespace", obj.GetNamespace())
	if err := s.client.Create(ctx, obj); err != nil {
		metrics.ResourceSubmissionErrors.WithLabelValues(string(doc.Kind)).Inc()
		log.Errorw("Failed to create resource", "name", obj.GetName(), "generateName", obj.GetGenerateName(), "error", err)
		return nil, &Error{Kind: doc.Kind, Err: fmt.Errorf("create in namespace %s: %w", obj.GetNamespace(), err)}
	}
	metrics.ResourcesSubmitted.WithLabelValues(string(doc.Kind)).Inc()
	log.Infow("Created resource", "name", obj.GetName())

	return &SubmittedResource{
		Kind:         doc.Kind,
		Name:         obj.GetName(),
		Namespace:    obj.GetNamespace(),
		GenerateName: obj.GetGenerateName(),
		UID:          obj.GetUID(),
	}, nil
}

// Delete removes a resource of kind by name.
func (s *Submitter) Delete(ctx context.Context, kind resource.Kind, name, namespace string) error {
	obj, err := NewObject(kind)
	if err != nil {
		return err
	}
	obj.SetName(name)
	obj.SetNamespace(s.resolveNamespace(namespace))
	if err := s.client.Delete(ctx, obj); err != nil {
		return fmt.Errorf("delete %s %s/%s: %w", kind, obj.GetNamespace(), name, err)
	}
	s.log.Infow("Deleted resource", "kind", kind, "name", name, "namespace", obj.GetNamespace())
	return nil
}

func (s *Submitter) resolveNamespace(namespace string) string {
	switch {
	case namespace != "":
		return namespace
	case s.clusterNamespace != "":
		return s.clusterNamespace
	default:
		return "default"
	}
}
