package submit

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"
	"go.uber.org/zap/zaptest"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/cluster"
	"github.com/telekom/tekton-step/pkg/resource"
)

func mustParse(t *testing.T, doc string) *resource.Document {
	t.Helper()
	d, err := resource.Parse([]byte(doc))
	require.NoError(t, err)
	return d
}

func newFakeClient() ctrlclient.WithWatch {
	return fake.NewClientBuilder().WithScheme(cluster.Scheme).Build()
}

const testTask = `apiVersion: tekton.dev/v1
kind: Task
metadata:
  name: testTask
spec:
  steps:
    - name: echo
      image: alpine
      script: echo hello
`

func TestSubmitTask_DefaultNamespaceRoundTrip(t *testing.T) {
	c := newFakeClient()
	s := NewSubmitter(c, "cluster-ns", buildenv.Context{}, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	res, err := s.Submit(ctx, mustParse(t, testTask), "test")
	require.NoError(t, err)
	assert.Equal(t, resource.KindTask, res.Kind)
	assert.Equal(t, "testTask", res.Name)
	assert.Equal(t, "test", res.Namespace)

	var tasks pipelinev1.TaskList
	require.NoError(t, c.List(ctx, &tasks, ctrlclient.InNamespace("test")))
	require.Len(t, tasks.Items, 1)
	assert.Equal(t, res.Name, tasks.Items[0].Name)
	require.Len(t, tasks.Items[0].Spec.Steps, 1)
	assert.Equal(t, "alpine", tasks.Items[0].Spec.Steps[0].Image)

	require.NoError(t, s.Delete(ctx, resource.KindTask, res.Name, "test"))
	require.NoError(t, c.List(ctx, &tasks, ctrlclient.InNamespace("test")))
	assert.Empty(t, tasks.Items)
}

func TestSubmit_NamespaceResolution(t *testing.T) {
	tests := []struct {
		name             string
		doc              string
		defaultNamespace string
		clusterNamespace string
		want             string
	}{
		{
			name:             "document namespace wins",
			doc:              "apiVersion: tekton.dev/v1\nkind: Pipeline\nmetadata:\n  name: p\n  namespace: declared\n",
			defaultNamespace: "fallback",
			clusterNamespace: "cluster",
			want:             "declared",
		},
		{
			name:             "default namespace when document has none",
			doc:              "apiVersion: tekton.dev/v1\nkind: Pipeline\nmetadata:\n  name: p\n",
			defaultNamespace: "fallback",
			clusterNamespace: "cluster",
			want:             "fallback",
		},
		{
			name:             "cluster namespace for unscoped create",
			doc:              "apiVersion: tekton.dev/v1\nkind: Pipeline\nmetadata:\n  name: p\n",
			clusterNamespace: "cluster",
			want:             "cluster",
		},
		{
			name: "default namespace of last resort",
			doc:  "apiVersion: tekton.dev/v1\nkind: Pipeline\nmetadata:\n  name: p\n",
			want: "default",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient()
			s := NewSubmitter(c, tt.clusterNamespace, buildenv.Context{}, zaptest.NewLogger(t).Sugar())

			res, err := s.Submit(context.Background(), mustParse(t, tt.doc), tt.defaultNamespace)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Namespace)

			var p pipelinev1.Pipeline
			require.NoError(t, c.Get(context.Background(), ctrlclient.ObjectKey{Namespace: tt.want, Name: "p"}, &p))
		})
	}
}

func TestSubmitTaskRun_GenerateName(t *testing.T) {
	c := newFakeClient()
	s := NewSubmitter(c, "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())

	doc := "apiVersion: tekton.dev/v1\nkind: TaskRun\nmetadata:\n  generateName: build-\nspec:\n  taskRef:\n    name: compile\n"
	res, err := s.Submit(context.Background(), mustParse(t, doc), "")
	require.NoError(t, err)

	assert.Equal(t, "build-", res.GenerateName)
	assert.True(t, strings.HasPrefix(res.Name, "build-"))
	assert.Greater(t, len(res.Name), len("build-"))

	var tr pipelinev1.TaskRun
	require.NoError(t, c.Get(context.Background(), ctrlclient.ObjectKey{Namespace: "ci", Name: res.Name}, &tr))
	assert.Equal(t, "compile", tr.Spec.TaskRef.Name)
}

func TestSubmitPipelineRun_InjectsBuildParams(t *testing.T) {
	c := newFakeClient()
	build := buildenv.FromEnv(map[string]string{"BUILD_ID": "42", "JOB_NAME": "demo"})
	s := NewSubmitter(c, "ci", build, zaptest.NewLogger(t).Sugar())

	doc := "apiVersion: tekton.dev/v1\nkind: PipelineRun\nmetadata:\n  name: release\nspec:\n  pipelineRef:\n    name: release\n"
	res, err := s.Submit(context.Background(), mustParse(t, doc), "")
	require.NoError(t, err)

	var pr pipelinev1.PipelineRun
	require.NoError(t, c.Get(context.Background(), ctrlclient.ObjectKey{Namespace: "ci", Name: res.Name}, &pr))

	values := map[string]string{}
	for _, p := range pr.Spec.Params {
		values[p.Name] = p.Value.StringVal
	}
	assert.Equal(t, "42", values["BUILD_ID"])
	assert.Equal(t, "demo", values["JOB_NAME"])
	assert.Contains(t, values, "REPO_NAME")
	assert.Len(t, pr.Spec.Params, 7)
}

func TestSubmit_DecodeFailure(t *testing.T) {
	s := NewSubmitter(newFakeClient(), "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())
	doc := &resource.Document{
		Kind: resource.KindTask,
		Raw:  []byte("apiVersion: tekton.dev/v1\nkind: Task\nmetadata:\n  name: t\nspec:\n  steps: not-a-list\n"),
	}

	_, err := s.Submit(context.Background(), doc, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionFailed)

	var subErr *Error
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, resource.KindTask, subErr.Kind)
}

func TestSubmit_OtherAPIVersionFailsWithKind(t *testing.T) {
	c := newFakeClient()
	s := NewSubmitter(c, "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())

	doc := mustParse(t, "apiVersion: tekton.dev/v1beta1\nkind: Task\nmetadata:\n  name: legacy\nspec:\n  steps: []\n")
	_, err := s.Submit(context.Background(), doc, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, ErrUnsupportedAPIVersion)
	assert.Contains(t, err.Error(), `"tekton.dev/v1beta1"`)

	var subErr *Error
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, resource.KindTask, subErr.Kind)

	var tasks pipelinev1.TaskList
	require.NoError(t, c.List(context.Background(), &tasks))
	assert.Empty(t, tasks.Items)
}

func TestSubmit_CreateFailureCarriesKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	c := fake.NewClientBuilder().WithScheme(cluster.Scheme).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(context.Context, ctrlclient.WithWatch, ctrlclient.Object, ...ctrlclient.CreateOption) error {
			return cause
		},
	}).Build()
	s := NewSubmitter(c, "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())

	_, err := s.Submit(context.Background(), mustParse(t, testTask), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "submit Task")
}

func TestSubmit_AlreadyExists(t *testing.T) {
	c := newFakeClient()
	s := NewSubmitter(c, "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())

	_, err := s.Submit(context.Background(), mustParse(t, testTask), "")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), mustParse(t, testTask), "")
	require.Error(t, err)
	assert.True(t, apierrors.IsAlreadyExists(err))
}

func TestDelete_NotFound(t *testing.T) {
	s := NewSubmitter(newFakeClient(), "ci", buildenv.Context{}, zaptest.NewLogger(t).Sugar())

	err := s.Delete(context.Background(), resource.KindPipeline, "missing", "")
	require.Error(t, err)
	assert.True(t, apierrors.IsNotFound(err))
}

func TestNewObject(t *testing.T) {
	for _, kind := range resource.Kinds {
		obj, err := NewObject(kind)
		require.NoError(t, err)
		assert.NotNil(t, obj)
	}
	_, err := NewObject("Deployment")
	assert.ErrorIs(t, err, resource.ErrUnrecognizedKind)
}
