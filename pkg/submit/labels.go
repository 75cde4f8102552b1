package submit

import (
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/telekom/tekton-step/pkg/buildenv"
	"github.com/telekom/tekton-step/pkg/naming"
)

// Labels stamped on submitted runs so they can be traced back to the job.
const (
	LabelBuildID   = "tekton-step.telekom.de/build-id"
	LabelJobName   = "tekton-step.telekom.de/job"
	LabelBranch    = "tekton-step.telekom.de/branch"
	LabelCommit    = "tekton-step.telekom.de/commit"
	LabelRepoOwner = "tekton-step.telekom.de/repo-owner"
	LabelRepoName  = "tekton-step.telekom.de/repo"
)

// BuildLabels returns the build context as label values. Values that are
// empty after sanitizing are left out.
func BuildLabels(build buildenv.Context) map[string]string {
	labels := map[string]string{}
	for key, value := range map[string]string{
		LabelBuildID:   build.BuildID,
		LabelJobName:   build.JobName,
		LabelBranch:    build.Branch,
		LabelCommit:    build.GitCommit,
		LabelRepoOwner: build.RepoOwner,
		LabelRepoName:  build.RepoName,
	} {
		if v := naming.LabelValue(value); v != "" {
			labels[key] = v
		}
	}
	return labels
}

// prepareRun labels a run with the build context, keeping labels the
// document already sets, and gives an unnamed run a generateName derived
// from the job name.
func prepareRun(obj ctrlclient.Object, build buildenv.Context) {
	labels := obj.GetLabels()
	if labels == nil {
		labels = map[string]string{}
	}
	for k, v := range BuildLabels(build) {
		if _, ok := labels[k]; !ok {
			labels[k] = v
		}
	}
	if len(labels) > 0 {
		obj.SetLabels(labels)
	}

	if obj.GetName() == "" && obj.GetGenerateName() == "" {
		obj.SetGenerateName(naming.GenerateName(build.JobName, obj.GetObjectKind().GroupVersionKind().Kind))
	}
}
