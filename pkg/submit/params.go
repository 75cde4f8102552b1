package submit

import (
	pipelinev1 "github.com/tektoncd/pipeline/pkg/apis/pipeline/v1"

	"github.com/telekom/tekton-step/pkg/buildenv"
)

// InjectParams writes params into the run's parameter list. Existing
// parameters with the same name are overwritten, others are appended. Empty
// values are kept so the parameter shape stays stable.
func InjectParams(pr *pipelinev1.PipelineRun, params []buildenv.Param) {
	for _, p := range params {
		value := pipelinev1.ParamValue{Type: pipelinev1.ParamTypeString, StringVal: p.Value}
		found := false
		for i := range pr.Spec.Params {
			if pr.Spec.Params[i].Name == p.Name {
				pr.Spec.Params[i].Value = value
				found = true
			}
		}
		if !found {
			pr.Spec.Params = append(pr.Spec.Params, pipelinev1.Param{Name: p.Name, Value: value})
		}
	}
}
