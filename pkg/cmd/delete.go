package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/tekton-step/pkg/resource"
	"github.com/telekom/tekton-step/pkg/step"
)

func NewDeleteCommand() *cobra.Command {
	var kindName, name string

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a Task, TaskRun, Pipeline or PipelineRun",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.writeMetrics()

			kind, err := resource.ParseKind(kindName)
			if err != nil {
				return err
			}
			id, err := rt.ResolveIdentity()
			if err != nil {
				return err
			}
			cache, err := rt.ClientCache()
			if err != nil {
				return err
			}
			return step.NewRunner(cache, rt.log, step.WithConsole(rt.Writer())).Delete(cmd.Context(), id, kind, name, rt.Namespace())
		},
	}

	cmd.Flags().StringVar(&kindName, "kind", "", "Resource kind: Task, TaskRun, Pipeline, PipelineRun")
	cmd.Flags().StringVar(&name, "name", "", "Resource name")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.RegisterFlagCompletionFunc("kind", completeKinds)
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
