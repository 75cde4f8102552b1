package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/tekton-step/pkg/input"
	"github.com/telekom/tekton-step/pkg/output"
	"github.com/telekom/tekton-step/pkg/resource"
)

type classification struct {
	Kind       resource.Kind `json:"kind" yaml:"kind"`
	APIVersion string        `json:"apiVersion" yaml:"apiVersion"`
	Name       string        `json:"name,omitempty" yaml:"name,omitempty"`
	Namespace  string        `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

func NewClassifyCommand() *cobra.Command {
	var src sourceFlags

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Print the kind of a resource document without submitting it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			data, err := input.NewLoader(input.WithStdin(rt.stdin)).Load(cmd.Context(), src.source())
			if err != nil {
				return err
			}
			doc, err := resource.Parse(data)
			if err != nil {
				return err
			}
			if format == output.FormatText {
				_, err = fmt.Fprintln(rt.Writer(), doc.Kind)
				return err
			}
			return output.WriteObject(rt.Writer(), format, classification{
				Kind:       doc.Kind,
				APIVersion: doc.APIVersion,
				Name:       doc.Name,
				Namespace:  doc.Namespace,
			})
		},
	}
	src.register(cmd)
	return cmd
}
