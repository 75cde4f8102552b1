package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telekom/tekton-step/pkg/output"
)

type clusterSummary struct {
	Name        string `json:"name" yaml:"name"`
	Server      string `json:"server,omitempty" yaml:"server,omitempty"`
	Namespace   string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Current     bool   `json:"current" yaml:"current"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

func NewClustersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clusters",
		Short: "List configured cluster identities",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := rt.OutputFormat()
			if err != nil {
				return err
			}
			ids, err := rt.cfg.Identities()
			if err != nil {
				return err
			}
			current := rt.ResolveClusterName()

			summaries := make([]clusterSummary, 0, len(ids))
			for _, id := range ids {
				summaries = append(summaries, clusterSummary{
					Name:        id.DisplayName(),
					Server:      id.Server,
					Namespace:   id.Namespace,
					Current:     id.DisplayName() == current,
					Fingerprint: id.Fingerprint(),
				})
			}
			if format != output.FormatText {
				return output.WriteObject(rt.Writer(), format, summaries)
			}

			rows := make([][]string, 0, len(summaries))
			for _, s := range summaries {
				marker := ""
				if s.Current {
					marker = "*"
				}
				rows = append(rows, []string{marker, s.Name, s.Server, s.Namespace, s.Fingerprint[:12]})
			}
			output.WriteTable(rt.Writer(), []string{"current", "name", "server", "namespace", "fingerprint"}, rows)
			return nil
		},
	}
}
