package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/tekton-step/pkg/config"
	"github.com/telekom/tekton-step/pkg/output"
	"github.com/telekom/tekton-step/pkg/resource"
)

func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "completion [bash|zsh|fish|powershell]",
		Short:     "Generate shell completion",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			root, w := cmd.Root(), rt.Writer()
			switch shell := args[0]; shell {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(w)
			default:
				return fmt.Errorf("unsupported shell: %s", shell)
			}
		},
	}
}

// registerCompletions wires dynamic values for the persistent flags. Cluster
// names come from the config file; the pre-run hook does not run for
// completion requests.
func registerCompletions(root *cobra.Command, rt *runtimeState) {
	_ = root.RegisterFlagCompletionFunc("cluster", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.LoadOrDefault(rt.configPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		names := make([]string, 0, len(cfg.Clusters))
		for _, cl := range cfg.Clusters {
			names = append(names, cl.Name)
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(
		[]string{string(output.FormatText), string(output.FormatJSON), string(output.FormatYAML)},
		cobra.ShellCompDirectiveNoFileComp,
	))
}

func completeKinds(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	kinds := make([]string, 0, len(resource.Kinds))
	for _, k := range resource.Kinds {
		kinds = append(kinds, string(k))
	}
	return kinds, cobra.ShellCompDirectiveNoFileComp
}
