package cmd

import (
	"github.com/spf13/cobra"
)

// completionCmd wraps Cobra's shell completion generators.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for meterstat.

  # bash
  source <(meterstat completion bash)

  # zsh
  source <(meterstat completion zsh)

  # fish
  meterstat completion fish | source

Add the line to your shell profile to keep completions across sessions.`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := cmd.Root()
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return root.GenBashCompletionV2(out, true)
		case "zsh":
			return root.GenZshCompletion(out)
		case "fish":
			return root.GenFishCompletion(out, true)
		case "powershell":
			return root.GenPowerShellCompletionWithDesc(out)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
