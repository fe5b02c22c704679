package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"raydock/internal/storage"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	return initApp(cmd)
}

// completeInboundIDs provides shell completion for inbound IDs.
func completeInboundIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	inbounds, err := appInstance.Storage.ListInbounds(context.Background(), storage.InboundFilter{})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, in := range inbounds {
		if strings.HasPrefix(in.ID, toComplete) {
			completions = append(completions, in.ID+"\t"+in.EffectiveTag())
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeReleases provides shell completion for xray release tags.
func completeReleases(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	tags, err := appInstance.Updater.Releases(cmd.Context())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	for _, tag := range tags {
		if strings.HasPrefix(tag, toComplete) {
			completions = append(completions, tag)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion script",
	Long: `Generate a shell completion script for raydock.

  $ raydock completion bash > /etc/bash_completion.d/raydock
  $ raydock completion zsh > "${fpath[1]}/_raydock"
  $ raydock completion fish > ~/.config/fish/completions/raydock.fish

Inbound IDs and xray release tags complete from the local database and the
release index.`,
	DisableFlagsInUseLine: true,
	Annotations:           map[string]string{"skipApp": "true"},
	ValidArgs:             []string{"bash", "zsh", "fish"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(out, true)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		}
		return nil
	},
}
