package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var xrayCmd = &cobra.Command{
	Use:   "xray",
	Short: "Manage the xray binary",
}

var xrayUpdateCmd = &cobra.Command{
	Use:               "update <version>",
	Short:             "Install an xray release and restart",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeReleases,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Installing xray %s to %s...\n", args[0], appInstance.Config.Xray.BinPath)
		if err := appInstance.Updater.Update(cmd.Context(), args[0]); err != nil {
			return err
		}

		if v, err := appInstance.Xray.Version(cmd.Context()); err == nil {
			fmt.Printf("xray %s installed and restarted\n", v)
		} else {
			fmt.Println("xray installed and restarted")
		}
		return nil
	},
}

var xrayVersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List available xray releases",
	RunE: func(cmd *cobra.Command, args []string) error {
		tags, err := appInstance.Updater.Releases(cmd.Context())
		if err != nil {
			return err
		}

		current, _ := appInstance.Xray.Version(cmd.Context())
		limit, _ := cmd.Flags().GetInt("limit")
		for i, tag := range tags {
			if limit > 0 && i >= limit {
				break
			}
			marker := " "
			if tag == current {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, tag)
		}
		return nil
	},
}

var xrayKeypairCmd = &cobra.Command{
	Use:   "keypair",
	Short: "Generate an x25519 key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := appInstance.Xray.Keypair(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Private key: %s\n", kp.PrivateKey)
		fmt.Printf("Public key:  %s\n", kp.PublicKey)
		return nil
	},
}

func init() {
	xrayVersionsCmd.Flags().Int("limit", 20, "maximum number of releases to show (0 for all)")

	xrayCmd.AddCommand(xrayUpdateCmd)
	xrayCmd.AddCommand(xrayVersionsCmd)
	xrayCmd.AddCommand(xrayKeypairCmd)
}
