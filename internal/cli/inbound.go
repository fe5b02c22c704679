package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"raydock/internal/storage"
	"raydock/internal/storage/models"
)

var inboundCmd = &cobra.Command{
	Use:     "inbound",
	Aliases: []string{"in"},
	Short:   "Manage inbounds",
	Long:    "Create, list, change, enable, disable and delete inbound listeners",
}

var inboundListCmd = &cobra.Command{
	Use:   "list",
	Short: "List inbounds",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter := storage.InboundFilter{}
		if enabledOnly, _ := cmd.Flags().GetBool("enabled"); enabledOnly {
			filter = storage.EnabledOnly()
		}
		if protocol, _ := cmd.Flags().GetString("protocol"); protocol != "" {
			filter.Protocol = &protocol
		}
		filter.SearchTerm, _ = cmd.Flags().GetString("search")

		inbounds, err := appInstance.Storage.ListInbounds(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list inbounds: %w", err)
		}

		if len(inbounds) == 0 {
			fmt.Println("No inbounds found.")
			return nil
		}

		// Print table
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTAG\tPROTOCOL\tPORT\tENABLED\tUSED\tQUOTA\tREMARK")
		fmt.Fprintln(w, "--\t---\t--------\t----\t-------\t----\t-----\t------")

		for _, in := range inbounds {
			enabled := "✗"
			if in.Enable {
				enabled = "✓"
			}
			quota := "unlimited"
			if in.Total > 0 {
				quota = formatBytes(uint64(in.Total))
			}

			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				in.ID, in.EffectiveTag(), in.Protocol, in.Port, enabled,
				formatBytes(uint64(in.Used())), quota, in.Remark)
		}

		w.Flush()

		fmt.Printf("\nTotal: %d inbounds\n", len(inbounds))

		return nil
	},
}

var inboundAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an inbound",
	Example: `  raydock inbound add --protocol vless --port 443 --tag edge \
    --settings @vless.json --stream '{"network":"tcp","security":"reality"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in := &models.Inbound{}
		if err := applyInboundFlags(cmd, in, false); err != nil {
			return err
		}
		disabled, _ := cmd.Flags().GetBool("disabled")
		in.Enable = !disabled

		if err := appInstance.Storage.CreateInbound(ctx, in); err != nil {
			return fmt.Errorf("failed to create inbound: %w", err)
		}

		fmt.Printf("Inbound created!\n\n")
		fmt.Printf("  ID:       %s\n", in.ID)
		fmt.Printf("  Tag:      %s\n", in.EffectiveTag())
		fmt.Printf("  Protocol: %s\n", in.Protocol)
		fmt.Printf("  Port:     %d\n", in.Port)
		if in.Total > 0 {
			fmt.Printf("  Quota:    %s\n", formatBytes(uint64(in.Total)))
		}

		maybeOpenPort(ctx, cmd, in.Port)
		return maybeApply(ctx, cmd)
	},
}

var inboundUpdateCmd = &cobra.Command{
	Use:               "update <id>",
	Short:             "Change an inbound",
	Long:              "Change the given fields of an inbound. Fields whose flags are not passed keep their value; an empty value clears an optional field.",
	Example:           `  raydock inbound update 2a80a671 --port 8443 --total 107374182400 --apply`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		in, err := updateInbound(ctx, appInstance.Storage, args[0], func(in *models.Inbound) error {
			return applyInboundFlags(cmd, in, true)
		})
		if err != nil {
			return fmt.Errorf("failed to update inbound: %w", err)
		}

		fmt.Printf("Inbound %s updated (tag %s, port %d)\n", in.ID, in.EffectiveTag(), in.Port)
		if cmd.Flags().Changed("port") {
			maybeOpenPort(ctx, cmd, in.Port)
		}
		return maybeApply(ctx, cmd)
	},
}

var inboundEnableCmd = &cobra.Command{
	Use:               "enable <id>",
	Short:             "Enable an inbound",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], true)
	},
}

var inboundDisableCmd = &cobra.Command{
	Use:               "disable <id>",
	Short:             "Disable an inbound",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEnabled(cmd, args[0], false)
	},
}

var inboundDeleteCmd = &cobra.Command{
	Use:               "delete <id>",
	Short:             "Delete an inbound",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := appInstance.Storage.DeleteInbound(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete inbound: %w", err)
		}
		fmt.Printf("Inbound %s deleted\n", args[0])
		return maybeApply(ctx, cmd)
	},
}

var inboundResetCmd = &cobra.Command{
	Use:               "reset <id>",
	Short:             "Reset an inbound's traffic counters",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := appInstance.Storage.ResetTraffic(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to reset traffic: %w", err)
		}
		fmt.Printf("Traffic for inbound %s reset\n", args[0])
		return nil
	},
}

func setEnabled(cmd *cobra.Command, id string, enable bool) error {
	ctx := cmd.Context()

	if err := appInstance.Storage.SetInboundEnabled(ctx, id, enable); err != nil {
		return fmt.Errorf("failed to update inbound: %w", err)
	}

	state := "disabled"
	if enable {
		state = "enabled"
	}
	fmt.Printf("Inbound %s %s\n", id, state)
	return maybeApply(ctx, cmd)
}

// updateInbound reads, changes and writes back one inbound in a single
// transaction.
func updateInbound(ctx context.Context, store storage.Storage, id string, mutate func(*models.Inbound) error) (_ *models.Inbound, err error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	in, err := tx.GetInbound(ctx, id)
	if err != nil {
		return nil, err
	}
	if err = mutate(in); err != nil {
		return nil, err
	}
	if err = tx.UpdateInbound(ctx, in); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return in, nil
}

// addInboundFlags registers the desired-state flags shared by add and update.
func addInboundFlags(c *cobra.Command) {
	c.Flags().String("remark", "", "free-form description")
	c.Flags().String("protocol", "", "xray protocol (vless, vmess, trojan, shadowsocks, ...)")
	c.Flags().Int("port", 0, "listen port")
	c.Flags().String("tag", "", "routing tag (default inbound-<id>)")
	c.Flags().String("listen", "", "listen address")
	c.Flags().String("settings", "", "settings JSON or @file")
	c.Flags().String("stream", "", "streamSettings JSON or @file")
	c.Flags().String("sniffing", "", "sniffing JSON or @file")
	c.Flags().String("allocate", "", "allocate JSON or @file")
	c.Flags().Int64("total", 0, "traffic quota in bytes (0 for unlimited)")
	c.Flags().Int64("expiry", 0, "expiry as unix time (informational)")
	c.Flags().Bool("apply", false, "apply the config and restart xray afterwards")
	c.Flags().Bool("no-firewall", false, "do not open the port in the host firewall")
}

// applyInboundFlags copies flag values onto in. With onlyChanged, flags
// that were not passed leave the field alone.
func applyInboundFlags(cmd *cobra.Command, in *models.Inbound, onlyChanged bool) error {
	flags := cmd.Flags()
	set := func(name string) bool { return !onlyChanged || flags.Changed(name) }

	if set("remark") {
		in.Remark, _ = flags.GetString("remark")
	}
	if set("protocol") {
		in.Protocol, _ = flags.GetString("protocol")
	}
	if set("port") {
		in.Port, _ = flags.GetInt("port")
	}
	if set("total") {
		in.Total, _ = flags.GetInt64("total")
	}
	if set("expiry") {
		in.Expiry, _ = flags.GetInt64("expiry")
	}

	optional := []struct {
		flag string
		dst  **string
		blob bool
	}{
		{"tag", &in.Tag, false},
		{"listen", &in.Listen, false},
		{"settings", &in.Settings, true},
		{"stream", &in.StreamSettings, true},
		{"sniffing", &in.Sniffing, true},
		{"allocate", &in.Allocate, true},
	}
	for _, o := range optional {
		if !set(o.flag) {
			continue
		}
		raw, _ := flags.GetString(o.flag)
		if !o.blob {
			*o.dst = nil
			if raw != "" {
				*o.dst = &raw
			}
			continue
		}
		blob, err := readBlob(raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", o.flag, err)
		}
		*o.dst = blob
	}
	return nil
}

// maybeOpenPort opens port in the host firewall unless --no-firewall was
// given. Failures are reported but do not fail the command.
func maybeOpenPort(ctx context.Context, cmd *cobra.Command, port int) {
	if skip, _ := cmd.Flags().GetBool("no-firewall"); skip {
		return
	}
	if err := appInstance.Firewall.Open(ctx, port); err != nil {
		fmt.Printf("Warning: could not open port %d in the firewall: %v\n", port, err)
	}
}

// maybeApply applies the config when --apply was given.
func maybeApply(ctx context.Context, cmd *cobra.Command) error {
	if apply, _ := cmd.Flags().GetBool("apply"); !apply {
		fmt.Println("Run 'raydock apply' to push the change to xray.")
		return nil
	}
	if err := appInstance.Manager.ApplyNow(ctx); err != nil {
		return err
	}
	fmt.Println("Config applied and xray restarted")
	return nil
}

// readBlob returns a JSON blob from inline text or from a file when the
// value starts with '@'. Empty input yields nil.
func readBlob(raw string) (*string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, err
		}
		raw = strings.TrimSpace(string(data))
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("not valid JSON")
	}
	return &raw, nil
}

func init() {
	inboundListCmd.Flags().Bool("enabled", false, "only enabled inbounds")
	inboundListCmd.Flags().String("protocol", "", "filter by protocol")
	inboundListCmd.Flags().String("search", "", "search remark and tag")

	addInboundFlags(inboundAddCmd)
	inboundAddCmd.Flags().Bool("disabled", false, "create the inbound disabled")
	inboundAddCmd.MarkFlagRequired("protocol")
	inboundAddCmd.MarkFlagRequired("port")

	addInboundFlags(inboundUpdateCmd)

	for _, c := range []*cobra.Command{inboundEnableCmd, inboundDisableCmd, inboundDeleteCmd} {
		c.Flags().Bool("apply", false, "apply the config and restart xray afterwards")
	}

	inboundCmd.AddCommand(inboundListCmd)
	inboundCmd.AddCommand(inboundAddCmd)
	inboundCmd.AddCommand(inboundUpdateCmd)
	inboundCmd.AddCommand(inboundEnableCmd)
	inboundCmd.AddCommand(inboundDisableCmd)
	inboundCmd.AddCommand(inboundDeleteCmd)
	inboundCmd.AddCommand(inboundResetCmd)
}
