package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"raydock/internal/core/types"
	"raydock/internal/core/xray"
	"raydock/internal/monitor"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Regenerate the xray config from enabled inbounds and restart xray",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Manager.ApplyNow(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Config written to %s and xray restarted\n", appInstance.Config.Xray.ConfigPath)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Write the config and start xray",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Manager.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("xray started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every running xray process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Manager.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("xray stop requested")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart xray with the config on disk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := appInstance.Manager.Restart(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("xray restarted")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show xray and host status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// A one-shot invocation has no history, so sample the host directly.
		sampler := monitor.NewSampler("/")
		if host, err := sampler.Sample(ctx); err == nil {
			appInstance.Monitor.SetHost(host)
		}

		status := appInstance.Manager.Status(ctx)
		// Run state is per process; report whether the binary is alive.
		status.Running = xrayAlive(ctx)
		fmt.Println(renderStatus(status, appInstance.Monitor.Snapshot().Host))
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent xray logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := appInstance.Manager.Logs(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read logs: %w", err)
		}
		if len(lines) == 0 {
			fmt.Println("No logs found.")
			return nil
		}
		fmt.Println(strings.Join(lines, "\n"))
		return nil
	},
}

func renderStatus(status *types.Status, host monitor.HostStats) string {
	version := status.Version
	if version == "" {
		version = "unknown"
	}

	rows := []string{
		titleStyle.Render("xray") + "  " + statusPill(status.Running),
		"",
		row("Version", version),
		row("Binary", appInstance.Config.Xray.BinPath),
		row("Config", appInstance.Config.Xray.ConfigPath),
	}
	if status.PID != 0 {
		rows = append(rows,
			row("PID", fmt.Sprint(status.PID)),
			row("Uptime", status.Uptime.Round(time.Second).String()),
		)
	}

	if !host.SampledAt.IsZero() {
		rows = append(rows,
			"",
			titleStyle.Render("host"),
			row("CPU", fmt.Sprintf("%.1f%%", host.CPUPercent)),
			row("Memory", fmt.Sprintf("%s / %s", formatBytes(host.MemUsed), formatBytes(host.MemTotal))),
			row("Disk", fmt.Sprintf("%s / %s", formatBytes(host.DiskUsed), formatBytes(host.DiskTotal))),
			row("Load", fmt.Sprintf("%.2f %.2f %.2f", host.Load1, host.Load5, host.Load15)),
			row("Uptime", host.Uptime.String()),
			row("Conns", fmt.Sprintf("tcp %d, udp %d", host.TCPConns, host.UDPConns)),
		)
	}

	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// xrayAlive reports whether any process named like the xray binary exists.
func xrayAlive(ctx context.Context) bool {
	pids, err := xray.FindProcesses(ctx, appInstance.Config.Xray.BinPath)
	return err == nil && len(pids) > 0
}
