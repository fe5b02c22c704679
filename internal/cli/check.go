package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"raydock/internal/probe"
	"raydock/internal/storage"
	"raydock/internal/storage/models"
)

var checkCmd = &cobra.Command{
	Use:   "check [id...]",
	Short: "Check that xray accepts connections on its inbounds",
	Long: `Dial the given inbounds, or every enabled inbound when no id is given, and
report which ones xray is not listening on. Useful right after 'raydock apply'.`,
	ValidArgsFunction: completeInboundIDs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		workers, _ := cmd.Flags().GetInt64("workers")
		timeoutMS, _ := cmd.Flags().GetInt64("timeout")
		strategyName, _ := cmd.Flags().GetString("strategy")

		strategy, err := probe.NewStrategy(strategyName)
		if err != nil {
			return err
		}

		inbounds, err := selectInbounds(ctx, appInstance.Storage, args)
		if err != nil {
			return err
		}
		if len(inbounds) == 0 {
			fmt.Println("No enabled inbounds.")
			return nil
		}

		tester := probe.NewTester(probe.TesterConfig{
			Workers:  workers,
			Timeout:  time.Duration(timeoutMS) * time.Millisecond,
			Strategy: strategy,
		})

		fmt.Printf("Checking %d inbounds (%s)...\n\n", len(inbounds), strategy.Name())
		batch := tester.ProbeBatch(ctx, inbounds, printProgress(os.Stderr))
		fmt.Fprintln(os.Stderr)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTAG\tADDRESS\tLATENCY\tSTATUS")
		fmt.Fprintln(w, "--\t---\t-------\t-------\t------")
		for _, r := range batch.Results {
			latStr := "N/A"
			statusStr := "FAIL"
			if r.OK() {
				latStr = fmt.Sprintf("%d ms", r.LatencyMS)
				statusStr = "OK"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.Inbound.ID, r.Inbound.EffectiveTag(), probe.Address(r.Inbound), latStr, statusStr)
		}
		w.Flush()

		fmt.Printf("\n%d ok, %d failed in %s\n", batch.Succeeded, batch.Failed, batch.Duration.Round(time.Millisecond))
		if batch.Failed > 0 {
			return fmt.Errorf("%d inbounds are not accepting connections", batch.Failed)
		}
		return nil
	},
}

// selectInbounds returns the inbounds named by ids, or all enabled inbounds
// when ids is empty.
func selectInbounds(ctx context.Context, store storage.Storage, ids []string) ([]*models.Inbound, error) {
	if len(ids) == 0 {
		inbounds, err := store.ListInbounds(ctx, storage.EnabledOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to list inbounds: %w", err)
		}
		return inbounds, nil
	}

	inbounds := make([]*models.Inbound, 0, len(ids))
	for _, id := range ids {
		in, err := store.GetInbound(ctx, id)
		if err != nil {
			return nil, err
		}
		inbounds = append(inbounds, in)
	}
	return inbounds, nil
}

// printProgress reports each finished probe on one rewritten line.
func printProgress(w io.Writer) probe.ProgressFunc {
	var mu sync.Mutex
	return func(r *probe.Result, current, total int) {
		status := "ok"
		if !r.OK() {
			status = "fail"
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\r[%d/%d] %s %s", current, total, r.Inbound.EffectiveTag(), status)
	}
}

func init() {
	checkCmd.Flags().Int64("workers", 10, "number of concurrent probes")
	checkCmd.Flags().Int64("timeout", 3000, "per-inbound timeout in milliseconds")
	checkCmd.Flags().String("strategy", "tcp", "probe strategy (tcp)")

	rootCmd.AddCommand(checkCmd)
}
