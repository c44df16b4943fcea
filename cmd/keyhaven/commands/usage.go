package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/internal/keys"
)

func NewUsageCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage <id>",
		Short: "Show usage statistics for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := openVault(cmd.Context(), cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			stats, err := manager.GetKeyUsageStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Requests:\t%d (%d ok, %d failed)\n", stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)
			fmt.Fprintf(w, "Tokens:\t%d in, %d out, %d total\n", stats.InputTokens, stats.OutputTokens, stats.TotalTokens)
			fmt.Fprintf(w, "Cost:\t$%.4f\n", stats.TotalCost)
			fmt.Fprintf(w, "Avg latency:\t%.1fms\n", stats.AvgLatencyMs)
			fmt.Fprintf(w, "Since:\t%s\n", stats.LastResetAt.Format(time.RFC3339))
			return w.Flush()
		},
	}

	cmd.AddCommand(newUsageRecordCommand(app))
	return cmd
}

func newUsageRecordCommand(app *App) *cobra.Command {
	var (
		requests     int64
		inputTokens  int64
		outputTokens int64
		cost         float64
		latency      time.Duration
		failed       bool
	)

	cmd := &cobra.Command{
		Use:   "record <id>",
		Short: "Record a usage sample against a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, _, err := openVault(cmd.Context(), cmd, app)
			if err != nil {
				return err
			}
			defer manager.Lock()

			sample := keys.UsageSample{
				Requests:     requests,
				Success:      !failed,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
				Cost:         cost,
				Latency:      latency,
			}
			if err := manager.RecordUsage(cmd.Context(), args[0], sample); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded usage for %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().Int64Var(&requests, "requests", 1, "Request count for this sample")
	cmd.Flags().Int64Var(&inputTokens, "input-tokens", 0, "Input tokens consumed")
	cmd.Flags().Int64Var(&outputTokens, "output-tokens", 0, "Output tokens produced")
	cmd.Flags().Float64Var(&cost, "cost", 0, "Cost in dollars")
	cmd.Flags().DurationVar(&latency, "latency", 0, "Observed request latency")
	cmd.Flags().BoolVar(&failed, "failed", false, "Mark the sample as a failed request")
	return cmd
}
