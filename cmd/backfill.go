package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Generate events for a historical time range as fast as possible",
	Long: `backfill steps a simulated clock from --start to --end and writes one event per
--step to the configured outputs. Rush hours follow the simulated clock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sim, logger, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer closeSimulator(sim, logger)

		cfg := sim.Config
		events, alerts, err := sim.Backfill(ctx, cfg.StartDate, cfg.EndDate, cfg.Step, os.Stderr)
		if err != nil {
			logger.Warn("backfill interrupted", zap.Int("events", events), zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "generated %d events and %d alerts\n", events, alerts)
		return nil
	},
}

func init() {
	flags := backfillCmd.Flags()
	flags.String("start", "", "Start of the range (RFC3339)")
	flags.String("end", "", "End of the range (RFC3339)")
	flags.Duration("step", 0, "Simulated time between events")
	bindFlags(flags, map[string]string{
		"start_date": "start",
		"end_date":   "end",
		"step":       "step",
	})
	rootCmd.AddCommand(backfillCmd)
}
