package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/chrisdamba/trafficdatasim/internal/repositories/postgres"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	alertsLimit int
	alertsPurge bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List or purge alerts stored in PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		if cfg.Database.URL == "" {
			return errors.New("database.url is not configured")
		}

		ctx := cmd.Context()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo := postgres.NewAlertRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}

		if alertsPurge {
			count, err := repo.Count(ctx)
			if err != nil {
				return err
			}
			if err := repo.DeleteAll(ctx); err != nil {
				return err
			}
			logger.Info("purged stored alerts", zap.Int("count", count))
			return nil
		}

		alerts, err := repo.GetRecent(ctx, alertsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tLOCATION\tSEVERITY\tTYPE")
		for _, a := range alerts {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", a.ID, a.AlertTimestamp.Format(time.RFC3339), a.LocationName, a.Severity, a.AlertType)
		}
		return w.Flush()
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "Number of alerts to list")
	alertsCmd.Flags().BoolVar(&alertsPurge, "purge", false, "Delete every stored alert")
	rootCmd.AddCommand(alertsCmd)
}
