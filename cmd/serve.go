package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/chrisdamba/trafficdatasim/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation behind the dashboard API and WebSocket stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sim, logger, err := setup(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer closeSimulator(sim, logger)

		hub := server.NewHub(sim.Config.Server.AllowedOrigins, logger)
		sim.AddOutput(hub)
		srv := server.New(sim.Config.Server, sim, hub, logger)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return sim.Run(gctx) })
		g.Go(func() error { return srv.Run(gctx) })
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address")
	bindFlags(serveCmd.Flags(), map[string]string{"server.addr": "addr"})
	rootCmd.AddCommand(serveCmd)
}
