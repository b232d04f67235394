package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the live portfolio loop",
		Long: `Warm up every strategy, reconcile the position journal against the
broker, then poll closed candles for each instrument until interrupted.

Example:
  tradedesk run --config tradedesk.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}
			b, err := openBroker(cfg)
			if err != nil {
				return fmt.Errorf("open broker: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loop, led, err := buildLoop(ctx, cfg, b)
			if err != nil {
				return fmt.Errorf("build portfolio: %w", err)
			}
			defer func() {
				if err := led.Close(); err != nil {
					log.Error().Err(err).Msg("close ledger")
				}
			}()

			log.Info().
				Strs("instruments", cfg.Portfolio.Instruments).
				Str("period", cfg.Portfolio.Period).
				Str("broker", cfg.Broker.Type).
				Str("policy", cfg.RiskConfig().Type).
				Msg("starting portfolio")

			if err := loop.Run(ctx); err != nil {
				return err
			}
			log.Info().Msg("portfolio stopped")
			return nil
		},
	}
}
