package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/broker/sim"
	"github.com/rustyeddy/tradedesk/config"
	"github.com/rustyeddy/tradedesk/replay"
)

type replayOptions struct {
	CandlesDir string
	OutDir     string
	Warmup     int
	Balance    float64
}

// applyReplay points every piece of state at out so a replay never touches
// the live journal or ledger.
func applyReplay(cfg *config.Config, out string) {
	cfg.Broker.Type = config.BrokerSim
	cfg.Portfolio.JournalDir = filepath.Join(out, "journal")
	cfg.Ledger.DBPath = filepath.Join(out, "tradedesk.db")
	cfg.Ledger.TradesCSV = filepath.Join(out, "trades.csv")
}

func newReplayCmd(ro *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded candles through the portfolio on the paper broker",
		Long: `Load <candles>/<INSTRUMENT>.csv (time,open,high,low,close[,volume]) for
every configured instrument and drive the portfolio loop over them with
the in-memory paper broker. Journal and ledger files are written under
--out.

Example:
  tradedesk replay --config tradedesk.yaml --candles ./data/h1 --warmup 100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}
			applyReplay(cfg, opts.OutDir)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}

			series, err := replay.LoadDir(opts.CandlesDir, cfg.Instruments())
			if err != nil {
				return err
			}

			engine := sim.NewEngine(broker.AccountBalance{
				Currency: "USD",
				Balance:  opts.Balance,
			})

			ctx := cmd.Context()
			loop, led, err := buildLoop(ctx, cfg, engine)
			if err != nil {
				return fmt.Errorf("build portfolio: %w", err)
			}
			defer func() {
				if err := led.Close(); err != nil {
					log.Error().Err(err).Msg("close ledger")
				}
			}()

			st, err := replay.Run(ctx, engine, loop, series, replay.Options{
				Period: cfg.Portfolio.Period,
				Warmup: opts.Warmup,
			})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "candles:   %d (%d failed)\n", st.Dispatched, st.Failed)
			fmt.Fprintf(w, "from:      %s\n", st.First.Format("2006-01-02 15:04"))
			fmt.Fprintf(w, "to:        %s\n", st.Last.Format("2006-01-02 15:04"))
			fmt.Fprintf(w, "restored:  %d\n", st.Restored)
			fmt.Fprintf(w, "output:    %s\n", opts.OutDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.CandlesDir, "candles", "", "Directory of <INSTRUMENT>.csv candle files")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "./replay", "Directory for the replay journal and ledger")
	cmd.Flags().IntVar(&opts.Warmup, "warmup", 100, "Candles per instrument loaded before the portfolio starts")
	cmd.Flags().Float64Var(&opts.Balance, "balance", 10000, "Starting paper account balance")
	_ = cmd.MarkFlagRequired("candles")

	return cmd
}
