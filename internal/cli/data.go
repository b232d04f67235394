package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/market/data"
	"github.com/rustyeddy/tradedesk/replay"
)

const hourLayout = "2006-01-02T15"

type fetchOptions struct {
	Base        string
	From        string
	To          string
	OutDir      string
	CacheDir    string
	Period      string
	Workers     int
	Instruments []string
}

func newDataCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Historical market data",
	}
	cmd.AddCommand(newDataFetchCmd(ro))
	return cmd
}

func newDataFetchCmd(ro *rootOptions) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download ticks from the Dukascopy datafeed and write replay candles",
		Long: `Download hourly tick files for every instrument in [--from, --to),
aggregate them into candles of the portfolio period and write
<out>/<INSTRUMENT>.csv in the format 'tradedesk replay' reads.

Example:
  tradedesk data fetch --from 2026-01-05T00 --to 2026-01-10T00 --out ./data/h1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}

			from, err := time.ParseInLocation(hourLayout, opts.From, time.UTC)
			if err != nil {
				return fmt.Errorf("bad --from: %w", err)
			}
			to, err := time.ParseInLocation(hourLayout, opts.To, time.UTC)
			if err != nil {
				return fmt.Errorf("bad --to: %w", err)
			}

			periodName := opts.Period
			if periodName == "" {
				periodName = cfg.Portfolio.Period
			}
			period, err := market.PeriodDuration(periodName)
			if err != nil {
				return err
			}

			insts := cfg.Instruments()
			if len(opts.Instruments) > 0 {
				insts = nil
				for _, s := range opts.Instruments {
					inst, err := market.ParseInstrument(s)
					if err != nil {
						return err
					}
					insts = append(insts, inst)
				}
			}

			f := data.NewFetcher(opts.CacheDir)
			f.Base = opts.Base
			f.Workers = opts.Workers

			w := cmd.OutOrStdout()
			for _, inst := range insts {
				cs, err := f.Candles(cmd.Context(), inst, from, to, period)
				if err != nil {
					return err
				}
				path := filepath.Join(opts.OutDir, string(inst)+".csv")
				if err := replay.SaveCandles(path, cs); err != nil {
					return fmt.Errorf("save %s: %w", inst, err)
				}
				fmt.Fprintf(w, "%-10s %5d candles  %s\n", inst, len(cs), path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Base, "base", data.DefaultBase, "Datafeed base URL")
	cmd.Flags().StringVar(&opts.From, "from", "", "Start hour (UTC) like 2026-01-05T00")
	cmd.Flags().StringVar(&opts.To, "to", "", "End hour (UTC, exclusive)")
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", "./data", "Directory for candle files")
	cmd.Flags().StringVar(&opts.CacheDir, "cache", "", "Directory to keep raw tick files (no cache when empty)")
	cmd.Flags().StringVar(&opts.Period, "period", "", "Candle period (portfolio period when empty)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "Parallel downloads")
	cmd.Flags().StringSliceVarP(&opts.Instruments, "instrument", "i", nil, "Instrument to fetch (repeatable; configured instruments when empty)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
