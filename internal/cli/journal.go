package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradedesk/journal"
)

func newJournalCmd(ro *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the position journal and trade ledger",
		Long: `Inspect or reset the crash-recovery position journal, and list closed
trades from the SQLite ledger.

Subcommands:
  show   - Print the last position snapshot
  clear  - Remove the position snapshot
  trades - List closed trades (optionally for one day)

Examples:
  tradedesk journal show
  tradedesk journal trades --day 2026-01-15`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the last position snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := ro.loadConfig()
				if err != nil {
					return err
				}
				pj := journal.NewPositionJournal(cfg.Portfolio.JournalDir)
				entries, ok := pj.Load()
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "no position journal at %s\n", pj.Path())
					return nil
				}
				return printEntries(cmd.OutOrStdout(), entries)
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the position snapshot",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := ro.loadConfig()
				if err != nil {
					return err
				}
				pj := journal.NewPositionJournal(cfg.Portfolio.JournalDir)
				if err := pj.Clear(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared %s\n", pj.Path())
				return nil
			},
		},
		newJournalTradesCmd(ro),
	)
	return cmd
}

func newJournalTradesCmd(ro *rootOptions) *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List closed trades from the SQLite ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Ledger.DBPath == "" {
				return fmt.Errorf("ledger.db_path is not configured")
			}
			j, err := journal.NewSQLite(cfg.Ledger.DBPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer j.Close()

			var recs []journal.TradeRecord
			if day == "" {
				recs, err = j.ListTrades(cmd.Context())
			} else {
				start, end, derr := dayBounds(time.Local, day)
				if derr != nil {
					return fmt.Errorf("date: %w", derr)
				}
				recs, err = j.ListTradesClosedBetween(cmd.Context(), start, end)
			}
			if err != nil {
				return fmt.Errorf("query trades: %w", err)
			}
			return printTrades(cmd.OutOrStdout(), recs)
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "only trades closed on this day (YYYY-MM-DD, local time)")
	return cmd
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}

func printEntries(w io.Writer, entries []journal.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTRUMENT\tPOSITION\tBARS\tMFE\tENTRY_ATR\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.5g\t%.5g\t%s\n", e.Instrument, journalSide(&e), e.BarsHeld, e.MFEPoints, e.EntryATR, e.UpdatedAt)
	}
	return tw.Flush()
}

func printTrades(w io.Writer, recs []journal.TradeRecord) error {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no trades")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRADE\tINSTRUMENT\tDIR\tSIZE\tENTRY\tEXIT\tPNL\tCLOSED\tREASON")
	total := 0.0
	for _, r := range recs {
		total += r.RealizedPL
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4g\t%.5g\t%.5g\t%.2f\t%s\t%s\n",
			r.TradeID, r.Instrument, r.Direction, r.Size, r.EntryPrice, r.ExitPrice, r.RealizedPL,
			r.CloseTime.Format(time.RFC3339), r.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d trades, total P/L %.2f\n", len(recs), total)
	return nil
}
