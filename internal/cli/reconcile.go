package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradedesk/broker"
	"github.com/rustyeddy/tradedesk/config"
	"github.com/rustyeddy/tradedesk/journal"
	"github.com/rustyeddy/tradedesk/market"
	"github.com/rustyeddy/tradedesk/reconcile"
)

func newReconcileCmd(ro *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the position journal with the broker (dry run)",
		Long: `Classify every managed instrument by comparing the position journal
with the broker's open positions. Nothing is corrected or written.

Example:
  tradedesk reconcile --config tradedesk.yaml`,
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
			res, err := dryRun(cmd.Context(), cfg, openStore(cfg), b)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res)
		},
	}
}

func dryRun(ctx context.Context, cfg *config.Config, store journal.Store, client broker.Client) (reconcile.Result, error) {
	entries, _ := store.Load()

	timeout, err := cfg.Broker.TimeoutDuration()
	if err != nil {
		return reconcile.Result{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	positions, err := client.GetPositions(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("fetch broker positions: %w", err)
	}

	managed := market.NewInstrumentSet(cfg.Instruments()...)
	return reconcile.Reconcile(journal.ByInstrument(entries), positions, managed), nil
}

func printResult(w io.Writer, res reconcile.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTRUMENT\tSTATUS\tJOURNAL\tBROKER\tDETAIL")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Instrument, e.Discrepancy, journalSide(e.Journal), brokerSide(e.Broker), e.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case res.IsClean():
		fmt.Fprintln(w, "\n✓ journal and broker agree")
	case res.HasEmergencies():
		fmt.Fprintf(w, "\n✗ %d discrepancies, including failed exits\n", len(res.Corrections()))
	default:
		fmt.Fprintf(w, "\n! %d discrepancies\n", len(res.Corrections()))
	}
	return nil
}

func journalSide(e *journal.Entry) string {
	if e == nil {
		return "-"
	}
	if !e.HasPosition() {
		return "flat"
	}
	return fmt.Sprintf("%s %.4g @ %.5g", e.Direction, e.Size, e.EntryPrice)
}

func brokerSide(p *broker.Position) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%s %.4g @ %.5g", p.Direction, p.Size, p.EntryPrice)
}
