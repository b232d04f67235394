package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

var (
	// TradeFillHeader is the fills layout read back by risk.LoadBacktest.
	TradeFillHeader = []string{"instrument", "direction", "timestamp", "price", "size", "reason"}
	EquityHeader    = []string{"time", "balance", "equity", "margin_used", "free_margin", "utilisation"}
)

// CSVJournal appends each closed trade as an entry fill and an exit fill,
// and equity snapshots as one row each. Existing files are appended to.
type CSVJournal struct {
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, tw, err := openAppend(tradesPath, TradeFillHeader)
	if err != nil {
		return nil, err
	}
	ef, ew, err := openAppend(equityPath, EquityHeader)
	if err != nil {
		tf.Close()
		return nil, err
	}
	return &CSVJournal{trades: tw, equity: ew, tf: tf, ef: ef}, nil
}

func openAppend(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, err
	}

	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			fh.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			fh.Close()
			return nil, nil, err
		}
	}
	return fh, w, nil
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	rows := [][]string{
		{
			string(t.Instrument),
			string(t.Direction.ToOrderSide()),
			t.OpenTime.UTC().Format(time.RFC3339),
			f(t.EntryPrice),
			f(t.Size),
			"",
		},
		{
			string(t.Instrument),
			string(t.Direction.Opposite().ToOrderSide()),
			t.CloseTime.UTC().Format(time.RFC3339),
			f(t.ExitPrice),
			f(t.Size),
			t.Reason,
		},
	}
	if err := j.trades.WriteAll(rows); err != nil {
		return err
	}
	return j.trades.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	err := j.equity.Write([]string{
		e.Time.UTC().Format(time.RFC3339),
		f(e.Balance),
		f(e.Equity),
		f(e.MarginUsed),
		f(e.FreeMargin),
		f(e.Utilisation),
	})
	if err != nil {
		return err
	}

	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) Close() error {
	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
