package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradedesk/market"
)

// SQLite is the durable ledger: closed trades, equity snapshots and the
// reconciliation audit trail.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, instrument, direction, size, entry_price, exit_price, open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, string(t.Instrument), string(t.Direction), t.Size, t.EntryPrice,
		t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPL, t.Reason,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(time, balance, equity, margin_used, free_margin, utilisation)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Time.UTC(), e.Balance, e.Equity, e.MarginUsed, e.FreeMargin, e.Utilisation,
	)
	return err
}

// RecordReconciliation appends the audit rows of one pass in a single
// transaction.
func (j *SQLite) RecordReconciliation(ctx context.Context, recs []ReconciliationRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reconciliations
		(pass_id, kind, time, instrument, discrepancy, journal_direction, journal_size,
		 broker_direction, broker_size, broker_deal_id, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			r.PassID, r.Kind, r.Time.UTC(), string(r.Instrument), r.Discrepancy,
			r.JournalDirection, r.JournalSize, r.BrokerDirection, r.BrokerSize,
			r.BrokerDealID, r.Message,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert reconciliation %s/%s: %w", r.PassID, r.Instrument, err)
		}
	}
	return tx.Commit()
}

// ListReconciliations returns the audit rows of one pass.
func (j *SQLite) ListReconciliations(ctx context.Context, passID string) ([]ReconciliationRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT pass_id, kind, time, instrument, discrepancy, journal_direction, journal_size,
		       broker_direction, broker_size, broker_deal_id, message
		FROM reconciliations
		WHERE pass_id = ?
		ORDER BY instrument ASC`, passID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReconciliationRecord
	for rows.Next() {
		var (
			r          ReconciliationRecord
			instrument string
		)
		if err := rows.Scan(
			&r.PassID, &r.Kind, &r.Time, &instrument, &r.Discrepancy,
			&r.JournalDirection, &r.JournalSize, &r.BrokerDirection,
			&r.BrokerSize, &r.BrokerDealID, &r.Message,
		); err != nil {
			return nil, err
		}
		r.Instrument = market.Instrument(instrument)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListTrades returns every recorded trade, oldest close first.
func (j *SQLite) ListTrades(ctx context.Context) ([]TradeRecord, error) {
	return j.queryTrades(ctx, `
		SELECT trade_id, instrument, direction, size, entry_price, exit_price, open_time, close_time, realized_pl, reason
		FROM trades
		ORDER BY close_time ASC`)
}

// ListTradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	return j.queryTrades(ctx, `
		SELECT trade_id, instrument, direction, size, entry_price, exit_price, open_time, close_time, realized_pl, reason
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
}

func (j *SQLite) queryTrades(ctx context.Context, query string, args ...any) ([]TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var (
			rec                   TradeRecord
			instrument, direction string
		)
		if err := rows.Scan(
			&rec.TradeID,
			&instrument,
			&direction,
			&rec.Size,
			&rec.EntryPrice,
			&rec.ExitPrice,
			&rec.OpenTime,
			&rec.CloseTime,
			&rec.RealizedPL,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		rec.Instrument = market.Instrument(instrument)
		rec.Direction = market.Direction(direction)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
