package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Trade status values. TP statuses mark partial closes; CLOSED marks a full
// close with realized PnL.
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
	TradeStatusTP1    = "TP1"
	TradeStatusTP2    = "TP2"
	TradeStatusTP3    = "TP3"
)

// TradeRecord is one logical trade, keyed by symbol + entry time.
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        float64
	PnLPercent float64
	Status     string
}

// DailyPerformance aggregates closed trades per calendar date.
type DailyPerformance struct {
	Date          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	PnL           float64
}

// Summary holds derived statistics over closed trades.
type Summary struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	LargestWin    float64 `json:"largest_win"`
	LargestLoss   float64 `json:"largest_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// TradeID builds the stable id used to upsert and later update a trade.
func TradeID(symbol string, entryTime time.Time) string {
	return fmt.Sprintf("%s_%s", symbol, entryTime.UTC().Format(time.RFC3339))
}

// RecordTrade upserts a trade row by its id.
func (d *Database) RecordTrade(ctx context.Context, t TradeRecord) error {
	if t.ID == "" {
		t.ID = TradeID(t.Symbol, t.EntryTime)
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, qty, entry_price, exit_price, entry_time, exit_time, pnl, pnl_percent, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			exit_price = excluded.exit_price,
			exit_time = excluded.exit_time,
			pnl = excluded.pnl,
			pnl_percent = excluded.pnl_percent,
			status = excluded.status,
			updated_at = CURRENT_TIMESTAMP
	`,
		t.ID, t.Symbol, t.Side, t.Qty, t.EntryPrice, nullFloat(t.ExitPrice),
		t.EntryTime.UTC().Format(time.RFC3339Nano), nullTime(t.ExitTime), t.PnL, t.PnLPercent, t.Status,
	)
	if err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	if t.Status == TradeStatusClosed {
		return d.accumulateDaily(ctx, t.ExitTime, t.PnL)
	}
	return nil
}

// UpdateTradeStatus moves an existing trade to a new status, filling exit
// fields when provided. Closing a trade also rolls it into the daily
// aggregate. Returns false when no trade with that id exists.
func (d *Database) UpdateTradeStatus(ctx context.Context, id, status string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64) (bool, error) {
	if exitTime.IsZero() {
		exitTime = time.Now()
	}
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades
		SET status = ?, exit_price = ?, exit_time = ?, pnl = ?, pnl_percent = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, nullFloat(exitPrice), exitTime.UTC().Format(time.RFC3339Nano), pnl, pnlPercent, id)
	if err != nil {
		return false, fmt.Errorf("update trade status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if status == TradeStatusClosed {
		if err := d.accumulateDaily(ctx, exitTime, pnl); err != nil {
			return true, err
		}
	}
	return true, nil
}

// OpenTrade returns the most recent OPEN or partially-closed trade for a
// symbol, or nil when none exists.
func (d *Database) OpenTrade(ctx context.Context, symbol string) (*TradeRecord, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, symbol, side, qty, entry_price, COALESCE(exit_price, 0), entry_time,
		       COALESCE(exit_time, ''), COALESCE(pnl, 0), COALESCE(pnl_percent, 0), status
		FROM trades
		WHERE symbol = ? AND status != ?
		ORDER BY entry_time DESC
		LIMIT 1
	`, symbol, TradeStatusClosed)
	t, err := scanTrade(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTrades returns the most recent trades, newest first.
func (d *Database) ListTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, qty, entry_price, COALESCE(exit_price, 0), entry_time,
		       COALESCE(exit_time, ''), COALESCE(pnl, 0), COALESCE(pnl_percent, 0), status
		FROM trades
		ORDER BY entry_time DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

// DailyPerformanceSince returns per-date aggregates for the last n days.
func (d *Database) DailyPerformanceSince(ctx context.Context, days int) ([]DailyPerformance, error) {
	cutoff := time.Now().AddDate(0, 0, -days).UTC().Format("2006-01-02")
	rows, err := d.DB.QueryContext(ctx, `
		SELECT date, total_trades, winning_trades, losing_trades, pnl
		FROM daily_performance
		WHERE date >= ?
		ORDER BY date
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []DailyPerformance
	for rows.Next() {
		var p DailyPerformance
		if err := rows.Scan(&p.Date, &p.TotalTrades, &p.WinningTrades, &p.LosingTrades, &p.PnL); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// Summarize computes closed-trade statistics over the last n days
// (all history when days <= 0).
func (d *Database) Summarize(ctx context.Context, days int) (Summary, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl <= 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(pnl), 0),
		       COALESCE(MAX(pnl), 0),
		       COALESCE(MIN(pnl), 0),
		       COALESCE(SUM(CASE WHEN pnl > 0 THEN pnl ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN pnl < 0 THEN -pnl ELSE 0 END), 0)
		FROM trades WHERE status = ?`
	args := []any{TradeStatusClosed}
	if days > 0 {
		query += ` AND exit_time >= ?`
		args = append(args, time.Now().AddDate(0, 0, -days).UTC().Format(time.RFC3339Nano))
	}

	var s Summary
	var grossProfit, grossLoss float64
	err := d.DB.QueryRowContext(ctx, query, args...).Scan(
		&s.TotalTrades, &s.WinningTrades, &s.LosingTrades,
		&s.TotalPnL, &s.LargestWin, &s.LargestLoss,
		&grossProfit, &grossLoss,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize trades: %w", err)
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}
	return s, nil
}

func (d *Database) accumulateDaily(ctx context.Context, exitTime time.Time, pnl float64) error {
	if exitTime.IsZero() {
		exitTime = time.Now()
	}
	date := exitTime.UTC().Format("2006-01-02")
	wins, losses := 0, 0
	if pnl > 0 {
		wins = 1
	} else {
		losses = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_performance (date, total_trades, winning_trades, losing_trades, pnl)
		VALUES (?, 1, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_trades = total_trades + 1,
			winning_trades = winning_trades + ?,
			losing_trades = losing_trades + ?,
			pnl = pnl + ?
	`, date, wins, losses, pnl, wins, losses, pnl)
	if err != nil {
		return fmt.Errorf("accumulate daily performance: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (*TradeRecord, error) {
	var t TradeRecord
	var entry string
	var exit string
	if err := s.Scan(&t.ID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.ExitPrice,
		&entry, &exit, &t.PnL, &t.PnLPercent, &t.Status); err != nil {
		return nil, err
	}
	t.EntryTime = parseDBTime(entry)
	t.ExitTime = parseDBTime(exit)
	return &t, nil
}

func parseDBTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func nullFloat(v float64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
