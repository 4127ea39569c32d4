package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
// Times are stored in UTC so range queries compare correctly.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			equity TEXT NOT NULL,
			high_water_mark TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			open_positions INTEGER NOT NULL DEFAULT 0,
			daily_pl TEXT NOT NULL DEFAULT '0',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS legs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			state TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price TEXT NOT NULL DEFAULT '0',
			entry_commission TEXT NOT NULL DEFAULT '0',
			opened_at DATETIME,
			open_order_id TEXT NOT NULL DEFAULT '',
			close_order_id TEXT NOT NULL DEFAULT '',
			exit_reason TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_legs_symbol ON legs(symbol)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			exit_time DATETIME NOT NULL,
			gross_pl TEXT NOT NULL,
			commission TEXT NOT NULL,
			net_pl TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT UNIQUE NOT NULL,
			client_order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			kind INTEGER NOT NULL,
			leg_ids TEXT NOT NULL DEFAULT '',
			quantity INTEGER NOT NULL,
			ref_price TEXT NOT NULL DEFAULT '0',
			reason TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL DEFAULT '',
			prev_throttle TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			filled_qty INTEGER NOT NULL DEFAULT 0,
			filled_price TEXT NOT NULL DEFAULT '0',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

		`CREATE TABLE IF NOT EXISTS session_references (
			signal TEXT PRIMARY KEY,
			price TEXT NOT NULL,
			day TEXT NOT NULL,
			captured_at DATETIME NOT NULL,
			degraded INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS throttles (
			symbol TEXT PRIMARY KEY,
			day TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS bot_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_updated DATETIME NOT NULL,
			day TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL DEFAULT '',
			equity TEXT NOT NULL,
			high_water_mark TEXT NOT NULL,
			kill_switch_active INTEGER NOT NULL DEFAULT 0,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			total_pl TEXT NOT NULL DEFAULT '0'
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveEquitySnapshot saves an equity snapshot.
func (r *SQLiteRepository) SaveEquitySnapshot(ctx context.Context, snapshot EquitySnapshot) error {
	query := `INSERT INTO equity_snapshots (timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.Timestamp.UTC(),
		snapshot.Equity.String(),
		snapshot.HighWaterMark.String(),
		snapshot.Drawdown.String(),
		snapshot.OpenPositions,
		snapshot.DailyPL.String(),
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}

	return nil
}

// GetLatestEquitySnapshot returns the most recent equity snapshot, or nil
// when none has been saved.
func (r *SQLiteRepository) GetLatestEquitySnapshot(ctx context.Context) (*EquitySnapshot, error) {
	query := `SELECT id, timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl
		FROM equity_snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`

	var s EquitySnapshot
	var equity, hwm, dd, dailyPL string

	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.Timestamp, &equity, &hwm, &dd, &s.OpenPositions, &dailyPL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query equity snapshot: %w", err)
	}

	s.Equity = parseDecimal(equity)
	s.HighWaterMark = parseDecimal(hwm)
	s.Drawdown = parseDecimal(dd)
	s.DailyPL = parseDecimal(dailyPL)
	return &s, nil
}

// GetEquityHistory returns equity snapshots in a time range.
func (r *SQLiteRepository) GetEquityHistory(ctx context.Context, from, to time.Time) ([]EquitySnapshot, error) {
	query := `SELECT id, timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl
		FROM equity_snapshots WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp, id`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshots []EquitySnapshot
	for rows.Next() {
		var s EquitySnapshot
		var equity, hwm, dd, dailyPL string

		if err := rows.Scan(&s.ID, &s.Timestamp, &equity, &hwm, &dd, &s.OpenPositions, &dailyPL); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		s.Equity = parseDecimal(equity)
		s.HighWaterMark = parseDecimal(hwm)
		s.Drawdown = parseDecimal(dd)
		s.DailyPL = parseDecimal(dailyPL)
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// SaveLeg inserts or replaces a leg.
func (r *SQLiteRepository) SaveLeg(ctx context.Context, leg LegRecord) error {
	query := `INSERT OR REPLACE INTO legs
		(id, symbol, state, quantity, entry_price, entry_commission, opened_at, open_order_id, close_order_id, exit_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		leg.ID,
		leg.Symbol,
		leg.State,
		leg.Quantity,
		leg.EntryPrice.String(),
		leg.EntryCommission.String(),
		nullTime(leg.OpenedAt),
		leg.OpenOrderID,
		leg.CloseOrderID,
		leg.ExitReason,
		utcOrNow(leg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save leg: %w", err)
	}
	return nil
}

// DeleteLeg removes a leg. Deleting a missing leg is not an error.
func (r *SQLiteRepository) DeleteLeg(ctx context.Context, legID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM legs WHERE id = ?`, legID); err != nil {
		return fmt.Errorf("delete leg: %w", err)
	}
	return nil
}

// GetLegs returns every live leg, oldest first.
func (r *SQLiteRepository) GetLegs(ctx context.Context) ([]LegRecord, error) {
	query := `SELECT id, symbol, state, quantity, entry_price, entry_commission, opened_at, open_order_id, close_order_id, exit_reason, updated_at
		FROM legs ORDER BY opened_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var legs []LegRecord
	for rows.Next() {
		var l LegRecord
		var entryPrice, entryCommission string
		var openedAt sql.NullTime

		if err := rows.Scan(&l.ID, &l.Symbol, &l.State, &l.Quantity, &entryPrice, &entryCommission, &openedAt,
			&l.OpenOrderID, &l.CloseOrderID, &l.ExitReason, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		l.EntryPrice = parseDecimal(entryPrice)
		l.EntryCommission = parseDecimal(entryCommission)
		if openedAt.Valid {
			l.OpenedAt = openedAt.Time
		}
		legs = append(legs, l)
	}

	return legs, rows.Err()
}

// SaveTrade saves a completed trade.
func (r *SQLiteRepository) SaveTrade(ctx context.Context, trade types.Trade) error {
	query := `INSERT INTO trades
		(id, position_id, symbol, quantity, entry_price, exit_price, entry_time, exit_time, gross_pl, commission, net_pl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.ID,
		trade.PositionID,
		trade.Symbol,
		trade.Quantity,
		trade.EntryPrice.String(),
		trade.ExitPrice.String(),
		trade.EntryTime.UTC(),
		trade.ExitTime.UTC(),
		trade.GrossPL.String(),
		trade.Commission.String(),
		trade.NetPL.String(),
		trade.ExitReason,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

const tradeColumns = `id, position_id, symbol, quantity, entry_price, exit_price, entry_time, exit_time, gross_pl, commission, net_pl, exit_reason`

// GetTrades returns trades closed in a time range, newest first.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]types.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE exit_time BETWEEN ? AND ? ORDER BY exit_time DESC`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

// GetTradesBySymbol returns the latest trades for a symbol.
func (r *SQLiteRepository) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE symbol = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades by symbol: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]types.Trade, error) {
	var trades []types.Trade
	for rows.Next() {
		var t types.Trade
		var entryPrice, exitPrice, grossPL, commission, netPL string

		if err := rows.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Quantity, &entryPrice, &exitPrice, &t.EntryTime, &t.ExitTime,
			&grossPL, &commission, &netPL, &t.ExitReason); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.EntryPrice = parseDecimal(entryPrice)
		t.ExitPrice = parseDecimal(exitPrice)
		t.GrossPL = parseDecimal(grossPL)
		t.Commission = parseDecimal(commission)
		t.NetPL = parseDecimal(netPL)
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveOrder inserts an order, or replaces the row with the same order ID.
func (r *SQLiteRepository) SaveOrder(ctx context.Context, order OrderRecord) error {
	query := `INSERT INTO orders
		(order_id, client_order_id, symbol, kind, leg_ids, quantity, ref_price, reason, day, prev_throttle, status, filled_qty, filled_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			leg_ids = excluded.leg_ids,
			status = excluded.status,
			filled_qty = excluded.filled_qty,
			filled_price = excluded.filled_price,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		order.OrderID,
		order.ClientOrderID,
		order.Symbol,
		order.Kind,
		strings.Join(order.LegIDs, ","),
		order.Quantity,
		order.RefPrice.String(),
		order.Reason,
		order.Day,
		order.PrevThrottle,
		order.Status,
		order.FilledQty,
		order.FilledPrice.String(),
		utcOrNow(order.CreatedAt),
		utcOrNow(order.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// GetPendingOrders returns orders with a non-final status, oldest first.
func (r *SQLiteRepository) GetPendingOrders(ctx context.Context) ([]OrderRecord, error) {
	query := `SELECT id, order_id, client_order_id, symbol, kind, leg_ids, quantity, ref_price, reason, day, prev_throttle,
			status, filled_qty, filled_price, created_at, updated_at
		FROM orders WHERE status IN (?, ?, ?) ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query,
		types.OrderStatusCreated, types.OrderStatusPending, types.OrderStatusPartialFill)
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		var legIDs, refPrice, filledPrice string

		if err := rows.Scan(&o.ID, &o.OrderID, &o.ClientOrderID, &o.Symbol, &o.Kind, &legIDs, &o.Quantity, &refPrice,
			&o.Reason, &o.Day, &o.PrevThrottle, &o.Status, &o.FilledQty, &filledPrice, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		o.LegIDs = splitIDs(legIDs)
		o.RefPrice = parseDecimal(refPrice)
		o.FilledPrice = parseDecimal(filledPrice)
		orders = append(orders, o)
	}

	return orders, rows.Err()
}

// UpdateOrderStatus records an acknowledgement for an order.
func (r *SQLiteRepository) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledQty int64, fillPrice decimal.Decimal) error {
	query := `UPDATE orders SET status = ?, filled_qty = ?, filled_price = ?, updated_at = ? WHERE order_id = ?`

	res, err := r.db.ExecContext(ctx, query, status, filledQty, fillPrice.String(), time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update order %s: %w", orderID, ErrNotFound)
	}

	return nil
}

// SaveReference stores the session reference of a signal instrument.
func (r *SQLiteRepository) SaveReference(ctx context.Context, ref ReferenceRecord) error {
	query := `INSERT OR REPLACE INTO session_references (signal, price, day, captured_at, degraded) VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, ref.Signal, ref.Price.String(), ref.Day, ref.CapturedAt.UTC(), boolToInt(ref.Degraded))
	if err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

// GetReferences returns every stored reference.
func (r *SQLiteRepository) GetReferences(ctx context.Context) ([]ReferenceRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT signal, price, day, captured_at, degraded FROM session_references ORDER BY signal`)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []ReferenceRecord
	for rows.Next() {
		var ref ReferenceRecord
		var price string
		var degraded int
		if err := rows.Scan(&ref.Signal, &price, &ref.Day, &ref.CapturedAt, &degraded); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ref.Price = parseDecimal(price)
		ref.Degraded = degraded == 1
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteReferences clears all references.
func (r *SQLiteRepository) DeleteReferences(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM session_references`); err != nil {
		return fmt.Errorf("delete references: %w", err)
	}
	return nil
}

// SaveThrottle records the session day of the last entry on symbol. An empty
// day clears the throttle.
func (r *SQLiteRepository) SaveThrottle(ctx context.Context, symbol, day string) error {
	query := `INSERT OR REPLACE INTO throttles (symbol, day) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, query, symbol, day); err != nil {
		return fmt.Errorf("save throttle: %w", err)
	}
	return nil
}

// GetThrottles returns the armed throttles by symbol.
func (r *SQLiteRepository) GetThrottles(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, day FROM throttles WHERE day <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query throttles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var symbol, day string
		if err := rows.Scan(&symbol, &day); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[symbol] = day
	}
	return out, rows.Err()
}

// SaveState saves the bot state.
func (r *SQLiteRepository) SaveState(ctx context.Context, state BotState) error {
	query := `INSERT OR REPLACE INTO bot_state
		(id, last_updated, day, phase, equity, high_water_mark, kill_switch_active, total_trades, winning_trades, losing_trades, total_pl)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		utcOrNow(state.LastUpdated),
		state.Day,
		state.Phase,
		state.Equity.String(),
		state.HighWaterMark.String(),
		boolToInt(state.KillSwitchActive),
		state.TotalTrades,
		state.WinningTrades,
		state.LosingTrades,
		state.TotalPL.String(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}

	return nil
}

// GetState returns the saved bot state, or nil when none has been saved.
func (r *SQLiteRepository) GetState(ctx context.Context) (*BotState, error) {
	query := `SELECT id, last_updated, day, phase, equity, high_water_mark, kill_switch_active, total_trades, winning_trades, losing_trades, total_pl
		FROM bot_state WHERE id = 1`

	var state BotState
	var equity, hwm, totalPL string
	var killSwitch int

	err := r.db.QueryRowContext(ctx, query).Scan(
		&state.ID,
		&state.LastUpdated,
		&state.Day,
		&state.Phase,
		&equity,
		&hwm,
		&killSwitch,
		&state.TotalTrades,
		&state.WinningTrades,
		&state.LosingTrades,
		&totalPL,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	state.Equity = parseDecimal(equity)
	state.HighWaterMark = parseDecimal(hwm)
	state.TotalPL = parseDecimal(totalPL)
	state.KillSwitchActive = killSwitch == 1

	return &state, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

var _ Repository = (*SQLiteRepository)(nil)
