package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tathienbao/letf-intraday/internal/types"
)

// PostgresRepository implements Repository on a pgx connection pool.
// Decimals are stored as text, the same as the SQLite backend.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to dsn and runs migrations.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

// inTx runs fn in a read-committed transaction.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	return fn(tx)
}

// Migrate creates the schema in one transaction.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS equity_snapshots (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			equity TEXT NOT NULL,
			high_water_mark TEXT NOT NULL,
			drawdown TEXT NOT NULL,
			open_positions INTEGER NOT NULL DEFAULT 0,
			daily_pl TEXT NOT NULL DEFAULT '0',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_equity_timestamp ON equity_snapshots(timestamp)`,

		`CREATE TABLE IF NOT EXISTS legs (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			state TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			entry_price TEXT NOT NULL DEFAULT '0',
			entry_commission TEXT NOT NULL DEFAULT '0',
			opened_at TIMESTAMPTZ,
			open_order_id TEXT NOT NULL DEFAULT '',
			close_order_id TEXT NOT NULL DEFAULT '',
			exit_reason TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_time TIMESTAMPTZ NOT NULL,
			gross_pl TEXT NOT NULL,
			commission TEXT NOT NULL,
			net_pl TEXT NOT NULL,
			exit_reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			order_id TEXT UNIQUE NOT NULL,
			client_order_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			kind INTEGER NOT NULL,
			leg_ids TEXT[] NOT NULL DEFAULT '{}',
			quantity BIGINT NOT NULL,
			ref_price TEXT NOT NULL DEFAULT '0',
			reason TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL DEFAULT '',
			prev_throttle TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL,
			filled_qty BIGINT NOT NULL DEFAULT 0,
			filled_price TEXT NOT NULL DEFAULT '0',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,

		`CREATE TABLE IF NOT EXISTS session_references (
			signal TEXT PRIMARY KEY,
			price TEXT NOT NULL,
			day TEXT NOT NULL,
			captured_at TIMESTAMPTZ NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT false
		)`,

		`CREATE TABLE IF NOT EXISTS throttles (
			symbol TEXT PRIMARY KEY,
			day TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS bot_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_updated TIMESTAMPTZ NOT NULL,
			day TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL DEFAULT '',
			equity TEXT NOT NULL,
			high_water_mark TEXT NOT NULL,
			kill_switch_active BOOLEAN NOT NULL DEFAULT false,
			total_trades INTEGER NOT NULL DEFAULT 0,
			winning_trades INTEGER NOT NULL DEFAULT 0,
			losing_trades INTEGER NOT NULL DEFAULT 0,
			total_pl TEXT NOT NULL DEFAULT '0'
		)`,
	}

	return r.inTx(ctx, func(tx pgx.Tx) error {
		for _, migration := range migrations {
			if _, err := tx.Exec(ctx, migration); err != nil {
				return fmt.Errorf("execute migration: %w", err)
			}
		}
		return nil
	})
}

// SaveEquitySnapshot saves an equity snapshot.
func (r *PostgresRepository) SaveEquitySnapshot(ctx context.Context, s EquitySnapshot) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO equity_snapshots (timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.Timestamp, s.Equity.String(), s.HighWaterMark.String(), s.Drawdown.String(), s.OpenPositions, s.DailyPL.String(),
	)
	if err != nil {
		return fmt.Errorf("insert equity snapshot: %w", err)
	}
	return nil
}

func scanEquity(row pgx.Row) (EquitySnapshot, error) {
	var s EquitySnapshot
	var equity, hwm, dd, dailyPL string
	if err := row.Scan(&s.ID, &s.Timestamp, &equity, &hwm, &dd, &s.OpenPositions, &dailyPL); err != nil {
		return s, err
	}
	s.Equity = parseDecimal(equity)
	s.HighWaterMark = parseDecimal(hwm)
	s.Drawdown = parseDecimal(dd)
	s.DailyPL = parseDecimal(dailyPL)
	return s, nil
}

// GetLatestEquitySnapshot returns the most recent equity snapshot, or nil.
func (r *PostgresRepository) GetLatestEquitySnapshot(ctx context.Context) (*EquitySnapshot, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl
		FROM equity_snapshots ORDER BY timestamp DESC, id DESC LIMIT 1`)
	s, err := scanEquity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query equity snapshot: %w", err)
	}
	return &s, nil
}

// GetEquityHistory returns equity snapshots in a time range.
func (r *PostgresRepository) GetEquityHistory(ctx context.Context, from, to time.Time) ([]EquitySnapshot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, timestamp, equity, high_water_mark, drawdown, open_positions, daily_pl
		FROM equity_snapshots WHERE timestamp BETWEEN $1 AND $2 ORDER BY timestamp, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		s, err := scanEquity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveLeg inserts or replaces a leg.
func (r *PostgresRepository) SaveLeg(ctx context.Context, leg LegRecord) error {
	var openedAt *time.Time
	if !leg.OpenedAt.IsZero() {
		openedAt = &leg.OpenedAt
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO legs (id, symbol, state, quantity, entry_price, entry_commission, opened_at, open_order_id, close_order_id, exit_reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			quantity = EXCLUDED.quantity,
			entry_price = EXCLUDED.entry_price,
			entry_commission = EXCLUDED.entry_commission,
			opened_at = EXCLUDED.opened_at,
			open_order_id = EXCLUDED.open_order_id,
			close_order_id = EXCLUDED.close_order_id,
			exit_reason = EXCLUDED.exit_reason,
			updated_at = EXCLUDED.updated_at`,
		leg.ID, leg.Symbol, leg.State, leg.Quantity, leg.EntryPrice.String(), leg.EntryCommission.String(),
		openedAt, leg.OpenOrderID, leg.CloseOrderID, leg.ExitReason, utcOrNow(leg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save leg: %w", err)
	}
	return nil
}

// DeleteLeg removes a leg. Deleting a missing leg is not an error.
func (r *PostgresRepository) DeleteLeg(ctx context.Context, legID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM legs WHERE id = $1`, legID); err != nil {
		return fmt.Errorf("delete leg: %w", err)
	}
	return nil
}

// GetLegs returns every live leg, oldest first.
func (r *PostgresRepository) GetLegs(ctx context.Context) ([]LegRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, symbol, state, quantity, entry_price, entry_commission, opened_at, open_order_id, close_order_id, exit_reason, updated_at
		FROM legs ORDER BY opened_at NULLS FIRST, id`)
	if err != nil {
		return nil, fmt.Errorf("query legs: %w", err)
	}
	defer rows.Close()

	var legs []LegRecord
	for rows.Next() {
		var l LegRecord
		var entryPrice, entryCommission string
		var openedAt *time.Time
		if err := rows.Scan(&l.ID, &l.Symbol, &l.State, &l.Quantity, &entryPrice, &entryCommission, &openedAt,
			&l.OpenOrderID, &l.CloseOrderID, &l.ExitReason, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		l.EntryPrice = parseDecimal(entryPrice)
		l.EntryCommission = parseDecimal(entryCommission)
		if openedAt != nil {
			l.OpenedAt = *openedAt
		}
		legs = append(legs, l)
	}
	return legs, rows.Err()
}

// SaveTrade saves a completed trade.
func (r *PostgresRepository) SaveTrade(ctx context.Context, t types.Trade) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.PositionID, t.Symbol, t.Quantity, t.EntryPrice.String(), t.ExitPrice.String(),
		t.EntryTime, t.ExitTime, t.GrossPL.String(), t.Commission.String(), t.NetPL.String(), t.ExitReason,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrades returns trades closed in a time range, newest first.
func (r *PostgresRepository) GetTrades(ctx context.Context, from, to time.Time) ([]types.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE exit_time BETWEEN $1 AND $2 ORDER BY exit_time DESC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	return collectTrades(rows)
}

// GetTradesBySymbol returns the latest trades for a symbol.
func (r *PostgresRepository) GetTradesBySymbol(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE symbol = $1 ORDER BY exit_time DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades by symbol: %w", err)
	}
	return collectTrades(rows)
}

func collectTrades(rows pgx.Rows) ([]types.Trade, error) {
	trades, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Trade, error) {
		var t types.Trade
		var entryPrice, exitPrice, grossPL, commission, netPL string
		err := row.Scan(&t.ID, &t.PositionID, &t.Symbol, &t.Quantity, &entryPrice, &exitPrice, &t.EntryTime, &t.ExitTime,
			&grossPL, &commission, &netPL, &t.ExitReason)
		t.EntryPrice = parseDecimal(entryPrice)
		t.ExitPrice = parseDecimal(exitPrice)
		t.GrossPL = parseDecimal(grossPL)
		t.Commission = parseDecimal(commission)
		t.NetPL = parseDecimal(netPL)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan trades: %w", err)
	}
	return trades, nil
}

// SaveOrder inserts an order, or updates the row with the same order ID.
func (r *PostgresRepository) SaveOrder(ctx context.Context, o OrderRecord) error {
	legIDs := o.LegIDs
	if legIDs == nil {
		legIDs = []string{}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (order_id, client_order_id, symbol, kind, leg_ids, quantity, ref_price, reason, day, prev_throttle,
			status, filled_qty, filled_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (order_id) DO UPDATE SET
			leg_ids = EXCLUDED.leg_ids,
			status = EXCLUDED.status,
			filled_qty = EXCLUDED.filled_qty,
			filled_price = EXCLUDED.filled_price,
			updated_at = EXCLUDED.updated_at`,
		o.OrderID, o.ClientOrderID, o.Symbol, int(o.Kind), legIDs, o.Quantity, o.RefPrice.String(), o.Reason, o.Day,
		o.PrevThrottle, int(o.Status), o.FilledQty, o.FilledPrice.String(), utcOrNow(o.CreatedAt), utcOrNow(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetPendingOrders returns orders with a non-final status, oldest first.
func (r *PostgresRepository) GetPendingOrders(ctx context.Context) ([]OrderRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, client_order_id, symbol, kind, leg_ids, quantity, ref_price, reason, day, prev_throttle,
			status, filled_qty, filled_price, created_at, updated_at
		FROM orders WHERE status = ANY($1) ORDER BY id`,
		[]int{int(types.OrderStatusCreated), int(types.OrderStatusPending), int(types.OrderStatusPartialFill)})
	if err != nil {
		return nil, fmt.Errorf("query pending orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		var o OrderRecord
		var kind, status int
		var refPrice, filledPrice string
		if err := rows.Scan(&o.ID, &o.OrderID, &o.ClientOrderID, &o.Symbol, &kind, &o.LegIDs, &o.Quantity, &refPrice,
			&o.Reason, &o.Day, &o.PrevThrottle, &status, &o.FilledQty, &filledPrice, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		o.Kind = types.OrderKind(kind)
		o.Status = types.OrderStatus(status)
		o.RefPrice = parseDecimal(refPrice)
		o.FilledPrice = parseDecimal(filledPrice)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderStatus records an acknowledgement for an order.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID string, status types.OrderStatus, filledQty int64, fillPrice decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $1, filled_qty = $2, filled_price = $3, updated_at = now() WHERE order_id = $4`,
		int(status), filledQty, fillPrice.String(), orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

// SaveReference stores the session reference of a signal instrument.
func (r *PostgresRepository) SaveReference(ctx context.Context, ref ReferenceRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_references (signal, price, day, captured_at, degraded) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (signal) DO UPDATE SET price = EXCLUDED.price, day = EXCLUDED.day,
			captured_at = EXCLUDED.captured_at, degraded = EXCLUDED.degraded`,
		ref.Signal, ref.Price.String(), ref.Day, ref.CapturedAt, ref.Degraded)
	if err != nil {
		return fmt.Errorf("save reference: %w", err)
	}
	return nil
}

// GetReferences returns every stored reference.
func (r *PostgresRepository) GetReferences(ctx context.Context) ([]ReferenceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT signal, price, day, captured_at, degraded FROM session_references ORDER BY signal`)
	if err != nil {
		return nil, fmt.Errorf("query references: %w", err)
	}
	defer rows.Close()

	var refs []ReferenceRecord
	for rows.Next() {
		var ref ReferenceRecord
		var price string
		if err := rows.Scan(&ref.Signal, &price, &ref.Day, &ref.CapturedAt, &ref.Degraded); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ref.Price = parseDecimal(price)
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// DeleteReferences clears all references.
func (r *PostgresRepository) DeleteReferences(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM session_references`); err != nil {
		return fmt.Errorf("delete references: %w", err)
	}
	return nil
}

// SaveThrottle records the session day of the last entry on symbol. An empty
// day clears the throttle.
func (r *PostgresRepository) SaveThrottle(ctx context.Context, symbol, day string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO throttles (symbol, day) VALUES ($1, $2) ON CONFLICT (symbol) DO UPDATE SET day = EXCLUDED.day`,
		symbol, day)
	if err != nil {
		return fmt.Errorf("save throttle: %w", err)
	}
	return nil
}

// GetThrottles returns the armed throttles by symbol.
func (r *PostgresRepository) GetThrottles(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT symbol, day FROM throttles WHERE day <> ''`)
	if err != nil {
		return nil, fmt.Errorf("query throttles: %w", err)
	}
	defer rows.Close()

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
func (r *PostgresRepository) SaveState(ctx context.Context, s BotState) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO bot_state (id, last_updated, day, phase, equity, high_water_mark, kill_switch_active, total_trades, winning_trades, losing_trades, total_pl)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			last_updated = EXCLUDED.last_updated,
			day = EXCLUDED.day,
			phase = EXCLUDED.phase,
			equity = EXCLUDED.equity,
			high_water_mark = EXCLUDED.high_water_mark,
			kill_switch_active = EXCLUDED.kill_switch_active,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			total_pl = EXCLUDED.total_pl`,
		utcOrNow(s.LastUpdated), s.Day, s.Phase, s.Equity.String(), s.HighWaterMark.String(), s.KillSwitchActive,
		s.TotalTrades, s.WinningTrades, s.LosingTrades, s.TotalPL.String(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// GetState returns the saved bot state, or nil when none has been saved.
func (r *PostgresRepository) GetState(ctx context.Context) (*BotState, error) {
	var s BotState
	var equity, hwm, totalPL string
	err := r.pool.QueryRow(ctx,
		`SELECT id, last_updated, day, phase, equity, high_water_mark, kill_switch_active, total_trades, winning_trades, losing_trades, total_pl
		FROM bot_state WHERE id = 1`,
	).Scan(&s.ID, &s.LastUpdated, &s.Day, &s.Phase, &equity, &hwm, &s.KillSwitchActive,
		&s.TotalTrades, &s.WinningTrades, &s.LosingTrades, &totalPL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	s.Equity = parseDecimal(equity)
	s.HighWaterMark = parseDecimal(hwm)
	s.TotalPL = parseDecimal(totalPL)
	return &s, nil
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// truncate empties every table. Used by tests.
func (r *PostgresRepository) truncate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx,
		`TRUNCATE equity_snapshots, legs, trades, orders, session_references, throttles, bot_state RESTART IDENTITY`)
	return err
}

var _ Repository = (*PostgresRepository)(nil)
