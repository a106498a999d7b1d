package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return domain.Transient(fmt.Errorf("ensure schema: %w", err))
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// scanDec parses a NUMERIC read back as TEXT. A row that fails to parse
// is corrupt or mis-typed, never a value to default.
func scanDec(dst *decimal.Decimal, s string) error {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Transient(fmt.Errorf("parse numeric %q: %w", s, err))
	}
	*dst = dec
	return nil
}

// --- Markets ---

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, r *model.Reserves) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transient(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, question, status, yes_outcome_id, no_outcome_id, closes_at, winning_outcome_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Question, m.Status, m.YesOutcomeID, m.NoOutcomeID,
		m.ClosesAt, m.WinningOutcomeID, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("market %s already exists", m.ID)
		}
		return domain.Transient(err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO market_reserves (market_id, yes_shares, no_shares, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)`,
		r.MarketID, r.Yes.String(), r.No.String(), r.UpdatedAt,
	)
	if err != nil {
		return domain.Transient(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transient(err)
	}
	return nil
}

const marketColumns = `id, question, status, yes_outcome_id, no_outcome_id, closes_at, winning_outcome_id, created_at, updated_at`

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	err := row.Scan(&m.ID, &m.Question, &m.Status, &m.YesOutcomeID, &m.NoOutcomeID,
		&m.ClosesAt, &m.WinningOutcomeID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("market not found")
		}
		return nil, domain.Transient(err)
	}
	return &m, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
}

func (s *PostgresStore) ListMarkets(ctx context.Context, status string) ([]model.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Question, &m.Status, &m.YesOutcomeID, &m.NoOutcomeID,
			&m.ClosesAt, &m.WinningOutcomeID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, domain.Transient(err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketStatus(ctx context.Context, id, from, to string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE markets SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC(),
	)
	if err != nil {
		return domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.InvalidStatef("market is not %s", from)
	}
	return nil
}

// --- Reserves ---

func (s *PostgresStore) GetReserves(ctx context.Context, marketID string) (*model.Reserves, error) {
	var r model.Reserves
	var yes, no string
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, yes_shares::TEXT, no_shares::TEXT, updated_at
		 FROM market_reserves WHERE market_id = $1`, marketID).
		Scan(&r.MarketID, &yes, &no, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("reserves not found for market")
		}
		return nil, domain.Transient(err)
	}
	if err := scanDec(&r.Yes, yes); err != nil {
		return nil, err
	}
	if err := scanDec(&r.No, no); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) UpdateReserves(ctx context.Context, marketID string, oldYes, oldNo, newYes, newNo decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_reserves
		 SET yes_shares = $4::NUMERIC, no_shares = $5::NUMERIC, updated_at = $6
		 WHERE market_id = $1 AND yes_shares = $2::NUMERIC AND no_shares = $3::NUMERIC`,
		marketID, oldYes.String(), oldNo.String(), newYes.String(), newNo.String(), time.Now().UTC(),
	)
	if err != nil {
		return domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflictf("reserves changed concurrently")
	}
	return nil
}

// --- Positions ---

const positionColumns = `id, user_id, market_id, outcome_id,
	quantity::TEXT, token_quantity::TEXT, avg_price::TEXT, realized_pnl::TEXT,
	settled_at, created_at, updated_at`

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, tokenQty, avg, pnl string
	err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &p.OutcomeID,
		&qty, &tokenQty, &avg, &pnl,
		&p.SettledAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("position not found")
		}
		return nil, domain.Transient(err)
	}
	if err := fillPositionDecimals(&p, qty, tokenQty, avg, pnl); err != nil {
		return nil, err
	}
	return &p, nil
}

func fillPositionDecimals(p *model.Position, qty, tokenQty, avg, pnl string) error {
	if err := scanDec(&p.Quantity, qty); err != nil {
		return err
	}
	if err := scanDec(&p.TokenQuantity, tokenQty); err != nil {
		return err
	}
	if err := scanDec(&p.AvgPrice, avg); err != nil {
		return err
	}
	return scanDec(&p.RealizedPnL, pnl)
}

func (s *PostgresStore) GetPosition(ctx context.Context, userID, marketID, outcomeID string) (*model.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome_id = $3`,
		userID, marketID, outcomeID))
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, user_id, market_id, outcome_id, quantity, token_quantity, avg_price, realized_pnl, settled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)
		 ON CONFLICT (user_id, market_id, outcome_id) DO UPDATE SET
		   quantity = EXCLUDED.quantity,
		   token_quantity = EXCLUDED.token_quantity,
		   avg_price = EXCLUDED.avg_price,
		   realized_pnl = EXCLUDED.realized_pnl,
		   settled_at = EXCLUDED.settled_at,
		   updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.MarketID, p.OutcomeID,
		p.Quantity.String(), p.TokenQuantity.String(), p.AvgPrice.String(), p.RealizedPnL.String(),
		p.SettledAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return domain.Transient(err)
	}
	return nil
}

func (s *PostgresStore) ListPositionsByMarket(ctx context.Context, marketID, afterID string, limit int) ([]model.Position, string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND id > $2
		 ORDER BY id LIMIT $3`,
		marketID, afterID, limit)
	if err != nil {
		return nil, "", domain.Transient(err)
	}
	defer rows.Close()

	positions, err := collectPositions(rows)
	if err != nil {
		return nil, "", err
	}

	next := ""
	if len(positions) == limit {
		next = positions[len(positions)-1].ID
	}
	return positions, next, nil
}

func (s *PostgresStore) ListPositionsByUser(ctx context.Context, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var qty, tokenQty, avg, pnl string
		if err := rows.Scan(&p.ID, &p.UserID, &p.MarketID, &p.OutcomeID,
			&qty, &tokenQty, &avg, &pnl,
			&p.SettledAt, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, domain.Transient(err)
		}
		if err := fillPositionDecimals(&p, qty, tokenQty, avg, pnl); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient(err)
	}
	return positions, nil
}

func (s *PostgresStore) LiquidatePositions(ctx context.Context, marketID, losingOutcomeID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET realized_pnl = realized_pnl - quantity * avg_price,
		     quantity = 0,
		     token_quantity = 0,
		     settled_at = $3,
		     updated_at = $3
		 WHERE market_id = $1 AND outcome_id = $2
		   AND settled_at IS NULL
		   AND (quantity > 0 OR token_quantity > 0)`,
		marketID, losingOutcomeID, time.Now().UTC(),
	)
	if err != nil {
		return 0, domain.Transient(err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ApplySettlementCredits(ctx context.Context, credits []model.SettlementCredit) ([]model.PointsEntry, error) {
	var applied []model.PointsEntry
	for _, c := range credits {
		entry, err := s.applyCredit(ctx, c)
		if err != nil {
			// Record-level failure: everything applied so far stands and a
			// settlement re-run picks up the remainder.
			return applied, err
		}
		if entry != nil {
			applied = append(applied, *entry)
		}
	}
	return applied, nil
}

// applyCredit marks one position settled and appends its payout ledger
// entry in a single transaction. Already-settled positions are skipped.
func (s *PostgresStore) applyCredit(ctx context.Context, c model.SettlementCredit) (*model.PointsEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, c.UserID); err != nil {
		return nil, domain.Transient(err)
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE positions
		 SET realized_pnl = realized_pnl + ($2::NUMERIC - quantity * avg_price),
		     settled_at = $3,
		     updated_at = $3
		 WHERE id = $1 AND settled_at IS NULL`,
		c.PositionID, c.Payout.String(), now,
	)
	if err != nil {
		return nil, domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil // already paid, skip
	}

	var entry *model.PointsEntry
	if c.Payout.IsPositive() {
		entry, err = appendEntryTx(ctx, tx, &model.PointsEntry{
			UserID:  c.UserID,
			Delta:   c.Payout,
			Reason:  model.ReasonResolutionWin,
			RefType: model.RefPosition,
			RefID:   c.PositionID,
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Transient(err)
	}
	return entry, nil
}

// --- Points ledger ---

func (s *PostgresStore) GetPointsBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance_after::TEXT FROM points_ledger
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, userID).
		Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, domain.Transient(err)
	}
	var out decimal.Decimal
	if err := scanDec(&out, balance); err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

func (s *PostgresStore) AppendPointsEntry(ctx context.Context, e *model.PointsEntry) (*model.PointsEntry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer tx.Rollback(ctx)

	// Serialize concurrent appends for the same user.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, e.UserID); err != nil {
		return nil, domain.Transient(err)
	}

	entry, err := appendEntryTx(ctx, tx, e)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, domain.Transient(err)
	}
	return entry, nil
}

func (s *PostgresStore) ListPointsEntries(ctx context.Context, userID string, limit int) ([]model.PointsEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, delta::TEXT, balance_after::TEXT, reason, ref_type, ref_id, created_at
		 FROM points_ledger
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, domain.Transient(err)
	}
	defer rows.Close()

	var entries []model.PointsEntry
	for rows.Next() {
		var e model.PointsEntry
		var delta, after string
		if err := rows.Scan(&e.ID, &e.UserID, &delta, &after,
			&e.Reason, &e.RefType, &e.RefID, &e.CreatedAt); err != nil {
			return nil, domain.Transient(err)
		}
		if err := scanDec(&e.Delta, delta); err != nil {
			return nil, err
		}
		if err := scanDec(&e.BalanceAfter, after); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Transient(err)
	}
	return entries, nil
}

// appendEntryTx computes the running balance and inserts the entry inside
// an existing transaction. The caller must already hold the per-user
// advisory lock.
func appendEntryTx(ctx context.Context, tx pgx.Tx, e *model.PointsEntry) (*model.PointsEntry, error) {
	var balStr string
	err := tx.QueryRow(ctx,
		`SELECT balance_after::TEXT FROM points_ledger
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, e.UserID).
		Scan(&balStr)
	balance := decimal.Zero
	if err == nil {
		if serr := scanDec(&balance, balStr); serr != nil {
			return nil, serr
		}
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Transient(err)
	}

	after := balance.Add(e.Delta)
	if e.Delta.IsNegative() && after.IsNegative() {
		return nil, domain.ErrInsufficientBalance
	}

	out := *e
	if out.ID == "" {
		out.ID = newLedgerID()
	}
	out.BalanceAfter = after
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO points_ledger (id, user_id, delta, balance_after, reason, ref_type, ref_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6, $7, $8)`,
		out.ID, out.UserID, out.Delta.String(), out.BalanceAfter.String(),
		out.Reason, out.RefType, out.RefID, out.CreatedAt,
	)
	if err != nil {
		return nil, domain.Transient(err)
	}
	return &out, nil
}

// --- Trades ---

const tradeColumns = `id, user_id, market_id, outcome_id, side,
	price::TEXT, points_stake::TEXT, token_stake::TEXT, quantity::TEXT, pool_shares::TEXT,
	status, created_at, updated_at`

func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var price, points, tokens, qty, pool string
	err := row.Scan(&t.ID, &t.UserID, &t.MarketID, &t.OutcomeID, &t.Side,
		&price, &points, &tokens, &qty, &pool,
		&t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("trade not found")
		}
		return nil, domain.Transient(err)
	}
	if err := scanDec(&t.Price, price); err != nil {
		return nil, err
	}
	if err := scanDec(&t.PointsStake, points); err != nil {
		return nil, err
	}
	if err := scanDec(&t.TokenStake, tokens); err != nil {
		return nil, err
	}
	if err := scanDec(&t.Quantity, qty); err != nil {
		return nil, err
	}
	if err := scanDec(&t.PoolShares, pool); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, user_id, market_id, outcome_id, side, price, points_stake, token_stake, quantity, pool_shares, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12, $13)`,
		t.ID, t.UserID, t.MarketID, t.OutcomeID, t.Side,
		t.Price.String(), t.PointsStake.String(), t.TokenStake.String(),
		t.Quantity.String(), t.PoolShares.String(),
		t.Status, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflictf("trade %s already exists", t.ID)
		}
		return domain.Transient(err)
	}
	return nil
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	return scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
}

func (s *PostgresStore) GetLastFilledTrade(ctx context.Context, marketID string) (*model.Trade, error) {
	return scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE market_id = $1 AND status = 'filled'
		 ORDER BY updated_at DESC, id DESC LIMIT 1`, marketID))
}

func (s *PostgresStore) MarkTradeFilled(ctx context.Context, id string, quantity, poolShares decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades
		 SET status = 'filled', quantity = $2::NUMERIC, pool_shares = $3::NUMERIC, updated_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, quantity.String(), poolShares.String(), time.Now().UTC(),
	)
	if err != nil {
		return domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.InvalidStatef("trade is not pending")
	}
	return nil
}

func (s *PostgresStore) UpdateTradeStatus(ctx context.Context, id, from, to string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trades SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC(),
	)
	if err != nil {
		return domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.InvalidStatef("trade is not %s", from)
	}
	return nil
}

// --- Resolution ---

func (s *PostgresStore) CreateResolution(ctx context.Context, r *model.Resolution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Transient(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO resolutions (id, market_id, winning_outcome_id, source, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.MarketID, r.WinningOutcomeID, r.Source, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyResolved
		}
		return domain.Transient(err)
	}

	// The resolution record and the market flip commit together: neither
	// fact can exist without the other.
	tag, err := tx.Exec(ctx,
		`UPDATE markets
		 SET status = 'resolved', winning_outcome_id = $2, updated_at = $3
		 WHERE id = $1 AND status IN ('closed', 'disputed')`,
		r.MarketID, r.WinningOutcomeID, time.Now().UTC(),
	)
	if err != nil {
		return domain.Transient(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.InvalidStatef("market is not closed or disputed")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transient(err)
	}
	return nil
}

func (s *PostgresStore) GetResolution(ctx context.Context, marketID string) (*model.Resolution, error) {
	var r model.Resolution
	err := s.pool.QueryRow(ctx,
		`SELECT id, market_id, winning_outcome_id, source, created_at
		 FROM resolutions WHERE market_id = $1`, marketID).
		Scan(&r.ID, &r.MarketID, &r.WinningOutcomeID, &r.Source, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("resolution not found")
		}
		return nil, domain.Transient(err)
	}
	return &r, nil
}
