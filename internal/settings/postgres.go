package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ducminhle1904/virtual-autotrader/internal/portfolio"
	"github.com/ducminhle1904/virtual-autotrader/internal/strategy"
)

const schemaSQL = `
create table if not exists autotrader_settings (
	user_id                text primary key,
	virtual_balance        double precision not null,
	trading_strategy       text not null,
	auto_trading_enabled   boolean not null default false,
	super_brain_monitoring boolean not null default false,
	state                  jsonb not null default '{}'::jsonb,
	updated_at             timestamptz not null default now()
)`

// ledgerState is the jsonb column: everything that is not a scalar setting
type ledgerState struct {
	Account       portfolio.Account    `json:"account"`
	OpenPositions []portfolio.Position `json:"open_positions"`
}

// NewPool opens and pings a pgx pool
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	config.MaxConns = 4
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps one settings row per user
type PostgresStore struct {
	pool     *pgxpool.Pool
	userID   string
	defaults Settings
}

// NewPostgresStore creates a store for userID. Call EnsureSchema once before use.
func NewPostgresStore(pool *pgxpool.Pool, userID string, defaults Settings) *PostgresStore {
	return &PostgresStore{pool: pool, userID: userID, defaults: defaults.Clone()}
}

// EnsureSchema creates the settings table if it does not exist
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

// Load returns the user's row, or defaults when none exists yet
func (p *PostgresStore) Load(ctx context.Context) (*Settings, error) {
	s, err := p.selectRow(ctx, p.pool, false)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update applies patch inside a transaction holding the row lock
func (p *PostgresStore) Update(ctx context.Context, patch Patch) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := p.selectRow(ctx, tx, true)
	if err != nil {
		return err
	}
	next := current.Apply(patch, time.Now().UTC())

	state, err := json.Marshal(ledgerState{Account: next.Account, OpenPositions: next.OpenPositions})
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}

	_, err = tx.Exec(ctx, `
		insert into autotrader_settings(
			user_id, virtual_balance, trading_strategy,
			auto_trading_enabled, super_brain_monitoring, state, updated_at
		) values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (user_id) do update set
			virtual_balance = excluded.virtual_balance,
			trading_strategy = excluded.trading_strategy,
			auto_trading_enabled = excluded.auto_trading_enabled,
			super_brain_monitoring = excluded.super_brain_monitoring,
			state = excluded.state,
			updated_at = excluded.updated_at
	`,
		p.userID,
		next.VirtualBalance,
		next.TradingStrategy.String(),
		next.AutoTradingEnabled,
		next.SuperBrainMonitoring,
		state,
		next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit settings: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresStore) selectRow(ctx context.Context, q querier, forUpdate bool) (Settings, error) {
	query := `
		select virtual_balance, trading_strategy, auto_trading_enabled,
			super_brain_monitoring, state, updated_at
		from autotrader_settings
		where user_id = $1`
	if forUpdate {
		query += " for update"
	}

	var (
		s        Settings
		kindName string
		rawState []byte
	)
	err := q.QueryRow(ctx, query, p.userID).Scan(
		&s.VirtualBalance,
		&kindName,
		&s.AutoTradingEnabled,
		&s.SuperBrainMonitoring,
		&rawState,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return p.defaults.Clone(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("select settings: %w", err)
	}

	kind, err := strategy.ParseKind(kindName)
	if err != nil {
		return Settings{}, err
	}
	s.TradingStrategy = kind

	var state ledgerState
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &state); err != nil {
			return Settings{}, fmt.Errorf("unmarshal ledger state: %w", err)
		}
	}
	s.Account = state.Account
	s.Account.Balance = s.VirtualBalance
	s.OpenPositions = state.OpenPositions
	if s.OpenPositions == nil {
		s.OpenPositions = []portfolio.Position{}
	}
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}
