// Package db persists the coordination core's durable state surfaces
// (spec.md §6 "Persisted state": commitments, the commitment blacklist,
// nick self-exclusion, and coinjoin_history) to PostgreSQL, adapted
// directly from the teacher's pgx-backed store.
package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a pgx connection pool exposing the four persisted
// surfaces this core needs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx.
func Connect(connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping failed: %v", err)
	}

	log.Println("Successfully connected to PostgreSQL for coordination core persistence")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema loads and executes the schema.sql file.
func (s *PostgresStore) InitSchema() error {
	schemaBytes, err := os.ReadFile("internal/db/schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %v", err)
	}

	_, err = s.pool.Exec(context.Background(), string(schemaBytes))
	if err != nil {
		return fmt.Errorf("failed to execute schema migrations: %v", err)
	}

	log.Println("coordination core schema initialized")
	return nil
}

// ──────────────────────────────────────────────────────────────────────
// Commitment blacklist (internal/maker.Blacklist) — durable backing for
// cmtdata/commitmentlist.
// ──────────────────────────────────────────────────────────────────────

// Contains reports whether commitment has already been used by some
// taker, per maker.Blacklist.
func (s *PostgresStore) Contains(commitment []byte) bool {
	var exists bool
	err := s.pool.QueryRow(context.Background(),
		`SELECT EXISTS(SELECT 1 FROM commitment_blacklist WHERE commitment = $1)`,
		commitment,
	).Scan(&exists)
	if err != nil {
		log.Printf("db: commitment blacklist lookup failed, failing closed: %v", err)
		return true // a lookup failure must never silently admit a possibly-reused commitment
	}
	return exists
}

// Add appends commitment to the blacklist, idempotently.
func (s *PostgresStore) Add(commitment []byte) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO commitment_blacklist (commitment, first_used_at) VALUES ($1, NOW())
		 ON CONFLICT (commitment) DO NOTHING`,
		commitment,
	)
	return err
}

// ──────────────────────────────────────────────────────────────────────
// Taker's own used-commitment ledger (cmtdata/commitments.json).
// ──────────────────────────────────────────────────────────────────────

// RecordOwnCommitment logs a commitment this process generated for its own
// taker runs, alongside the NUMS index and outpoint it was derived from.
func (s *PostgresStore) RecordOwnCommitment(ctx context.Context, commitment []byte, numsIndex int, outpoint string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO own_commitments (commitment, nums_index, utxo_outpoint, first_used_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (commitment) DO NOTHING`,
		commitment, numsIndex, outpoint,
	)
	return err
}

// ──────────────────────────────────────────────────────────────────────
// Nick self-exclusion state (state/<role>.nick).
// ──────────────────────────────────────────────────────────────────────

// ClaimNick records that nick is in active use by role ("taker" or
// "maker") on this process, so a crash-restart can detect and refuse to
// reuse a nick still mid-session elsewhere.
func (s *PostgresStore) ClaimNick(ctx context.Context, role, nick string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nick_state (role, nick, claimed_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (role) DO UPDATE SET nick = EXCLUDED.nick, claimed_at = EXCLUDED.claimed_at`,
		role, nick,
	)
	return err
}

// ReleaseNick deletes role's claimed nick on clean shutdown.
func (s *PostgresStore) ReleaseNick(ctx context.Context, role string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM nick_state WHERE role = $1`, role)
	return err
}

// ──────────────────────────────────────────────────────────────────────
// coinjoin_history.csv equivalent — append-only run log.
// ──────────────────────────────────────────────────────────────────────

// HistoryEntry is one row of coinjoin_history.
type HistoryEntry struct {
	RunID          string
	Txid           string
	Role           string
	Amount         int64
	Counterparties []string
	Success        bool
	FailureReason  string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RecordRun appends entry to coinjoin_history, or updates its success flag
// if the run_id already exists (entries are first written at broadcast
// time and updated once confirmation is observed, per spec.md §6).
func (s *PostgresStore) RecordRun(ctx context.Context, entry HistoryEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO coinjoin_history
		 (run_id, txid, role, amount, counterparties, success, failure_reason, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (run_id) DO UPDATE SET
		   txid = EXCLUDED.txid, success = EXCLUDED.success,
		   failure_reason = EXCLUDED.failure_reason, finished_at = EXCLUDED.finished_at`,
		entry.RunID, entry.Txid, entry.Role, entry.Amount, entry.Counterparties,
		entry.Success, entry.FailureReason, entry.StartedAt, entry.FinishedAt,
	)
	return err
}

// ListHistory returns the most recent coinjoin_history rows, newest first.
func (s *PostgresStore) ListHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, txid, role, amount, counterparties, success, failure_reason, started_at, finished_at
		 FROM coinjoin_history ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.RunID, &e.Txid, &e.Role, &e.Amount, &e.Counterparties,
			&e.Success, &e.FailureReason, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetPool exposes the connection pool for callers that need direct access.
func (s *PostgresStore) GetPool() *pgxpool.Pool {
	return s.pool
}
