package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/models"
)

// ErrSecretNotFound is returned when no version of a secret exists
var ErrSecretNotFound = errors.New("secret not found")

type DB struct {
	conn *sql.DB
}

// New creates a connection pool. No connection is made until first use,
// so an unreachable server shows up as errors from the individual calls.
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn}, nil
}

// Ping checks that the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrationLockID keeps concurrent replicas from racing on DDL
const migrationLockID int64 = 0x52424152 // "RBAR"

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
	name        TEXT NOT NULL,
	version     INTEGER NOT NULL,
	payload     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS prediction_logs (
	id           UUID PRIMARY KEY,
	key_hash     TEXT NOT NULL,
	endpoint     TEXT NOT NULL,
	source       TEXT NOT NULL,
	tier_used    INTEGER NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	price        DOUBLE PRECISION NOT NULL,
	cache_hit    BOOLEAN NOT NULL,
	latency_ms   INTEGER NOT NULL,
	status_code  INTEGER NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_prediction_logs_created_at ON prediction_logs (created_at);
`

// Migrate creates the tables the gateway reads and writes
func (db *DB) Migrate(ctx context.Context) error {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for migration: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquiring migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockID)

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// FetchLatestSecret returns the payload of the highest version of a secret
func (db *DB) FetchLatestSecret(ctx context.Context, name string) ([]byte, error) {
	query := `
		SELECT payload
		FROM secrets
		WHERE name = $1
		ORDER BY version DESC
		LIMIT 1
	`

	var payload string
	err := db.conn.QueryRowContext(ctx, query, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return []byte(payload), nil
}

const insertPredictionLog = `
	INSERT INTO prediction_logs (
		id, key_hash, endpoint, source, tier_used, confidence, price,
		cache_hit, latency_ms, status_code
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func predictionLogArgs(log *models.PredictionLog) []interface{} {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return []interface{}{
		log.ID,
		log.KeyHash,
		log.Endpoint,
		log.Source,
		log.TierUsed,
		log.Confidence,
		log.Price,
		log.CacheHit,
		log.LatencyMs,
		log.StatusCode,
	}
}

// LogPrediction records a served prediction
func (db *DB) LogPrediction(ctx context.Context, log *models.PredictionLog) error {
	if _, err := db.conn.ExecContext(ctx, insertPredictionLog, predictionLogArgs(log)...); err != nil {
		return fmt.Errorf("insert prediction log: %w", err)
	}
	return nil
}

// LogPredictions records the rows of a batch in one transaction
func (db *DB) LogPredictions(ctx context.Context, logs []*models.PredictionLog) error {
	if len(logs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin prediction log batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertPredictionLog)
	if err != nil {
		return fmt.Errorf("prepare prediction log batch: %w", err)
	}
	defer stmt.Close()

	for _, log := range logs {
		if _, err := stmt.ExecContext(ctx, predictionLogArgs(log)...); err != nil {
			return fmt.Errorf("insert prediction log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit prediction log batch: %w", err)
	}
	return nil
}

// TierCount is the number of live predictions served by one tier
type TierCount struct {
	TierUsed int
	Count    int64
}

// TierDistribution returns how many cascade predictions each tier served since a point in time
func (db *DB) TierDistribution(ctx context.Context, since time.Time) ([]TierCount, error) {
	query := `
		SELECT tier_used, COUNT(*)
		FROM prediction_logs
		WHERE source = 'cascade' AND created_at >= $1
		GROUP BY tier_used
		ORDER BY tier_used
	`

	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var out []TierCount
	for rows.Next() {
		var tc TierCount
		if err := rows.Scan(&tc.TierUsed, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
