package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// InitDB initializes the PostgreSQL database connection pool
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// CreateSchema sets up the tables backing the sync API.
// In a production environment, use a proper migration tool (e.g., golang-migrate).
func CreateSchema(pool *pgxpool.Pool) error {
	schemaSQL := `
	CREATE TABLE IF NOT EXISTS test_results (
		id VARCHAR(64) PRIMARY KEY, -- client-generated, preserved so uploads are idempotent
		user_id VARCHAR(64) NOT NULL,
		type VARCHAR(10) NOT NULL CHECK (type IN ('block', 'general')),
		block_id VARCHAR(10),
		block_name VARCHAR(255),
		start_time TIMESTAMP WITH TIME ZONE,
		end_time TIMESTAMP WITH TIME ZONE,
		score INT NOT NULL,
		total_questions INT NOT NULL,
		percentage DOUBLE PRECISION NOT NULL,
		duration INT NOT NULL,
		user_answers JSONB NOT NULL,
		questions JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_test_results_user ON test_results (user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS user_stats (
		user_id VARCHAR(64) PRIMARY KEY,
		total_tests INT NOT NULL DEFAULT 0,
		total_correct INT NOT NULL DEFAULT 0,
		total_attempted INT NOT NULL DEFAULT 0,
		average_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_test_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id VARCHAR(36) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		device_id VARCHAR(255) NOT NULL,
		action VARCHAR(20) NOT NULL CHECK (action IN ('upload', 'download', 'sync')),
		entity_type VARCHAR(20) NOT NULL CHECK (entity_type IN ('testResult', 'userStats')),
		entity_id VARCHAR(64),
		status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'success', 'failed')),
		last_synced_at TIMESTAMP WITH TIME ZONE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sync_log_user_device ON sync_log (user_id, device_id, created_at DESC);
	`
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}
	return nil
}

// RecomputeUserStats rebuilds one user's aggregate row from a full scan of
// their results. Called after every upload and by the nightly sweep, so a
// missed update heals on the next pass.
func RecomputeUserStats(pool *pgxpool.Pool, userID string) error {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO user_stats (user_id, total_tests, total_correct, total_attempted, average_percentage, last_test_at, updated_at)
		SELECT
			$1,
			COUNT(id),
			COALESCE(SUM(score), 0),
			COALESCE(SUM(total_questions), 0),
			CASE WHEN COALESCE(SUM(total_questions), 0) > 0
				THEN SUM(score)::float / SUM(total_questions) * 100
				ELSE 0 END,
			MAX(created_at),
			CURRENT_TIMESTAMP
		FROM test_results WHERE user_id = $1
		ON CONFLICT (user_id) DO UPDATE SET
			total_tests = EXCLUDED.total_tests,
			total_correct = EXCLUDED.total_correct,
			total_attempted = EXCLUDED.total_attempted,
			average_percentage = EXCLUDED.average_percentage,
			last_test_at = EXCLUDED.last_test_at,
			updated_at = EXCLUDED.updated_at
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to recompute stats for user %s: %w", userID, err)
	}
	return nil
}

// GetAllUserIDs fetches every user id that owns at least one result.
func GetAllUserIDs(pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(context.Background(), "SELECT DISTINCT user_id FROM test_results")
	if err != nil {
		return nil, fmt.Errorf("failed to query user ids: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}
