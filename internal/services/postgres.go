package services

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresProbe checks that the database is reachable and migrated.
// It holds its own small database/sql pool so readiness does not compete
// with the repository's pgx pool.
type PostgresProbe struct {
	BaseProbe
	db *sql.DB
}

// NewPostgresProbe opens a lib/pq connection for readiness checks
func NewPostgresProbe(dsn string) (*PostgresProbe, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &PostgresProbe{
		BaseProbe: BaseProbe{name: "postgres"},
		db:        db,
	}, nil
}

// HealthCheck verifies connectivity and that at least one migration ran
func (p *PostgresProbe) HealthCheck(ctx context.Context) error {
	var applied int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("postgres not ready: %w", err)
	}
	if applied == 0 {
		return fmt.Errorf("postgres not ready: no migrations applied")
	}
	return nil
}

// Close closes the probe connection
func (p *PostgresProbe) Close() error {
	return p.db.Close()
}
