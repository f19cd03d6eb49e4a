package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hive-corporation/guardybot/internal/core/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
	CREATE TABLE IF NOT EXISTS deliveries (
		id           UUID PRIMARY KEY,
		finding_id   TEXT NOT NULL,
		finding_type TEXT NOT NULL,
		severity     DOUBLE PRECISION NOT NULL,
		tier         TEXT NOT NULL,
		recognized   BOOLEAN NOT NULL,
		account_id   TEXT NOT NULL,
		region       TEXT NOT NULL,
		count        INTEGER NOT NULL,
		notifier     TEXT NOT NULL,
		status       TEXT NOT NULL,
		detail       TEXT NOT NULL DEFAULT '',
		processed_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS deliveries_processed_at_idx ON deliveries (processed_at DESC);
	CREATE INDEX IF NOT EXISTS deliveries_finding_id_idx ON deliveries (finding_id);
`

const selectColumns = `
	SELECT id, finding_id, finding_type, severity, tier, recognized, account_id,
	       region, count, notifier, status, detail, processed_at
	FROM deliveries
`

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Connect opens a pool and makes sure the deliveries table exists.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if err := NewPostgresRepository(pool).EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create deliveries schema: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, d domain.Delivery) error {
	query := `
		INSERT INTO deliveries (id, finding_id, finding_type, severity, tier, recognized,
			account_id, region, count, notifier, status, detail, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query,
		d.ID,
		d.FindingID,
		d.FindingType,
		d.Severity,
		string(d.Tier),
		d.Recognized,
		d.AccountID,
		d.Region,
		d.Count,
		d.Notifier,
		string(d.Status),
		d.Detail,
		d.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", d.ID, err)
	}
	return nil
}

// SaveBatch stores several deliveries in one round trip.
func (r *PostgresRepository) SaveBatch(ctx context.Context, deliveries []domain.Delivery) error {
	batch := &pgx.Batch{}

	query := `
		INSERT INTO deliveries (id, finding_id, finding_type, severity, tier, recognized,
			account_id, region, count, notifier, status, detail, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`

	for _, d := range deliveries {
		batch.Queue(query,
			d.ID, d.FindingID, d.FindingType, d.Severity, string(d.Tier), d.Recognized,
			d.AccountID, d.Region, d.Count, d.Notifier, string(d.Status), d.Detail, d.ProcessedAt,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for range deliveries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to execute batch: %w", err)
		}
	}

	return nil
}

func (r *PostgresRepository) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Delivery, error) {
	query := selectColumns + `
		WHERE processed_at >= $1
		ORDER BY processed_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries since %v: %w", since, err)
	}
	return scanDeliveries(rows)
}

func (r *PostgresRepository) FindByFindingID(ctx context.Context, findingID string) ([]domain.Delivery, error) {
	query := selectColumns + `
		WHERE finding_id = $1
		ORDER BY processed_at DESC
	`

	rows, err := r.db.Query(ctx, query, findingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	return scanDeliveries(rows)
}

func scanDeliveries(rows pgx.Rows) ([]domain.Delivery, error) {
	defer rows.Close()

	var deliveries []domain.Delivery

	for rows.Next() {
		var d domain.Delivery
		var tier, status string
		err := rows.Scan(
			&d.ID,
			&d.FindingID,
			&d.FindingType,
			&d.Severity,
			&tier,
			&d.Recognized,
			&d.AccountID,
			&d.Region,
			&d.Count,
			&d.Notifier,
			&status,
			&d.Detail,
			&d.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		d.Tier = domain.ColorTier(tier)
		d.Status = domain.DeliveryStatus(status)
		deliveries = append(deliveries, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return deliveries, nil
}
