package postgres

import (
	"context"

	"github.com/chrisdamba/trafficdatasim/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultRecentAlerts = 100

type AlertRepository struct {
	pool *pgxpool.Pool
}

func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{pool: pool}
}

func (r *AlertRepository) EnsureSchema(ctx context.Context) error {
	query := `
        CREATE TABLE IF NOT EXISTS traffic_alerts (
            id BIGSERIAL PRIMARY KEY,
            alert_timestamp TIMESTAMPTZ NOT NULL DEFAULT now(),
            location_name TEXT NOT NULL,
            alert_type TEXT NOT NULL,
            severity TEXT NOT NULL,
            details_json TEXT NOT NULL
        )
    `
	_, err := r.pool.Exec(ctx, query)
	return err
}

// Create inserts the alert and returns the generated id. A zero AlertTimestamp falls
// back to the database clock.
func (r *AlertRepository) Create(ctx context.Context, alert *models.StoredAlert) (int64, error) {
	query := `
        INSERT INTO traffic_alerts (alert_timestamp, location_name, alert_type, severity, details_json)
        VALUES (COALESCE($1::timestamptz, now()), $2, $3, $4, $5)
        RETURNING id, alert_timestamp
    `

	var timestamp any
	if !alert.AlertTimestamp.IsZero() {
		timestamp = alert.AlertTimestamp
	}

	err := r.pool.QueryRow(ctx, query,
		timestamp,
		alert.LocationName,
		alert.AlertType,
		alert.Severity,
		alert.DetailsJSON,
	).Scan(&alert.ID, &alert.AlertTimestamp)
	if err != nil {
		return 0, err
	}
	return alert.ID, nil
}

// GetRecent lists alerts newest first. A non-positive limit returns the latest 100.
func (r *AlertRepository) GetRecent(ctx context.Context, limit int) ([]*models.StoredAlert, error) {
	if limit <= 0 {
		limit = defaultRecentAlerts
	}
	query := `
        SELECT id, alert_timestamp, location_name, alert_type, severity, details_json
        FROM traffic_alerts
        ORDER BY alert_timestamp DESC, id DESC
        LIMIT $1
    `
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*models.StoredAlert
	for rows.Next() {
		alert := &models.StoredAlert{}
		if err := rows.Scan(
			&alert.ID,
			&alert.AlertTimestamp,
			&alert.LocationName,
			&alert.AlertType,
			&alert.Severity,
			&alert.DetailsJSON,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (r *AlertRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM traffic_alerts").Scan(&count)
	return count, err
}

func (r *AlertRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM traffic_alerts")
	return err
}
