package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertCycleSampleSQL = `INSERT INTO cycle_samples (
        id,
        started_at,
        route,
        input_amount,
        forward_amount,
        forward_label,
        return_amount,
        return_label,
        profit,
        profit_pct,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
    )
    ON CONFLICT (id) DO NOTHING;`

	sampleColumns = `id::text,
        started_at,
        route,
        input_amount::text,
        forward_amount::text,
        forward_label,
        return_amount::text,
        return_label,
        profit::text,
        profit_pct::text,
        status,
        error,
        created_at`

	listSamplesBetweenSQL = `SELECT ` + sampleColumns + `
    FROM cycle_samples
    WHERE started_at >= $1
      AND started_at < $2
      AND ($3::text = '' OR route = $3)
    ORDER BY started_at;`

	listRecentSamplesSQL = `SELECT ` + sampleColumns + `
    FROM cycle_samples
    ORDER BY started_at DESC
    LIMIT $1;`

	countSamplesSQL = `SELECT COUNT(*) FROM cycle_samples;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_id,
        route,
        forward_label,
        return_label,
        profit,
        threshold,
        severity,
        delivered
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_id::text,
        route,
        forward_label,
        return_label,
        profit::text,
        threshold::text,
        severity,
        delivered,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// CycleSampleStore defines operations for cycle sample persistence.
type CycleSampleStore interface {
	InsertCycleSample(ctx context.Context, sample CycleSample) error
	ListSamplesBetween(ctx context.Context, route string, from, to time.Time) ([]CycleSample, error)
	ListRecentSamples(ctx context.Context, limit int) ([]CycleSample, error)
	CountSamples(ctx context.Context) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to cycle samples and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Pool exposes the underlying pool for schema management.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertCycleSample persists a cycle sample. Re-inserting the same id is a no-op.
func (s *Store) InsertCycleSample(ctx context.Context, sample CycleSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if sample.Error != nil {
		errMsg = *sample.Error
	}
	ok := sample.Status == StatusOK

	_, execErr := pool.Exec(ctx, insertCycleSampleSQL,
		sample.ID.String(),
		sample.StartedAt,
		sample.Route,
		sample.Input.String(),
		nullableDecimal(sample.ForwardAmount, ok),
		sample.ForwardLabel,
		nullableDecimal(sample.ReturnAmount, ok),
		sample.ReturnLabel,
		nullableDecimal(sample.Profit, ok),
		nullableDecimal(sample.ProfitPct, ok),
		sample.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert cycle sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists samples within a time window; an empty route matches all routes.
func (s *Store) ListSamplesBetween(ctx context.Context, route string, from, to time.Time) ([]CycleSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, from, to, route)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, 0)
}

// ListRecentSamples lists the most recent samples, newest first.
func (s *Store) ListRecentSamples(ctx context.Context, limit int) ([]CycleSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSamplesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent samples: %w", queryErr)
	}
	defer rows.Close()

	return collectSamples(rows, limit)
}

// CountSamples counts stored samples.
func (s *Store) CountSamples(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countSamplesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count samples: %w", scanErr)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleID.String(),
		alert.Route,
		alert.ForwardLabel,
		alert.ReturnLabel,
		alert.Profit.String(),
		alert.Threshold.String(),
		alert.Severity,
		alert.Delivered,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                     AlertRecord
			cycleID                 string
			profitStr, thresholdStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&cycleID,
			&rec.Route,
			&rec.ForwardLabel,
			&rec.ReturnLabel,
			&profitStr,
			&thresholdStr,
			&rec.Severity,
			&rec.Delivered,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.CycleID, convErr = uuid.Parse(cycleID); convErr != nil {
			return nil, fmt.Errorf("parse cycle id: %w", convErr)
		}
		if rec.Profit, convErr = decimal.NewFromString(profitStr); convErr != nil {
			return nil, fmt.Errorf("parse profit: %w", convErr)
		}
		if rec.Threshold, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse threshold: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many rows were removed.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]CycleSample, error) {
	samples := make([]CycleSample, 0, capacity)
	for rows.Next() {
		sample, scanErr := scanCycleSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanCycleSample(rows pgx.Rows) (CycleSample, error) {
	var (
		id        string
		startedAt time.Time
		route     string
		inputStr  string
		forward   sql.NullString
		fwdLabel  string
		back      sql.NullString
		retLabel  string
		profit    sql.NullString
		profitPct sql.NullString
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&id,
		&startedAt,
		&route,
		&inputStr,
		&forward,
		&fwdLabel,
		&back,
		&retLabel,
		&profit,
		&profitPct,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return CycleSample{}, err
	}

	sample := CycleSample{
		StartedAt:    startedAt,
		Route:        route,
		ForwardLabel: fwdLabel,
		ReturnLabel:  retLabel,
		Status:       status,
		CreatedAt:    createdAt,
	}

	var err error
	if sample.ID, err = uuid.Parse(id); err != nil {
		return CycleSample{}, fmt.Errorf("parse sample id: %w", err)
	}
	if sample.Input, err = decimal.NewFromString(inputStr); err != nil {
		return CycleSample{}, fmt.Errorf("parse input: %w", err)
	}
	for _, field := range []struct {
		name string
		raw  sql.NullString
		dst  *decimal.Decimal
	}{
		{"forward amount", forward, &sample.ForwardAmount},
		{"return amount", back, &sample.ReturnAmount},
		{"profit", profit, &sample.Profit},
		{"profit pct", profitPct, &sample.ProfitPct},
	} {
		if !field.raw.Valid {
			continue
		}
		if *field.dst, err = decimal.NewFromString(field.raw.String); err != nil {
			return CycleSample{}, fmt.Errorf("parse %s: %w", field.name, err)
		}
	}

	if errMsg.Valid {
		msg := errMsg.String
		sample.Error = &msg
	}

	return sample, nil
}

// nullableDecimal stores amounts of failed cycles as NULL.
func nullableDecimal(v decimal.Decimal, valid bool) interface{} {
	if !valid {
		return nil
	}
	return v.String()
}

var (
	_ CycleSampleStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
