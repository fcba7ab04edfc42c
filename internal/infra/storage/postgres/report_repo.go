package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/resilio/internal/core/domain"
	"github.com/vietddude/resilio/internal/infra/storage"
)

// ReportRepo implements storage.ReportRepository using PostgreSQL.
type ReportRepo struct {
	db *DB
}

var _ storage.ReportRepository = (*ReportRepo)(nil)

// NewReportRepo creates a new PostgreSQL report repository.
func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

type reportRow struct {
	ID               string         `db:"id"`
	Kind             string         `db:"kind"`
	Severity         string         `db:"severity"`
	Message          string         `db:"message"`
	GroupKey         string         `db:"group_key"`
	OriginInstanceID string         `db:"origin_instance_id"`
	RetryCount       int            `db:"retry_count"`
	Context          sql.NullString `db:"context"`
	OccurredAt       time.Time      `db:"occurred_at"`
	ReportedAt       time.Time      `db:"reported_at"`
}

func toRow(rec domain.ErrorRecord) (reportRow, error) {
	row := reportRow{
		ID:               rec.ID,
		Kind:             string(rec.Kind),
		Severity:         rec.Severity.String(),
		Message:          rec.Message,
		GroupKey:         rec.GroupKey,
		OriginInstanceID: rec.OriginInstanceID,
		RetryCount:       rec.RetryCount,
		OccurredAt:       rec.Timestamp,
	}
	if row.GroupKey == "" {
		row.GroupKey = domain.GroupKey(rec.Kind, rec.Message)
	}
	if len(rec.Context) > 0 {
		data, err := json.Marshal(rec.Context)
		if err != nil {
			return reportRow{}, fmt.Errorf("failed to encode context: %w", err)
		}
		row.Context = sql.NullString{String: string(data), Valid: true}
	}
	return row, nil
}

func (r reportRow) toStored() (storage.StoredReport, error) {
	severity, err := domain.ParseSeverity(r.Severity)
	if err != nil {
		return storage.StoredReport{}, err
	}
	rec := domain.ErrorRecord{
		ID:               r.ID,
		Kind:             domain.ErrorKind(r.Kind),
		Severity:         severity,
		Message:          r.Message,
		GroupKey:         r.GroupKey,
		OriginInstanceID: r.OriginInstanceID,
		RetryCount:       r.RetryCount,
		Timestamp:        r.OccurredAt,
	}
	if r.Context.Valid && r.Context.String != "" {
		if err := json.Unmarshal([]byte(r.Context.String), &rec.Context); err != nil {
			return storage.StoredReport{}, fmt.Errorf("failed to decode context: %w", err)
		}
	}
	return storage.StoredReport{Record: rec, ReportedAt: r.ReportedAt}, nil
}

// Save saves a forwarded record.
func (r *ReportRepo) Save(ctx context.Context, rec domain.ErrorRecord) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO error_reports
			(id, kind, severity, message, group_key, origin_instance_id, retry_count, context, occurred_at)
		VALUES
			(:id, :kind, :severity, :message, :group_key, :origin_instance_id, :retry_count,
			 CAST(:context AS JSONB), :occurred_at)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// Get retrieves a report by record id.
func (r *ReportRepo) Get(ctx context.Context, id string) (*storage.StoredReport, error) {
	var row reportRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, kind, severity, message, group_key, origin_instance_id, retry_count,
		       context::TEXT AS context, occurred_at, reported_at
		FROM error_reports WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	stored, err := row.toStored()
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Recent returns up to limit reports, newest first.
func (r *ReportRepo) Recent(ctx context.Context, limit int) ([]storage.StoredReport, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []reportRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, kind, severity, message, group_key, origin_instance_id, retry_count,
		       context::TEXT AS context, occurred_at, reported_at
		FROM error_reports
		ORDER BY reported_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	out := make([]storage.StoredReport, 0, len(rows))
	for _, row := range rows {
		stored, err := row.toStored()
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

// CountByKind aggregates stored reports by error kind.
func (r *ReportRepo) CountByKind(ctx context.Context) ([]storage.KindCount, error) {
	var rows []struct {
		Kind  string `db:"kind"`
		Count int    `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `
		SELECT kind, COUNT(*) AS count FROM error_reports GROUP BY kind ORDER BY kind
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}

	out := make([]storage.KindCount, 0, len(rows))
	for _, row := range rows {
		out = append(out, storage.KindCount{Kind: domain.ErrorKind(row.Kind), Count: row.Count})
	}
	return out, nil
}

// DeleteOlderThan removes reports stored before cutoff.
func (r *ReportRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM error_reports WHERE reported_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
