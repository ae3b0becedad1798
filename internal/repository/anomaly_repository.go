package repository

import (
	"context"

	"docsentry/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var anomalyColumns = []string{
	"id", "paperless_doc_id", "anomaly_type", "severity",
	"description", "amount", "detected_at", "resolved",
}

// AnomalyFilter narrows List results. Nil fields match everything.
type AnomalyFilter struct {
	Type     *models.AnomalyType
	Severity *models.Severity
	Resolved *bool
	Limit    int
	Offset   int
}

func (f AnomalyFilter) apply(query squirrel.SelectBuilder) squirrel.SelectBuilder {
	if f.Type != nil {
		query = query.Where(squirrel.Eq{"anomaly_type": *f.Type})
	}
	if f.Severity != nil {
		query = query.Where(squirrel.Eq{"severity": *f.Severity})
	}
	if f.Resolved != nil {
		query = query.Where(squirrel.Eq{"resolved": *f.Resolved})
	}
	return query
}

type AnomalyRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewAnomalyRepository(db *pgxpool.Pool, logger *zap.Logger) *AnomalyRepository {
	return &AnomalyRepository{
		db:     db,
		logger: logger,
	}
}

// ListByDocument returns the anomaly rows for one document, oldest first.
func (r *AnomalyRepository) ListByDocument(ctx context.Context, paperlessDocID int64) ([]*models.AnomalyLog, error) {
	sql, args, err := squirrel.Select(anomalyColumns...).
		From("anomaly_logs").
		Where(squirrel.Eq{"paperless_doc_id": paperlessDocID}).
		OrderBy("id ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryLogs(ctx, sql, args)
}

// List returns anomaly rows matching the filter, newest detection first,
// together with the unpaginated match count.
func (r *AnomalyRepository) List(ctx context.Context, filter AnomalyFilter) ([]*models.AnomalyLog, int64, error) {
	countSQL, countArgs, err := filter.apply(
		squirrel.Select("COUNT(*)").From("anomaly_logs"),
	).PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := filter.apply(
		squirrel.Select(anomalyColumns...).From("anomaly_logs"),
	).
		OrderBy("detected_at DESC", "id DESC").
		PlaceholderFormat(squirrel.Dollar)

	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, 0, err
	}

	logs, err := r.queryLogs(ctx, sql, args)
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// TypesByDocument returns the distinct anomaly types recorded per document,
// the input for tag reconciliation.
func (r *AnomalyRepository) TypesByDocument(ctx context.Context) (map[int64][]models.AnomalyType, error) {
	sql, args, err := squirrel.Select("paperless_doc_id", "anomaly_type").
		From("anomaly_logs").
		GroupBy("paperless_doc_id", "anomaly_type").
		OrderBy("paperless_doc_id ASC", "anomaly_type ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := make(map[int64][]models.AnomalyType)
	for rows.Next() {
		var docID int64
		var anomalyType models.AnomalyType
		if err := rows.Scan(&docID, &anomalyType); err != nil {
			return nil, err
		}
		types[docID] = append(types[docID], anomalyType)
	}
	return types, rows.Err()
}

// Resolve flips one anomaly row's resolved flag. Returns pgx.ErrNoRows when
// the id does not exist. Resolution is a dashboard workflow state only: tag
// reconciliation keeps reflecting the detection result either way.
func (r *AnomalyRepository) Resolve(ctx context.Context, id int64, resolved bool) error {
	sql, args, err := squirrel.Update("anomaly_logs").
		Set("resolved", resolved).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}

	r.logger.Info("updated anomaly resolution",
		zap.Int64("id", id),
		zap.Bool("resolved", resolved))
	return nil
}

func (r *AnomalyRepository) queryLogs(ctx context.Context, sql string, args []any) ([]*models.AnomalyLog, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.AnomalyLog
	for rows.Next() {
		var log models.AnomalyLog
		if err := rows.Scan(
			&log.ID, &log.PaperlessDocID, &log.Type, &log.Severity,
			&log.Description, &log.Amount, &log.DetectedAt, &log.Resolved,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &log)
	}
	return logs, rows.Err()
}
