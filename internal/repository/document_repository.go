package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"docsentry/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var documentColumns = []string{
	"id", "paperless_doc_id", "title", "document_type", "created_date",
	"processed_at", "remote_modified", "has_anomalies", "balance_status",
	"balance_diff", "beginning_balance", "ending_balance", "total_credits",
	"total_debits", "layout_score", "layout_issues", "narrative",
}

// DocumentFilter narrows List results. Nil fields match everything.
type DocumentFilter struct {
	HasAnomalies  *bool
	DocumentType  *models.DocumentType
	BalanceStatus *models.BalanceStatus
	AnomalyType   *models.AnomalyType
	MinAmount     *float64
	MaxAmount     *float64
	DateFrom      *time.Time
	DateTo        *time.Time
	Limit         int
	Offset        int
}

func (f DocumentFilter) apply(query squirrel.SelectBuilder) squirrel.SelectBuilder {
	if f.HasAnomalies != nil {
		query = query.Where(squirrel.Eq{"has_anomalies": *f.HasAnomalies})
	}
	if f.DocumentType != nil {
		query = query.Where(squirrel.Eq{"document_type": *f.DocumentType})
	}
	if f.BalanceStatus != nil {
		query = query.Where(squirrel.Eq{"balance_status": *f.BalanceStatus})
	}
	if f.AnomalyType != nil {
		query = query.Where(squirrel.Expr(
			`EXISTS (SELECT 1 FROM anomaly_logs a
				WHERE a.paperless_doc_id = processed_documents.paperless_doc_id
				AND a.anomaly_type = ?)`,
			*f.AnomalyType,
		))
	}
	if f.MinAmount != nil {
		query = query.Where(squirrel.GtOrEq{"balance_diff": *f.MinAmount})
	}
	if f.MaxAmount != nil {
		query = query.Where(squirrel.LtOrEq{"balance_diff": *f.MaxAmount})
	}
	if f.DateFrom != nil {
		query = query.Where(squirrel.GtOrEq{"created_date": *f.DateFrom})
	}
	if f.DateTo != nil {
		query = query.Where(squirrel.LtOrEq{"created_date": *f.DateTo})
	}
	return query
}

type DocumentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDocumentRepository(db *pgxpool.Pool, logger *zap.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// Replace swaps out the document's full detection state in one transaction:
// old anomaly rows are deleted, the parent row is upserted, fresh anomaly
// rows are inserted. A failure anywhere leaves the previous state intact.
func (r *DocumentRepository) Replace(ctx context.Context, doc *models.ProcessedDocument, logs []models.AnomalyLog) error {
	issues := []byte("[]")
	if len(doc.LayoutIssues) > 0 {
		var err error
		issues, err = json.Marshal(doc.LayoutIssues)
		if err != nil {
			return fmt.Errorf("failed to encode layout issues: %w", err)
		}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	deleteSQL, deleteArgs, err := squirrel.Delete("anomaly_logs").
		Where(squirrel.Eq{"paperless_doc_id": doc.PaperlessDocID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("delete stale anomaly logs: %w", err)
	}

	upsertSQL, upsertArgs, err := squirrel.Insert("processed_documents").
		Columns(documentColumns[1:]...).
		Values(
			doc.PaperlessDocID, doc.Title, doc.DocumentType, doc.CreatedDate,
			doc.ProcessedAt, doc.RemoteModified, doc.HasAnomalies, doc.BalanceStatus,
			doc.BalanceDiff, doc.BeginningBalance, doc.EndingBalance, doc.TotalCredits,
			doc.TotalDebits, doc.LayoutScore, issues, doc.Narrative,
		).
		Suffix(`ON CONFLICT (paperless_doc_id) DO UPDATE SET
			title = EXCLUDED.title,
			document_type = EXCLUDED.document_type,
			created_date = EXCLUDED.created_date,
			processed_at = EXCLUDED.processed_at,
			remote_modified = EXCLUDED.remote_modified,
			has_anomalies = EXCLUDED.has_anomalies,
			balance_status = EXCLUDED.balance_status,
			balance_diff = EXCLUDED.balance_diff,
			beginning_balance = EXCLUDED.beginning_balance,
			ending_balance = EXCLUDED.ending_balance,
			total_credits = EXCLUDED.total_credits,
			total_debits = EXCLUDED.total_debits,
			layout_score = EXCLUDED.layout_score,
			layout_issues = EXCLUDED.layout_issues,
			narrative = EXCLUDED.narrative`).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertSQL, upsertArgs...); err != nil {
		return fmt.Errorf("upsert processed document: %w", err)
	}

	if len(logs) > 0 {
		insert := squirrel.Insert("anomaly_logs").
			Columns("paperless_doc_id", "anomaly_type", "severity", "description", "amount", "detected_at", "resolved").
			PlaceholderFormat(squirrel.Dollar)
		for _, l := range logs {
			insert = insert.Values(l.PaperlessDocID, l.Type, l.Severity, l.Description, l.Amount, l.DetectedAt, l.Resolved)
		}
		insertSQL, insertArgs, err := insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insertSQL, insertArgs...); err != nil {
			return fmt.Errorf("insert anomaly logs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// GetByRemoteID returns the processed record for a Paperless document id,
// or nil when the document has never been processed.
func (r *DocumentRepository) GetByRemoteID(ctx context.Context, paperlessDocID int64) (*models.ProcessedDocument, error) {
	sql, args, err := squirrel.Select(documentColumns...).
		From("processed_documents").
		Where(squirrel.Eq{"paperless_doc_id": paperlessDocID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, err
	}

	doc, err := scanDocument(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes the document record and its anomaly rows in one
// transaction, log rows first.
func (r *DocumentRepository) Delete(ctx context.Context, paperlessDocID int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	logsSQL, logsArgs, err := squirrel.Delete("anomaly_logs").
		Where(squirrel.Eq{"paperless_doc_id": paperlessDocID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, logsSQL, logsArgs...); err != nil {
		return fmt.Errorf("delete anomaly logs: %w", err)
	}

	docSQL, docArgs, err := squirrel.Delete("processed_documents").
		Where(squirrel.Eq{"paperless_doc_id": paperlessDocID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, docSQL, docArgs...); err != nil {
		return fmt.Errorf("delete processed document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}

	r.logger.Info("deleted processed document", zap.Int64("paperless_doc_id", paperlessDocID))
	return nil
}

// List returns processed documents matching the filter, newest pass first,
// together with the unpaginated match count.
func (r *DocumentRepository) List(ctx context.Context, filter DocumentFilter) ([]*models.ProcessedDocument, int64, error) {
	countSQL, countArgs, err := filter.apply(
		squirrel.Select("COUNT(*)").From("processed_documents"),
	).PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := filter.apply(
		squirrel.Select(documentColumns...).From("processed_documents"),
	).
		OrderBy("processed_at DESC").
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

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var documents []*models.ProcessedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		documents = append(documents, doc)
	}
	return documents, total, rows.Err()
}

// ListAll returns every processed document, ordered by remote id. Used by
// the reconciliation passes that walk the full local state.
func (r *DocumentRepository) ListAll(ctx context.Context) ([]*models.ProcessedDocument, error) {
	sql, args, err := squirrel.Select(documentColumns...).
		From("processed_documents").
		OrderBy("paperless_doc_id ASC").
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

	var documents []*models.ProcessedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

// Stats aggregates the persisted detection state for the dashboard.
func (r *DocumentRepository) Stats(ctx context.Context) (*models.DashboardStats, error) {
	stats := &models.DashboardStats{
		AnomaliesByType:     make(map[models.AnomalyType]int64),
		BalanceStatusCounts: make(map[models.BalanceStatus]int64),
	}

	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE has_anomalies) FROM processed_documents`,
	).Scan(&stats.TotalDocuments, &stats.DocumentsWithAnomalies)
	if err != nil {
		return nil, err
	}

	statusRows, err := r.db.Query(ctx,
		`SELECT balance_status, COUNT(*) FROM processed_documents GROUP BY balance_status`,
	)
	if err != nil {
		return nil, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status models.BalanceStatus
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.BalanceStatusCounts[status] = count
	}
	if err := statusRows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := r.db.Query(ctx,
		`SELECT anomaly_type, COUNT(*) FROM anomaly_logs GROUP BY anomaly_type`,
	)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var anomalyType models.AnomalyType
		var count int64
		if err := typeRows.Scan(&anomalyType, &count); err != nil {
			return nil, err
		}
		stats.AnomaliesByType[anomalyType] = count
	}
	if err := typeRows.Err(); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM anomaly_logs WHERE resolved = FALSE`,
	).Scan(&stats.UnresolvedAnomalies)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

type documentRow interface {
	Scan(dest ...any) error
}

func scanDocument(row documentRow) (*models.ProcessedDocument, error) {
	var doc models.ProcessedDocument
	var issues []byte
	if err := row.Scan(
		&doc.ID, &doc.PaperlessDocID, &doc.Title, &doc.DocumentType, &doc.CreatedDate,
		&doc.ProcessedAt, &doc.RemoteModified, &doc.HasAnomalies, &doc.BalanceStatus,
		&doc.BalanceDiff, &doc.BeginningBalance, &doc.EndingBalance, &doc.TotalCredits,
		&doc.TotalDebits, &doc.LayoutScore, &issues, &doc.Narrative,
	); err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		if err := json.Unmarshal(issues, &doc.LayoutIssues); err != nil {
			return nil, fmt.Errorf("failed to decode layout issues: %w", err)
		}
	}
	return &doc, nil
}
