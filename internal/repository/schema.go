package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS processed_documents (
		id BIGSERIAL PRIMARY KEY,
		paperless_doc_id BIGINT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL DEFAULT 'unknown',
		created_date TIMESTAMPTZ,
		processed_at TIMESTAMPTZ NOT NULL,
		remote_modified TIMESTAMPTZ,
		has_anomalies BOOLEAN NOT NULL DEFAULT FALSE,
		balance_status TEXT NOT NULL DEFAULT 'NOT_APPLICABLE',
		balance_diff DOUBLE PRECISION,
		beginning_balance DOUBLE PRECISION,
		ending_balance DOUBLE PRECISION,
		total_credits DOUBLE PRECISION,
		total_debits DOUBLE PRECISION,
		layout_score DOUBLE PRECISION,
		layout_issues JSONB NOT NULL DEFAULT '[]',
		narrative TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_documents_anomalies
		ON processed_documents (has_anomalies)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_documents_type
		ON processed_documents (document_type)`,
	`CREATE TABLE IF NOT EXISTS anomaly_logs (
		id BIGSERIAL PRIMARY KEY,
		paperless_doc_id BIGINT NOT NULL,
		anomaly_type TEXT NOT NULL,
		severity TEXT NOT NULL DEFAULT 'medium',
		description TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION,
		detected_at TIMESTAMPTZ NOT NULL,
		resolved BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_logs_doc
		ON anomaly_logs (paperless_doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_anomaly_logs_type
		ON anomaly_logs (anomaly_type)`,
}

// InitSchema creates the tables and indexes if they do not exist yet.
func InitSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
