package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docsentry/internal/detect"
	"docsentry/internal/metrics"
	"docsentry/internal/models"
	"docsentry/internal/paperless"
)

// ErrPassActive is returned when an entry point is invoked while another
// reconciliation pass holds the lock.
var ErrPassActive = errors.New("reconciliation pass already running")

// Custom field names written back to Paperless. Kept identical to the names
// earlier deployments created so existing fields are reused.
const (
	fieldBalanceStatus = "balance_check_status"
	fieldBalanceDiff   = "balance_diff_amount"
	fieldLayoutScore   = "layout_score"
)

// Stats counts per-document outcomes of one reconciliation pass.
type Stats struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Orphaned  int `json:"orphaned"`
	Failed    int `json:"failed"`
}

// Remote is the slice of the Paperless API the reconciler consumes.
type Remote interface {
	ListDocuments(ctx context.Context, modifiedSince time.Time) ([]paperless.Document, error)
	GetDocument(ctx context.Context, id int64) (*paperless.Document, error)
	ListTags(ctx context.Context) (map[int64]string, error)
	GetOrCreateTag(ctx context.Context, name string) (int64, error)
	SetDocumentTags(ctx context.Context, id int64, tagIDs []int64) error
	GetOrCreateDocumentType(ctx context.Context, name string) (int64, error)
	SetDocumentType(ctx context.Context, id, typeID int64) error
	GetOrCreateCustomField(ctx context.Context, name, dataType string) (int64, error)
	SetCustomFields(ctx context.Context, docID int64, values map[int64]any) error
}

// DocumentStore persists processed documents together with their anomaly rows.
type DocumentStore interface {
	Replace(ctx context.Context, doc *models.ProcessedDocument, logs []models.AnomalyLog) error
	GetByRemoteID(ctx context.Context, paperlessDocID int64) (*models.ProcessedDocument, error)
	Delete(ctx context.Context, paperlessDocID int64) error
	ListAll(ctx context.Context) ([]*models.ProcessedDocument, error)
}

// AnomalyStore reads back persisted findings.
type AnomalyStore interface {
	TypesByDocument(ctx context.Context) (map[int64][]models.AnomalyType, error)
}

// Narrator produces an optional human-readable summary of a document's
// findings. A nil Narrator disables narration.
type Narrator interface {
	Narrate(ctx context.Context, doc *models.ProcessedDocument, findings []models.Finding) (string, error)
}

// Reconciler drives the detection engine against the remote document set and
// keeps local state, remote tags and custom fields consistent.
type Reconciler struct {
	client      Remote
	docs        DocumentStore
	anomalies   AnomalyStore
	engine      *detect.Engine
	narrator    Narrator
	metrics     *metrics.Metrics
	logger      *zap.Logger
	parallelism int

	// passMu serializes entry points so passes never interleave on a document.
	passMu sync.Mutex

	hwMu      sync.Mutex
	highWater time.Time
}

func NewReconciler(
	client Remote,
	docs DocumentStore,
	anomalies AnomalyStore,
	engine *detect.Engine,
	narrator Narrator,
	m *metrics.Metrics,
	parallelism int,
	logger *zap.Logger,
) *Reconciler {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Reconciler{
		client:      client,
		docs:        docs,
		anomalies:   anomalies,
		engine:      engine,
		narrator:    narrator,
		metrics:     m,
		logger:      logger,
		parallelism: parallelism,
	}
}

// Busy reports whether a pass currently holds the pass lock.
func (r *Reconciler) Busy() bool {
	if r.passMu.TryLock() {
		r.passMu.Unlock()
		return false
	}
	return true
}

// ScanNew processes remote documents that appeared or changed since the last
// successful scan. Already-processed ids are skipped; re-detection of
// modified documents is RecheckModified's job.
func (r *Reconciler) ScanNew(ctx context.Context) (Stats, error) {
	return r.ingest(ctx, "scan", true)
}

// Backfill walks the entire remote document set and processes every id that
// has no local record.
func (r *Reconciler) Backfill(ctx context.Context) (Stats, error) {
	return r.ingest(ctx, "backfill", false)
}

func (r *Reconciler) ingest(ctx context.Context, pass string, useHighWater bool) (Stats, error) {
	if !r.passMu.TryLock() {
		return Stats{}, ErrPassActive
	}
	defer r.passMu.Unlock()

	log := r.passLogger(pass)
	start := time.Now()

	var since time.Time
	if useHighWater {
		since = r.highWaterMark()
	}

	remoteDocs, err := r.client.ListDocuments(ctx, since)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list remote documents: %w", err)
	}
	log.Info("listed remote documents", zap.Int("count", len(remoteDocs)), zap.Time("since", since))

	env, err := r.newPassEnv(ctx)
	if err != nil {
		return Stats{}, err
	}

	var counters passCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, doc := range remoteDocs {
		g.Go(func() error {
			stored, err := r.docs.GetByRemoteID(gctx, doc.ID)
			if err != nil {
				return fmt.Errorf("failed to read processed state for document %d: %w", doc.ID, err)
			}
			if stored != nil {
				counters.skipped.Add(1)
				return nil
			}
			out, perr := r.processDocument(gctx, log, env, doc)
			counters.add(out)
			return perr
		})
	}
	err = g.Wait()

	stats := counters.stats()
	r.finishPass(log, pass, start, stats, err)
	if err != nil {
		return stats, err
	}
	// A failed document must stay inside the scan window until it succeeds.
	if useHighWater && stats.Failed == 0 {
		r.setHighWaterMark(start)
	}
	return stats, nil
}

// SyncTags re-projects stored anomaly rows onto remote tags for every
// processed document. No detection runs; orphaned local records are removed.
func (r *Reconciler) SyncTags(ctx context.Context) (Stats, error) {
	if !r.passMu.TryLock() {
		return Stats{}, ErrPassActive
	}
	defer r.passMu.Unlock()

	log := r.passLogger("tag_sync")
	start := time.Now()

	stored, err := r.docs.ListAll(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list processed documents: %w", err)
	}
	typesByDoc, err := r.anomalies.TypesByDocument(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load anomaly types: %w", err)
	}
	tagNames, err := r.client.ListTags(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list remote tags: %w", err)
	}
	log.Info("syncing tags", zap.Int("documents", len(stored)))

	var counters passCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, doc := range stored {
		g.Go(func() error {
			remoteDoc, err := r.client.GetDocument(gctx, doc.PaperlessDocID)
			if errors.Is(err, paperless.ErrNotFound) {
				if err := r.removeOrphan(gctx, log, doc.PaperlessDocID); err != nil {
					return err
				}
				counters.orphaned.Add(1)
				return nil
			}
			if err != nil {
				log.Warn("failed to fetch remote document",
					zap.Int64("paperless_doc_id", doc.PaperlessDocID), zap.Error(err))
				counters.failed.Add(1)
				return nil
			}

			desired := ProjectTags(typesByDoc[doc.PaperlessDocID])
			diff := DiffTags(remoteDoc.Tags, tagNames, desired)
			if diff.InSync() {
				counters.skipped.Add(1)
				return nil
			}

			if err := r.applyTagDiff(gctx, doc.PaperlessDocID, diff); err != nil {
				if errors.Is(err, paperless.ErrNotFound) {
					if derr := r.removeOrphan(gctx, log, doc.PaperlessDocID); derr != nil {
						return derr
					}
					counters.orphaned.Add(1)
					return nil
				}
				log.Warn("tag sync failed for document",
					zap.Int64("paperless_doc_id", doc.PaperlessDocID), zap.Error(err))
				counters.failed.Add(1)
				return nil
			}
			counters.processed.Add(1)
			return nil
		})
	}
	err = g.Wait()

	stats := counters.stats()
	r.finishPass(log, "tag_sync", start, stats, err)
	return stats, err
}

// RecheckModified re-runs full detection on stored documents whose remote
// modification timestamp is newer than the last local pass.
func (r *Reconciler) RecheckModified(ctx context.Context) (Stats, error) {
	if !r.passMu.TryLock() {
		return Stats{}, ErrPassActive
	}
	defer r.passMu.Unlock()

	log := r.passLogger("recheck")
	start := time.Now()

	remoteDocs, err := r.client.ListDocuments(ctx, time.Time{})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list remote documents: %w", err)
	}

	env, err := r.newPassEnv(ctx)
	if err != nil {
		return Stats{}, err
	}

	var counters passCounters
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, doc := range remoteDocs {
		g.Go(func() error {
			stored, err := r.docs.GetByRemoteID(gctx, doc.ID)
			if err != nil {
				return fmt.Errorf("failed to read processed state for document %d: %w", doc.ID, err)
			}
			if stored == nil || doc.Modified == nil || !doc.Modified.After(stored.ProcessedAt) {
				counters.skipped.Add(1)
				return nil
			}

			log.Info("remote document modified since last pass",
				zap.Int64("paperless_doc_id", doc.ID),
				zap.Time("modified", *doc.Modified),
				zap.Time("processed_at", stored.ProcessedAt),
			)
			out, perr := r.processDocument(gctx, log, env, doc)
			counters.add(out)
			return perr
		})
	}
	err = g.Wait()

	stats := counters.stats()
	r.finishPass(log, "recheck", start, stats, err)
	return stats, err
}

// processDocument runs the full detect-and-sync flow for one remote
// document. The returned error is reserved for persistence failures, which
// abort the whole pass; remote trouble is folded into the outcome.
func (r *Reconciler) processDocument(ctx context.Context, log *zap.Logger, env *passEnv, meta paperless.Document) (outcome, error) {
	doc, err := r.client.GetDocument(ctx, meta.ID)
	if errors.Is(err, paperless.ErrNotFound) {
		if err := r.removeOrphan(ctx, log, meta.ID); err != nil {
			return outcomeOrphaned, err
		}
		return outcomeOrphaned, nil
	}
	if err != nil {
		log.Warn("failed to fetch document content", zap.Int64("paperless_doc_id", meta.ID), zap.Error(err))
		return outcomeFailed, nil
	}

	title := sanitizeText(doc.Title)
	content := sanitizeText(doc.Content)

	result := r.engine.Detect(title, content)
	now := time.Now().UTC()

	record := &models.ProcessedDocument{
		PaperlessDocID:   doc.ID,
		Title:            title,
		DocumentType:     result.DocumentType,
		CreatedDate:      doc.Created,
		ProcessedAt:      now,
		RemoteModified:   doc.Modified,
		HasAnomalies:     len(result.Findings) > 0,
		BalanceStatus:    result.BalanceStatus,
		BalanceDiff:      result.BalanceDiff,
		BeginningBalance: result.BeginningBalance,
		EndingBalance:    result.EndingBalance,
		TotalCredits:     result.TotalCredits,
		TotalDebits:      result.TotalDebits,
		LayoutScore:      result.LayoutScore,
		LayoutIssues:     result.LayoutIssues,
	}

	logs := make([]models.AnomalyLog, 0, len(result.Findings))
	for _, f := range result.Findings {
		r.metrics.AnomalyDetected(string(f.Type), string(f.Severity))
		logs = append(logs, models.AnomalyLog{
			PaperlessDocID: doc.ID,
			Type:           f.Type,
			Severity:       f.Severity,
			Description:    f.Description,
			Amount:         f.Amount,
			DetectedAt:     now,
		})
	}

	if r.narrator != nil && len(result.Findings) > 0 {
		narrative, err := r.narrator.Narrate(ctx, record, result.Findings)
		if err != nil {
			log.Warn("narrative generation failed", zap.Int64("paperless_doc_id", doc.ID), zap.Error(err))
		} else if narrative = sanitizeText(narrative); narrative != "" {
			record.Narrative = &narrative
		}
	}

	if err := r.docs.Replace(ctx, record, logs); err != nil {
		return outcomeFailed, fmt.Errorf("failed to persist document %d: %w", doc.ID, err)
	}

	if err := r.pushRemoteState(ctx, env, doc, result); err != nil {
		if errors.Is(err, paperless.ErrNotFound) {
			if derr := r.removeOrphan(ctx, log, doc.ID); derr != nil {
				return outcomeOrphaned, derr
			}
			return outcomeOrphaned, nil
		}
		log.Warn("failed to push results to remote", zap.Int64("paperless_doc_id", doc.ID), zap.Error(err))
		return outcomeFailed, nil
	}

	log.Info("processed document",
		zap.Int64("paperless_doc_id", doc.ID),
		zap.String("title", title),
		zap.String("document_type", string(result.DocumentType)),
		zap.Int("findings", len(result.Findings)),
	)
	return outcomeProcessed, nil
}

// pushRemoteState mirrors the detection result onto the document's remote
// metadata: anomaly tags, document type and custom fields.
func (r *Reconciler) pushRemoteState(ctx context.Context, env *passEnv, doc *paperless.Document, result models.DetectionResult) error {
	desired := ProjectTags(result.AnomalyTypes())
	diff := DiffTags(doc.Tags, env.tagNames, desired)
	if !diff.InSync() {
		if err := r.applyTagDiff(ctx, doc.ID, diff); err != nil {
			return err
		}
	}

	if result.DocumentType != models.DocumentTypeUnknown {
		typeID, err := r.client.GetOrCreateDocumentType(ctx, displayName(result.DocumentType))
		if err != nil {
			return err
		}
		if doc.DocumentType == nil || *doc.DocumentType != typeID {
			if err := r.client.SetDocumentType(ctx, doc.ID, typeID); err != nil {
				return err
			}
		}
	}

	values := map[int64]any{env.statusFieldID: string(result.BalanceStatus)}
	if result.BalanceDiff != nil {
		values[env.diffFieldID] = round2(*result.BalanceDiff)
	}
	if result.LayoutScore != nil {
		values[env.layoutFieldID] = round2(*result.LayoutScore)
	}
	return r.client.SetCustomFields(ctx, doc.ID, values)
}

// applyTagDiff resolves the desired tag names and issues the full-set
// replace, preserving unowned tags.
func (r *Reconciler) applyTagDiff(ctx context.Context, docID int64, diff TagDiff) error {
	final := append([]int64(nil), diff.KeepIDs...)
	for _, name := range diff.Desired {
		id, err := r.client.GetOrCreateTag(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to resolve tag %q: %w", name, err)
		}
		final = append(final, id)
	}
	return r.client.SetDocumentTags(ctx, docID, final)
}

// removeOrphan drops local state for a remote document that no longer
// exists. A delete failure is a persistence error and aborts the pass.
func (r *Reconciler) removeOrphan(ctx context.Context, log *zap.Logger, docID int64) error {
	if err := r.docs.Delete(ctx, docID); err != nil {
		return fmt.Errorf("failed to remove orphaned document %d: %w", docID, err)
	}
	log.Info("removed orphaned local state", zap.Int64("paperless_doc_id", docID))
	return nil
}

// passEnv carries remote lookups shared by every worker in one pass.
type passEnv struct {
	tagNames      map[int64]string
	statusFieldID int64
	diffFieldID   int64
	layoutFieldID int64
}

func (r *Reconciler) newPassEnv(ctx context.Context) (*passEnv, error) {
	tagNames, err := r.client.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote tags: %w", err)
	}
	statusID, err := r.client.GetOrCreateCustomField(ctx, fieldBalanceStatus, "string")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve custom field %q: %w", fieldBalanceStatus, err)
	}
	diffID, err := r.client.GetOrCreateCustomField(ctx, fieldBalanceDiff, "float")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve custom field %q: %w", fieldBalanceDiff, err)
	}
	layoutID, err := r.client.GetOrCreateCustomField(ctx, fieldLayoutScore, "float")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve custom field %q: %w", fieldLayoutScore, err)
	}
	return &passEnv{
		tagNames:      tagNames,
		statusFieldID: statusID,
		diffFieldID:   diffID,
		layoutFieldID: layoutID,
	}, nil
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeOrphaned
	outcomeFailed
)

type passCounters struct {
	processed atomic.Int64
	skipped   atomic.Int64
	orphaned  atomic.Int64
	failed    atomic.Int64
}

func (c *passCounters) add(o outcome) {
	switch o {
	case outcomeProcessed:
		c.processed.Add(1)
	case outcomeOrphaned:
		c.orphaned.Add(1)
	case outcomeFailed:
		c.failed.Add(1)
	}
}

func (c *passCounters) stats() Stats {
	return Stats{
		Processed: int(c.processed.Load()),
		Skipped:   int(c.skipped.Load()),
		Orphaned:  int(c.orphaned.Load()),
		Failed:    int(c.failed.Load()),
	}
}

func (r *Reconciler) passLogger(pass string) *zap.Logger {
	return r.logger.With(zap.String("pass", pass), zap.String("run_id", uuid.NewString()))
}

func (r *Reconciler) finishPass(log *zap.Logger, pass string, start time.Time, stats Stats, err error) {
	elapsed := time.Since(start)
	r.metrics.ObservePass(pass, stats.Processed, stats.Skipped, stats.Orphaned, stats.Failed, elapsed.Seconds())

	fields := []zap.Field{
		zap.Int("processed", stats.Processed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("orphaned", stats.Orphaned),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		log.Error("pass aborted", append(fields, zap.Error(err))...)
		return
	}
	log.Info("pass completed", fields...)
}

func (r *Reconciler) highWaterMark() time.Time {
	r.hwMu.Lock()
	defer r.hwMu.Unlock()
	return r.highWater
}

func (r *Reconciler) setHighWaterMark(t time.Time) {
	r.hwMu.Lock()
	defer r.hwMu.Unlock()
	if t.After(r.highWater) {
		r.highWater = t
	}
}

// displayName renders a document type for the remote UI, "bank_statement"
// becoming "Bank Statement".
func displayName(t models.DocumentType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
