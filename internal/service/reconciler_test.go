package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docsentry/internal/detect"
	"docsentry/internal/models"
	"docsentry/internal/paperless"
	"docsentry/pkg/config"
)

const cleanStatement = `Account Summary
Beginning Balance: $1,000.00
Total Deposits: $500.00
Total Withdrawals: $200.00
Ending Balance: $1,300.00
Member FDIC`

const brokenStatement = `Account Summary
Beginning Balance: $1,000.00
Total Deposits: $500.00
Total Withdrawals: $200.00
Ending Balance: $1,500.00
Member FDIC`

type fakeRemote struct {
	mu          sync.Mutex
	docs        map[int64]*paperless.Document
	ghosts      []paperless.Document
	tags        map[int64]string
	nextTagID   int64
	docTypes    map[string]int64
	nextTypeID  int64
	fields      map[string]int64
	nextFieldID int64
	tagWrites   map[int64][][]int64
	fieldWrites map[int64]map[int64]any
	typeWrites  map[int64]int64
	listErr     error
	getErrs     map[int64]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:        make(map[int64]*paperless.Document),
		tags:        make(map[int64]string),
		nextTagID:   100,
		docTypes:    make(map[string]int64),
		nextTypeID:  1,
		fields:      make(map[string]int64),
		nextFieldID: 1,
		tagWrites:   make(map[int64][][]int64),
		fieldWrites: make(map[int64]map[int64]any),
		typeWrites:  make(map[int64]int64),
		getErrs:     make(map[int64]error),
	}
}

func (f *fakeRemote) addDoc(id int64, title, content string, modified time.Time, tags ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := modified
	f.docs[id] = &paperless.Document{
		ID:       id,
		Title:    title,
		Content:  content,
		Modified: &m,
		Tags:     append([]int64(nil), tags...),
	}
}

func (f *fakeRemote) ListDocuments(_ context.Context, modifiedSince time.Time) ([]paperless.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []paperless.Document
	for _, doc := range f.docs {
		if !modifiedSince.IsZero() && doc.Modified != nil && doc.Modified.Before(modifiedSince) {
			continue
		}
		out = append(out, f.copyDoc(doc))
	}
	out = append(out, f.ghosts...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeRemote) GetDocument(_ context.Context, id int64) (*paperless.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.getErrs[id]; ok {
		return nil, err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("GET /api/documents/%d/: %w", id, paperless.ErrNotFound)
	}
	copied := f.copyDoc(doc)
	return &copied, nil
}

func (f *fakeRemote) copyDoc(doc *paperless.Document) paperless.Document {
	copied := *doc
	copied.Tags = append([]int64(nil), doc.Tags...)
	copied.CustomFields = append([]paperless.FieldValue(nil), doc.CustomFields...)
	return copied
}

func (f *fakeRemote) ListTags(_ context.Context) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[int64]string, len(f.tags))
	for id, name := range f.tags {
		out[id] = name
	}
	return out, nil
}

func (f *fakeRemote) GetOrCreateTag(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.tags {
		if existing == name {
			return id, nil
		}
	}
	id := f.nextTagID
	f.nextTagID++
	f.tags[id] = name
	return id, nil
}

func (f *fakeRemote) SetDocumentTags(_ context.Context, id int64, tagIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("PATCH /api/documents/%d/: %w", id, paperless.ErrNotFound)
	}
	doc.Tags = append([]int64(nil), tagIDs...)
	f.tagWrites[id] = append(f.tagWrites[id], append([]int64(nil), tagIDs...))
	return nil
}

func (f *fakeRemote) GetOrCreateDocumentType(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.docTypes[name]; ok {
		return id, nil
	}
	id := f.nextTypeID
	f.nextTypeID++
	f.docTypes[name] = id
	return id, nil
}

func (f *fakeRemote) SetDocumentType(_ context.Context, id, typeID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("PATCH /api/documents/%d/: %w", id, paperless.ErrNotFound)
	}
	doc.DocumentType = &typeID
	f.typeWrites[id] = typeID
	return nil
}

func (f *fakeRemote) GetOrCreateCustomField(_ context.Context, name, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.fields[name]; ok {
		return id, nil
	}
	id := f.nextFieldID
	f.nextFieldID++
	f.fields[name] = id
	return id, nil
}

func (f *fakeRemote) SetCustomFields(_ context.Context, docID int64, values map[int64]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[docID]; !ok {
		return fmt.Errorf("PATCH /api/documents/%d/: %w", docID, paperless.ErrNotFound)
	}
	if f.fieldWrites[docID] == nil {
		f.fieldWrites[docID] = make(map[int64]any)
	}
	for field, value := range values {
		f.fieldWrites[docID][field] = value
	}
	return nil
}

func (f *fakeRemote) writeCount(docID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tagWrites[docID])
}

func (f *fakeRemote) lastTagWrite(docID int64) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	writes := f.tagWrites[docID]
	if len(writes) == 0 {
		return nil
	}
	return writes[len(writes)-1]
}

type fakeStore struct {
	mu         sync.Mutex
	docs       map[int64]*models.ProcessedDocument
	logs       map[int64][]models.AnomalyLog
	replaceErr error
	deleteErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs: make(map[int64]*models.ProcessedDocument),
		logs: make(map[int64][]models.AnomalyLog),
	}
}

func (s *fakeStore) Replace(_ context.Context, doc *models.ProcessedDocument, logs []models.AnomalyLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	copied := *doc
	s.docs[doc.PaperlessDocID] = &copied
	s.logs[doc.PaperlessDocID] = append([]models.AnomalyLog(nil), logs...)
	return nil
}

func (s *fakeStore) GetByRemoteID(_ context.Context, paperlessDocID int64) (*models.ProcessedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[paperlessDocID]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (s *fakeStore) Delete(_ context.Context, paperlessDocID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.docs, paperlessDocID)
	delete(s.logs, paperlessDocID)
	return nil
}

func (s *fakeStore) ListAll(_ context.Context) ([]*models.ProcessedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ProcessedDocument
	for _, doc := range s.docs {
		copied := *doc
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PaperlessDocID < out[j].PaperlessDocID })
	return out, nil
}

func (s *fakeStore) TypesByDocument(_ context.Context) (map[int64][]models.AnomalyType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64][]models.AnomalyType)
	for docID, logs := range s.logs {
		seen := make(map[models.AnomalyType]struct{})
		for _, l := range logs {
			if _, ok := seen[l.Type]; ok {
				continue
			}
			seen[l.Type] = struct{}{}
			out[docID] = append(out[docID], l.Type)
		}
	}
	return out, nil
}

func (s *fakeStore) get(docID int64) *models.ProcessedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[docID]
}

func (s *fakeStore) logTypes(docID int64) []models.AnomalyType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []models.AnomalyType
	for _, l := range s.logs[docID] {
		types = append(types, l.Type)
	}
	return types
}

func (s *fakeStore) seed(docID int64, processedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[docID] = &models.ProcessedDocument{
		PaperlessDocID: docID,
		DocumentType:   models.DocumentTypeBankStatement,
		ProcessedAt:    processedAt,
		BalanceStatus:  models.BalancePass,
	}
}

type staticNarrator struct {
	text string
	err  error
}

func (n *staticNarrator) Narrate(context.Context, *models.ProcessedDocument, []models.Finding) (string, error) {
	return n.text, n.err
}

type blockingNarrator struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (n *blockingNarrator) Narrate(context.Context, *models.ProcessedDocument, []models.Finding) (string, error) {
	n.once.Do(func() { close(n.started) })
	<-n.release
	return "", nil
}

func newTestReconciler(remote *fakeRemote, store *fakeStore, narrator Narrator) *Reconciler {
	engine := detect.NewEngine(config.DetectorConfig{}, zap.NewNop())
	return NewReconciler(remote, store, store, engine, narrator, nil, 4, zap.NewNop())
}

func TestScanNewProcessesUnseenDocuments(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "January Bank Statement", cleanStatement, past)
	remote.addDoc(2, "February Bank Statement", brokenStatement, past)
	store := newFakeStore()
	rec := newTestReconciler(remote, store, &staticNarrator{text: "Deposits do not add up."})

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2}, stats)

	clean := store.get(1)
	require.NotNil(t, clean)
	assert.Equal(t, models.BalancePass, clean.BalanceStatus)
	assert.False(t, clean.HasAnomalies)
	assert.Nil(t, clean.Narrative)
	assert.Empty(t, store.logTypes(1))

	broken := store.get(2)
	require.NotNil(t, broken)
	assert.Equal(t, models.BalanceFail, broken.BalanceStatus)
	assert.True(t, broken.HasAnomalies)
	require.NotNil(t, broken.BalanceDiff)
	assert.InDelta(t, -200.0, *broken.BalanceDiff, 0.001)
	require.NotNil(t, broken.Narrative)
	assert.Equal(t, "Deposits do not add up.", *broken.Narrative)
	assert.Equal(t, []models.AnomalyType{models.AnomalyBalanceMismatch}, store.logTypes(2))

	// Clean document needs no tag mutation, the anomalous one gets its tag.
	assert.Equal(t, 0, remote.writeCount(1))
	assert.Equal(t, 1, remote.writeCount(2))
	assert.Equal(t, []string{"anomaly:balance_mismatch"}, tagNamesOf(t, remote, remote.lastTagWrite(2)))

	// Both get a document type and custom field values.
	assert.Contains(t, remote.docTypes, "Bank Statement")
	statusField := remote.fields[fieldBalanceStatus]
	diffField := remote.fields[fieldBalanceDiff]
	assert.Equal(t, "PASS", remote.fieldWrites[1][statusField])
	assert.Equal(t, "FAIL", remote.fieldWrites[2][statusField])
	assert.Equal(t, -200.0, remote.fieldWrites[2][diffField])
}

func TestScanNewSanitizesStoredText(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "Chase\x00 Statement", cleanStatement+"\x00", past)
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)

	stored := store.get(1)
	require.NotNil(t, stored)
	assert.Equal(t, "Chase Statement", stored.Title)
	assert.Equal(t, models.BalancePass, stored.BalanceStatus)
}

func TestScanNewSkipsAlreadyProcessed(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "January Bank Statement", cleanStatement, past)
	remote.addDoc(2, "February Bank Statement", cleanStatement, past)
	store := newFakeStore()
	store.seed(1, time.Now())
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)
}

func TestScanNewIsIdempotent(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "January Bank Statement", brokenStatement, past)
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	_, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	writesAfterFirst := remote.writeCount(1)

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Equal(t, writesAfterFirst, remote.writeCount(1))
}

func TestScanNewAdvancesHighWaterMark(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "January Bank Statement", cleanStatement, past)
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	_, err := rec.ScanNew(context.Background())
	require.NoError(t, err)

	// A document modified after the first pass is picked up; the old one no
	// longer appears in the listing at all.
	remote.addDoc(2, "March Bank Statement", cleanStatement, time.Now().Add(time.Hour))
	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)
	require.NotNil(t, store.get(2))
}

func TestScanNewCountsMidFlightDeletionAsOrphan(t *testing.T) {
	remote := newFakeRemote()
	remote.ghosts = []paperless.Document{{ID: 9, Title: "Vanished"}}
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Orphaned: 1}, stats)
	assert.Nil(t, store.get(9))
}

func TestScanNewTransientFailureRetriesNextPass(t *testing.T) {
	remote := newFakeRemote()
	past := time.Now().Add(-24 * time.Hour)
	remote.addDoc(1, "January Bank Statement", cleanStatement, past)
	remote.addDoc(2, "February Bank Statement", cleanStatement, past)
	remote.getErrs[2] = errors.New("bad gateway")
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, stats)

	// The failure kept the scan window open, so the next pass sees the
	// document again and succeeds.
	remote.mu.Lock()
	delete(remote.getErrs, 2)
	remote.mu.Unlock()

	stats, err = rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)
	require.NotNil(t, store.get(2))
}

func TestScanNewPersistenceFailureAbortsPass(t *testing.T) {
	remote := newFakeRemote()
	remote.addDoc(1, "January Bank Statement", cleanStatement, time.Now().Add(-time.Hour))
	store := newFakeStore()
	store.replaceErr = errors.New("connection refused")
	rec := newTestReconciler(remote, store, nil)

	_, err := rec.ScanNew(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist")
}

func TestSyncTagsMigratesLegacyNames(t *testing.T) {
	remote := newFakeRemote()
	remote.tags = map[int64]string{1: "tax", 2: "detected", 3: "anomaly:duplicate_lines"}
	remote.addDoc(7, "Old Statement", cleanStatement, time.Now(), 1, 2, 3)
	store := newFakeStore()
	store.seed(7, time.Now())
	store.logs[7] = []models.AnomalyLog{{PaperlessDocID: 7, Type: models.AnomalyBalanceMismatch}}
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.SyncTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)

	names := tagNamesOf(t, remote, remote.lastTagWrite(7))
	assert.ElementsMatch(t, []string{"tax", "anomaly:balance_mismatch"}, names)
}

func TestSyncTagsSkipsWhenInSync(t *testing.T) {
	remote := newFakeRemote()
	remote.tags = map[int64]string{1: "tax", 2: "anomaly:balance_mismatch"}
	remote.addDoc(7, "Statement", cleanStatement, time.Now(), 1, 2)
	store := newFakeStore()
	store.seed(7, time.Now())
	store.logs[7] = []models.AnomalyLog{{PaperlessDocID: 7, Type: models.AnomalyBalanceMismatch}}
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.SyncTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Equal(t, 0, remote.writeCount(7))
}

func TestSyncTagsClearsStaleTagsOnCleanDocument(t *testing.T) {
	remote := newFakeRemote()
	remote.tags = map[int64]string{1: "tax", 3: "anomaly:duplicate_lines"}
	remote.addDoc(7, "Statement", cleanStatement, time.Now(), 1, 3)
	store := newFakeStore()
	store.seed(7, time.Now())
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.SyncTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)
	assert.Equal(t, []int64{1}, remote.lastTagWrite(7))
}

func TestSyncTagsRemovesOrphanedRecords(t *testing.T) {
	remote := newFakeRemote()
	store := newFakeStore()
	store.seed(42, time.Now())
	store.logs[42] = []models.AnomalyLog{{PaperlessDocID: 42, Type: models.AnomalyDuplicateLines}}
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.SyncTags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Orphaned: 1}, stats)
	assert.Nil(t, store.get(42))
	assert.Empty(t, store.logTypes(42))
}

func TestRecheckModifiedReprocessesNewerRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.addDoc(1, "January Bank Statement", brokenStatement, time.Now().Add(-time.Hour))
	remote.addDoc(2, "February Bank Statement", cleanStatement, time.Now().Add(-3*time.Hour))
	store := newFakeStore()
	store.seed(1, time.Now().Add(-2*time.Hour))
	store.seed(2, time.Now().Add(-2*time.Hour))
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.RecheckModified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, Skipped: 1}, stats)

	updated := store.get(1)
	require.NotNil(t, updated)
	assert.True(t, updated.HasAnomalies)
	assert.Equal(t, models.BalanceFail, updated.BalanceStatus)
	assert.Equal(t, []models.AnomalyType{models.AnomalyBalanceMismatch}, store.logTypes(1))
}

func TestRecheckIgnoresUnseenDocuments(t *testing.T) {
	remote := newFakeRemote()
	remote.addDoc(5, "Brand New Statement", cleanStatement, time.Now())
	store := newFakeStore()
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.RecheckModified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
	assert.Nil(t, store.get(5))
}

func TestBackfillProcessesEverythingUnseen(t *testing.T) {
	remote := newFakeRemote()
	old := time.Now().Add(-100 * 24 * time.Hour)
	remote.addDoc(1, "Archive Statement 1", cleanStatement, old)
	remote.addDoc(2, "Archive Statement 2", cleanStatement, old)
	remote.addDoc(3, "Archive Statement 3", cleanStatement, old)
	store := newFakeStore()
	store.seed(2, time.Now())
	rec := newTestReconciler(remote, store, nil)

	stats, err := rec.Backfill(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2, Skipped: 1}, stats)
}

func TestNarratorFailureDoesNotFailDocument(t *testing.T) {
	remote := newFakeRemote()
	remote.addDoc(1, "January Bank Statement", brokenStatement, time.Now().Add(-time.Hour))
	store := newFakeStore()
	rec := newTestReconciler(remote, store, &staticNarrator{err: errors.New("model unavailable")})

	stats, err := rec.ScanNew(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1}, stats)

	doc := store.get(1)
	require.NotNil(t, doc)
	assert.Nil(t, doc.Narrative)
	assert.True(t, doc.HasAnomalies)
}

func TestPassesAreMutuallyExclusive(t *testing.T) {
	remote := newFakeRemote()
	remote.addDoc(1, "January Bank Statement", brokenStatement, time.Now().Add(-time.Hour))
	store := newFakeStore()
	narrator := &blockingNarrator{started: make(chan struct{}), release: make(chan struct{})}
	rec := newTestReconciler(remote, store, narrator)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = rec.ScanNew(context.Background())
	}()

	<-narrator.started
	_, err := rec.SyncTags(context.Background())
	assert.ErrorIs(t, err, ErrPassActive)

	close(narrator.release)
	<-done

	_, err = rec.SyncTags(context.Background())
	assert.NoError(t, err)
}

func tagNamesOf(t *testing.T, remote *fakeRemote, ids []int64) []string {
	t.Helper()
	remote.mu.Lock()
	defer remote.mu.Unlock()
	var names []string
	for _, id := range ids {
		name, ok := remote.tags[id]
		require.True(t, ok, "unknown tag id %d", id)
		names = append(names, name)
	}
	return names
}
