package detect

import (
	"go.uber.org/zap"

	"docsentry/internal/classify"
	"docsentry/internal/models"
	"docsentry/pkg/config"
)

// Engine runs the full detector battery over one document's text. It never
// returns an error: malformed input degrades to absent values and fewer
// findings, not failures.
type Engine struct {
	tolerance       float64
	warnThreshold   float64
	layoutThreshold float64
	logger          *zap.Logger
}

func NewEngine(cfg config.DetectorConfig, logger *zap.Logger) *Engine {
	if cfg.BalanceTolerance <= 0 {
		cfg.BalanceTolerance = 0.01
	}
	if cfg.WarnThreshold <= cfg.BalanceTolerance {
		cfg.WarnThreshold = 1.00
	}
	if cfg.LayoutThreshold <= 0 {
		cfg.LayoutThreshold = 0.5
	}
	return &Engine{
		tolerance:       cfg.BalanceTolerance,
		warnThreshold:   cfg.WarnThreshold,
		layoutThreshold: cfg.LayoutThreshold,
		logger:          logger,
	}
}

// Detect classifies the document and runs every applicable detector.
func (e *Engine) Detect(title, content string) models.DetectionResult {
	docType := classify.Classify(title, content)
	result := models.DetectionResult{DocumentType: docType}

	balance := CheckBalance(docType, content, e.tolerance, e.warnThreshold)
	result.BalanceStatus = balance.Status
	result.BalanceDiff = balance.Diff
	result.BeginningBalance = balance.Beginning
	result.EndingBalance = balance.Ending
	result.TotalCredits = balance.Credits
	result.TotalDebits = balance.Debits
	if balance.Finding != nil {
		result.Findings = append(result.Findings, *balance.Finding)
	}

	if f := DetectCheckSequenceGap(docType, content); f != nil {
		result.Findings = append(result.Findings, *f)
	}

	layout := AnalyzeLayout(content, e.layoutThreshold)
	result.LayoutScore = layout.Score
	result.LayoutIssues = layout.Issues
	if layout.Finding != nil {
		result.Findings = append(result.Findings, *layout.Finding)
	}

	if f := DetectDuplicateLines(content); f != nil {
		result.Findings = append(result.Findings, *f)
	}
	if f := DetectReversedColumns(content); f != nil {
		result.Findings = append(result.Findings, *f)
	}
	if f := DetectTruncatedTotal(docType, content); f != nil {
		result.Findings = append(result.Findings, *f)
	}
	if f := DetectPageDiscontinuity(content); f != nil {
		result.Findings = append(result.Findings, *f)
	}

	e.logger.Debug("detection pass complete",
		zap.String("document_type", string(docType)),
		zap.String("balance_status", string(result.BalanceStatus)),
		zap.Int("findings", len(result.Findings)),
	)

	return result
}
