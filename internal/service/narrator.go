package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Role1776/gigago"
	"go.uber.org/zap"

	"docsentry/internal/models"
	"docsentry/pkg/config"
)

// GigaNarrator turns detection findings into a short operator-facing note
// using GigaChat. Narration is best-effort: the reconciler treats a failed
// call as a missing narrative, never as a failed document.
type GigaNarrator struct {
	client *gigago.Client
	model  *gigago.GenerativeModel
	logger *zap.Logger
}

// NewGigaNarrator connects to GigaChat. It returns (nil, nil) when no API
// key is configured, which disables narration entirely.
func NewGigaNarrator(ctx context.Context, cfg config.GigaChatConfig, logger *zap.Logger) (*GigaNarrator, error) {
	if cfg.APIKey == "" {
		logger.Info("GigaChat API key not set, narrative generation disabled")
		return nil, nil
	}

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	model := client.GenerativeModel("GigaChat")
	model.SystemInstruction = buildNarratorInstruction()
	model.Temperature = 0.3

	logger.Info("GigaChat narrator initialized", zap.String("scope", cfg.Scope))

	return &GigaNarrator{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Narrate summarizes the findings for one document in two or three sentences.
func (n *GigaNarrator) Narrate(ctx context.Context, doc *models.ProcessedDocument, findings []models.Finding) (string, error) {
	prompt := buildNarrativePrompt(doc, findings)

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := n.model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to generate narrative: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Close releases the GigaChat client.
func (n *GigaNarrator) Close() {
	n.client.Close()
}

func buildNarratorInstruction() string {
	return `You are an auditor's assistant reviewing OCR text of scanned financial documents.
You receive the structured result of an automated anomaly scan over one document.

Your task: write a short note for the archive operator explaining what was flagged and why it matters.

Rules:
- Two or three plain sentences, no markdown, no lists.
- Reference only the figures you are given. Never invent numbers.
- If a balance discrepancy is present, state the amounts that do not reconcile.
- Mention that OCR errors are a possible cause when the evidence is layout damage rather than arithmetic.`
}

func buildNarrativePrompt(doc *models.ProcessedDocument, findings []models.Finding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Document %q, classified as %s.\n", doc.Title, doc.DocumentType)
	fmt.Fprintf(&b, "Balance check: %s", doc.BalanceStatus)
	if doc.BalanceDiff != nil {
		fmt.Fprintf(&b, ", discrepancy %.2f", *doc.BalanceDiff)
	}
	b.WriteString(".\n")

	if doc.BeginningBalance != nil && doc.EndingBalance != nil {
		fmt.Fprintf(&b, "Stated figures: beginning %.2f, ending %.2f", *doc.BeginningBalance, *doc.EndingBalance)
		if doc.TotalCredits != nil {
			fmt.Fprintf(&b, ", credits %.2f", *doc.TotalCredits)
		}
		if doc.TotalDebits != nil {
			fmt.Fprintf(&b, ", debits %.2f", *doc.TotalDebits)
		}
		b.WriteString(".\n")
	}
	if doc.LayoutScore != nil {
		fmt.Fprintf(&b, "Layout quality score: %.2f (1.0 is clean).\n", *doc.LayoutScore)
	}

	b.WriteString("Findings:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s (%s): %s", f.Type, f.Severity, f.Description)
		if f.Amount != nil {
			fmt.Fprintf(&b, " [amount %.2f]", *f.Amount)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nWrite the operator note.")
	return b.String()
}
