package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"docsentry/pkg/config"
)

// ErrNotFound marks a remote document, tag or field that no longer exists.
// Callers treat it as an expected outcome, not a failure.
var ErrNotFound = errors.New("paperless: not found")

const pageSize = 100

// Document is the remote metadata we consume, including the OCR content on
// single-document fetches.
type Document struct {
	ID           int64        `json:"id"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	Tags         []int64      `json:"tags"`
	DocumentType *int64       `json:"document_type"`
	Created      *time.Time   `json:"created"`
	Modified     *time.Time   `json:"modified"`
	CustomFields []FieldValue `json:"custom_fields"`
}

// FieldValue is one custom field instance attached to a document.
type FieldValue struct {
	Field int64 `json:"field"`
	Value any   `json:"value"`
}

// Client talks to the Paperless-ngx REST API with token authentication.
// Transient failures (network, 5xx) are retried with exponential backoff;
// 404 surfaces as ErrNotFound.
type Client struct {
	baseURL    string
	publicURL  string
	token      string
	maxRetries int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.PaperlessConfig, logger *zap.Logger) *Client {
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		token:      cfg.Token,
		maxRetries: retries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type documentPage struct {
	Count   int        `json:"count"`
	Next    *string    `json:"next"`
	Results []Document `json:"results"`
}

// ListDocuments fetches document metadata, fully paginated, never capped at
// a page count. A non-zero modifiedSince narrows the listing server-side.
func (c *Client) ListDocuments(ctx context.Context, modifiedSince time.Time) ([]Document, error) {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(pageSize))
	query.Set("ordering", "-modified")
	if !modifiedSince.IsZero() {
		query.Set("modified__gte", modifiedSince.UTC().Format(time.RFC3339))
	}

	var all []Document
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))

		var resp documentPage
		if err := c.do(ctx, http.MethodGet, "/api/documents/", query, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list documents (page %d): %w", page, err)
		}
		all = append(all, resp.Results...)

		if resp.Next == nil || *resp.Next == "" || len(resp.Results) == 0 {
			break
		}
	}

	c.logger.Debug("listed remote documents", zap.Int("count", len(all)))
	return all, nil
}

// GetDocument fetches one document with its OCR content.
func (c *Client) GetDocument(ctx context.Context, id int64) (*Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/documents/%d/", id), nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// SetDocumentTags replaces the document's full tag set.
func (c *Client) SetDocumentTags(ctx context.Context, id int64, tagIDs []int64) error {
	body := map[string]any{"tags": tagIDs}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", id), nil, body, nil); err != nil {
		return fmt.Errorf("failed to set tags on document %d: %w", id, err)
	}
	return nil
}

type tagPage struct {
	Next    *string `json:"next"`
	Results []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// ListTags returns every remote tag as an id-to-name map.
func (c *Client) ListTags(ctx context.Context) (map[int64]string, error) {
	tags := make(map[int64]string)

	query := url.Values{}
	query.Set("page_size", strconv.Itoa(pageSize))
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))

		var resp tagPage
		if err := c.do(ctx, http.MethodGet, "/api/tags/", query, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list tags (page %d): %w", page, err)
		}
		for _, tag := range resp.Results {
			tags[tag.ID] = tag.Name
		}
		if resp.Next == nil || *resp.Next == "" || len(resp.Results) == 0 {
			break
		}
	}

	return tags, nil
}

// GetOrCreateTag resolves a tag id by exact name, creating the tag on miss.
// The API filter fuzzy-matches, so results are compared exactly.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	query := url.Values{}
	query.Set("name", name)

	var resp tagPage
	if err := c.do(ctx, http.MethodGet, "/api/tags/", query, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to look up tag %q: %w", name, err)
	}
	for _, tag := range resp.Results {
		if tag.Name == name {
			return tag.ID, nil
		}
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/tags/", nil, map[string]any{"name": name}, &created); err != nil {
		return 0, fmt.Errorf("failed to create tag %q: %w", name, err)
	}
	c.logger.Info("created remote tag", zap.String("name", name), zap.Int64("id", created.ID))
	return created.ID, nil
}

type documentTypePage struct {
	Next    *string `json:"next"`
	Results []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// GetOrCreateDocumentType resolves a document type id by exact name,
// creating it on miss.
func (c *Client) GetOrCreateDocumentType(ctx context.Context, name string) (int64, error) {
	query := url.Values{}
	query.Set("page_size", strconv.Itoa(pageSize))

	var resp documentTypePage
	if err := c.do(ctx, http.MethodGet, "/api/document_types/", query, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to list document types: %w", err)
	}
	for _, dt := range resp.Results {
		if dt.Name == name {
			return dt.ID, nil
		}
	}

	body := map[string]any{"name": name, "match": "", "matching_algorithm": 0}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/document_types/", nil, body, &created); err != nil {
		return 0, fmt.Errorf("failed to create document type %q: %w", name, err)
	}
	c.logger.Info("created remote document type", zap.String("name", name), zap.Int64("id", created.ID))
	return created.ID, nil
}

// SetDocumentType assigns a document type to a document.
func (c *Client) SetDocumentType(ctx context.Context, id, typeID int64) error {
	body := map[string]any{"document_type": typeID}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", id), nil, body, nil); err != nil {
		return fmt.Errorf("failed to set document type on document %d: %w", id, err)
	}
	return nil
}

type customFieldPage struct {
	Results []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// GetOrCreateCustomField resolves a custom field id by exact name, creating
// the field with the given data type on miss.
func (c *Client) GetOrCreateCustomField(ctx context.Context, name, dataType string) (int64, error) {
	query := url.Values{}
	query.Set("name", name)

	var resp customFieldPage
	if err := c.do(ctx, http.MethodGet, "/api/custom_fields/", query, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to look up custom field %q: %w", name, err)
	}
	for _, field := range resp.Results {
		if field.Name == name {
			return field.ID, nil
		}
	}

	body := map[string]any{"name": name, "data_type": dataType}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/custom_fields/", nil, body, &created); err != nil {
		return 0, fmt.Errorf("failed to create custom field %q: %w", name, err)
	}
	c.logger.Info("created remote custom field", zap.String("name", name), zap.Int64("id", created.ID))
	return created.ID, nil
}

// SetCustomFields writes field values onto a document, preserving values of
// fields it does not own via read-modify-write.
func (c *Client) SetCustomFields(ctx context.Context, docID int64, values map[int64]any) error {
	doc, err := c.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	fields := doc.CustomFields
	for fieldID, value := range values {
		updated := false
		for i := range fields {
			if fields[i].Field == fieldID {
				fields[i].Value = value
				updated = true
				break
			}
		}
		if !updated {
			fields = append(fields, FieldValue{Field: fieldID, Value: value})
		}
	}

	body := map[string]any{"custom_fields": fields}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/api/documents/%d/", docID), nil, body, nil); err != nil {
		return fmt.Errorf("failed to set custom fields on document %d: %w", docID, err)
	}
	return nil
}

// DocumentURL builds the human-facing link for a document.
func (c *Client) DocumentURL(id int64) string {
	return fmt.Sprintf("%s/documents/%d/details", c.publicURL, id)
}

// do issues one API request with bounded retries on transient failures.
// The Authorization header is never logged.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
			c.logger.Warn("retrying remote request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
			)
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("failed to read response: %w", readErr)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error %d: %s", resp.StatusCode, snippet(data))
			continue
		case resp.StatusCode >= 400:
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet(data))
		}

		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s %s: retries exhausted: %w", method, path, lastErr)
}

func sleepBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snippet(data []byte) string {
	const max = 200
	s := string(data)
	if len(s) > max {
		return s[:max]
	}
	return s
}
