package paperless

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docsentry/pkg/config"
)

func newTestClient(serverURL string, retries int) *Client {
	return NewClient(config.PaperlessConfig{
		BaseURL:    serverURL,
		PublicURL:  "https://docs.example.com",
		Token:      "secret-token",
		Timeout:    5 * time.Second,
		MaxRetries: retries,
	}, zap.NewNop())
}

func TestListDocumentsPagination(t *testing.T) {
	var sawAuth atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/documents/", r.URL.Path)
		if r.Header.Get("Authorization") == "Token secret-token" {
			sawAuth.Store(true)
		}
		next := "has-more"
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(map[string]any{
				"count": 3,
				"next":  next,
				"results": []map[string]any{
					{"id": 1, "title": "January Statement", "tags": []int64{4}},
					{"id": 2, "title": "February Statement", "tags": []int64{}},
				},
			})
		case "2":
			json.NewEncoder(w).Encode(map[string]any{
				"count": 3,
				"next":  nil,
				"results": []map[string]any{
					{"id": 3, "title": "March Statement", "modified": "2024-03-02T08:15:00Z"},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	docs, err := client.ListDocuments(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, int64(1), docs[0].ID)
	assert.Equal(t, int64(3), docs[2].ID)
	require.NotNil(t, docs[2].Modified)
	assert.Equal(t, 2024, docs[2].Modified.Year())
	assert.True(t, sawAuth.Load())
}

func TestListDocumentsModifiedSince(t *testing.T) {
	var gotFilter string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("modified__gte")
		json.NewEncoder(w).Encode(map[string]any{"count": 0, "next": nil, "results": []any{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	since := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := client.ListDocuments(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T12:00:00Z", gotFilter)
}

func TestGetDocumentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	_, err := client.GetDocument(context.Background(), 99)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"id": 7, "title": "Recovered", "content": "ok"})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)
	doc, err := client.GetDocument(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 1)
	_, err := client.GetDocument(context.Background(), 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 3)
	err := client.SetDocumentTags(context.Background(), 5, []int64{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCreateTagExactMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "anomaly:duplicate_lines", r.URL.Query().Get("name"))
		json.NewEncoder(w).Encode(map[string]any{
			"next": nil,
			"results": []map[string]any{
				{"id": 11, "name": "anomaly:duplicate_lines_reviewed"},
				{"id": 12, "name": "anomaly:duplicate_lines"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	id, err := client.GetOrCreateTag(context.Background(), "anomaly:duplicate_lines")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
}

func TestGetOrCreateTagCreatesOnMiss(t *testing.T) {
	var createdName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"next": nil,
				"results": []map[string]any{
					{"id": 11, "name": "anomaly:balance_mismatch_old"},
				},
			})
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			createdName = body["name"].(string)
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{"id": 42, "name": createdName})
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	id, err := client.GetOrCreateTag(context.Background(), "anomaly:balance_mismatch")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "anomaly:balance_mismatch", createdName)
}

func TestSetDocumentTagsSendsFullSet(t *testing.T) {
	var patched map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPatch, r.Method)
		require.Equal(t, "/api/documents/5/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	require.NoError(t, client.SetDocumentTags(context.Background(), 5, []int64{3, 9}))

	tags, ok := patched["tags"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{float64(3), float64(9)}, tags)
}

func TestSetCustomFieldsPreservesOthers(t *testing.T) {
	var patched map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"id": 9, "title": "Invoice",
				"custom_fields": []map[string]any{
					{"field": 1, "value": "keep-me"},
					{"field": 2, "value": "stale"},
				},
			})
		case http.MethodPatch:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	err := client.SetCustomFields(context.Background(), 9, map[int64]any{2: "FAIL", 3: -3196.40})
	require.NoError(t, err)

	fields, ok := patched["custom_fields"].([]any)
	require.True(t, ok)
	require.Len(t, fields, 3)

	byField := make(map[float64]any)
	for _, f := range fields {
		entry := f.(map[string]any)
		byField[entry["field"].(float64)] = entry["value"]
	}
	assert.Equal(t, "keep-me", byField[1])
	assert.Equal(t, "FAIL", byField[2])
	assert.Equal(t, -3196.40, byField[3])
}

func TestDocumentURL(t *testing.T) {
	client := newTestClient("http://paperless:8000", 0)
	assert.Equal(t, "https://docs.example.com/documents/17/details", client.DocumentURL(17))
}
