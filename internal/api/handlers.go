// Package api exposes the memory store over a small JSON HTTP surface.
// The gateway in front of the agent talks to these routes; everything it
// can do goes through the memory.Store interface, never a concrete
// backend.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/recallhq/recall/internal/embedq"
	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/internal/pgstore"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QueueInspector reports embedding queue depth. Only the relational
// backend has one; nil disables the route.
type QueueInspector interface {
	Stats(ctx context.Context) (pgstore.QueueStats, error)
}

// Deps carries the handler dependencies. Queue and Embedder are optional:
// without an embedder, text search answers 501; without a queue
// inspector, queue status does.
type Deps struct {
	Store    memory.Store
	Queue    QueueInspector
	Embedder embedq.Provider
	Token    string
}

// NewHandler builds the route tree.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	if deps.Token != "" {
		r.Use(BearerAuth(deps.Token))
	}

	r.Post("/v1/memories", handlePut(deps))
	r.Get("/v1/memories", handleList(deps))
	r.Get("/v1/memories/{id}", handleGet(deps))
	r.Delete("/v1/memories/{id}", handleDelete(deps))
	r.Post("/v1/memories/search", handleSearch(deps))
	r.Get("/v1/queue/status", handleQueueStatus(deps))
	r.Get("/v1/healthz", handleHealthz(deps))

	return r
}

type recordResponse struct {
	ID              string    `json:"id"`
	Scope           string    `json:"scope"`
	Key             string    `json:"key"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	EmbeddingStatus string    `json:"embedding_status"`
}

func toResponse(rec memory.Record) recordResponse {
	return recordResponse{
		ID:              rec.ID,
		Scope:           string(rec.Scope),
		Key:             rec.Key,
		Content:         rec.Content,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		EmbeddingStatus: string(rec.EmbeddingStatus),
	}
}

type putRequest struct {
	Scope   string `json:"scope"`
	Key     string `json:"key"`
	Content string `json:"content"`
}

func handlePut(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req putRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		scope, err := memory.ParseScope(req.Scope)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		id, err := deps.Store.Put(r.Context(), memory.Record{
			Scope:   scope,
			Key:     req.Key,
			Content: req.Content,
		})
		if err != nil {
			storeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	}
}

func handleGet(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			storeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toResponse(rec))
	}
}

func handleDelete(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scope, err := memory.ParseScope(r.URL.Query().Get("scope"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		opts := memory.ListOptions{Cursor: r.URL.Query().Get("cursor")}
		if since := r.URL.Query().Get("since"); since != "" {
			opts.Since, err = time.Parse(time.RFC3339, since)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid since: %v", err)
				return
			}
		}
		if limit := r.URL.Query().Get("limit"); limit != "" {
			opts.Limit, err = strconv.Atoi(limit)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid limit: %v", err)
				return
			}
		}

		page, err := deps.Store.ListByScope(r.Context(), scope, opts)
		if err != nil {
			storeError(w, err)
			return
		}

		records := make([]recordResponse, len(page.Records))
		for i, rec := range page.Records {
			records[i] = toResponse(rec)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"records":     records,
			"next_cursor": page.NextCursor,
		})
	}
}

type searchRequest struct {
	Scope string `json:"scope"`
	Text  string `json:"text"`
	TopK  int    `json:"top_k"`
}

type searchResult struct {
	recordResponse
	Score float32 `json:"score"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		if !deps.Store.Capabilities().SimilaritySearch {
			httpError(w, http.StatusNotImplemented, "unsupported_error", "similarity search is not available on this backend")
			return
		}
		if deps.Embedder == nil {
			httpError(w, http.StatusNotImplemented, "unsupported_error", "no embedding provider configured")
			return
		}

		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		scope, err := memory.ParseScope(req.Scope)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.Text == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		query, err := deps.Embedder.Embed(r.Context(), req.Text)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "embedding query: %v", err)
			return
		}

		scored, err := deps.Store.SearchSimilar(r.Context(), query, scope, req.TopK)
		if err != nil {
			storeError(w, err)
			return
		}

		results := make([]searchResult, len(scored))
		for i, sr := range scored {
			results[i] = searchResult{recordResponse: toResponse(sr.Record), Score: sr.Score}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}
}

func handleQueueStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Queue == nil {
			httpError(w, http.StatusNotImplemented, "unsupported_error", "this backend has no embedding queue")
			return
		}
		stats, err := deps.Queue.Stats(r.Context())
		if err != nil {
			storeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{
			"pending":   stats.Pending,
			"in_flight": stats.InFlight,
			"dead":      stats.Dead,
			"done":      stats.Done,
		})
	}
}

func handleHealthz(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			storeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

// storeError maps the storage error taxonomy onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, memory.ErrUnsupported):
		httpError(w, http.StatusNotImplemented, "unsupported_error", "%v", err)
	case errors.Is(err, memory.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusServiceUnavailable, "api_error", "request cancelled: %v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
