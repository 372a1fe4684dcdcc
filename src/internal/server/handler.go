package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kbserve/src/internal/embed"
	"kbserve/src/internal/kb"
	"kbserve/src/internal/observability"
)

// DefaultTopK is the search result count when top_k is omitted.
const DefaultTopK = 5

// Request is the wire envelope: an endpoint selector and an
// operation-specific parameter bag.
type Request struct {
	Endpoint string          `json:"endpoint"`
	Params   json.RawMessage `json:"params"`
}

// Handler decodes request envelopes, invokes the embedder where the
// operation needs a vector, dispatches into the engine and encodes the
// result. It is safe for concurrent use.
type Handler struct {
	engine   *kb.Engine
	embedder embed.Embedder
	metrics  *observability.Metrics
}

func NewHandler(engine *kb.Engine, embedder embed.Embedder, metrics *observability.Metrics) *Handler {
	return &Handler{engine: engine, embedder: embedder, metrics: metrics}
}

// Handle processes one raw request payload and returns the encoded
// response. Malformed payloads and unknown endpoints yield failure
// envelopes, never an error.
func (h *Handler) Handle(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return encode(failure(fmt.Sprintf("request parse error: %v", err)))
	}

	start := time.Now()
	op, resp := h.dispatch(ctx, &req)

	if h.metrics != nil {
		h.metrics.ObserveRequest(op, outcome(resp), time.Since(start))
		h.metrics.Memories.Set(float64(h.engine.Size()))
	}

	return encode(resp)
}

func (h *Handler) dispatch(ctx context.Context, req *Request) (op string, resp map[string]any) {
	switch req.Endpoint {
	case "/add":
		return "add", h.handleAdd(ctx, req.Params)
	case "/search":
		return "search", h.handleSearch(ctx, req.Params)
	case "/update":
		return "update", h.handleUpdate(ctx, req.Params)
	case "/remove":
		return "remove", h.handleRemove(ctx, req.Params)
	case "/update_preference":
		return "update_preference", h.handleUpdatePreference(ctx, req.Params)
	case "/get_preference":
		return "get_preference", h.handleGetPreference(ctx, req.Params)
	default:
		return "unknown", failure(fmt.Sprintf("unknown endpoint: %s", req.Endpoint))
	}
}

func (h *Handler) handleAdd(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		Content  string `json:"content"`
		Category string `json:"category"`
		ID       string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.Content == "" {
		return failure("content is required")
	}

	vec, err := h.embedder.Embed(ctx, p.Content)
	if err != nil {
		return failure(fmt.Sprintf("embedding failed: %v", err))
	}

	id, err := h.engine.Add(ctx, kb.Memory{
		ID:        p.ID,
		Content:   p.Content,
		Category:  p.Category,
		Embedding: vec,
	})
	if err != nil {
		return failure(err.Error())
	}

	return map[string]any{"success": true, "id": id}
}

func (h *Handler) handleSearch(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		Query string `json:"query"`
		TopK  *int   `json:"top_k"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.Query == "" {
		return failure("query is required")
	}

	topK := DefaultTopK
	if p.TopK != nil {
		topK = *p.TopK
	}

	vec, err := h.embedder.Embed(ctx, p.Query)
	if err != nil {
		return failure(fmt.Sprintf("embedding failed: %v", err))
	}

	results, err := h.engine.Search(ctx, vec, topK)
	if err != nil {
		return failure(err.Error())
	}

	items := make([]kb.SearchResult, 0, len(results))
	items = append(items, results...)
	return map[string]any{"success": true, "results": items}
}

func (h *Handler) handleUpdate(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.ID == "" || p.Content == "" {
		return failure("id and content are required")
	}

	vec, err := h.embedder.Embed(ctx, p.Content)
	if err != nil {
		return failure(fmt.Sprintf("embedding failed: %v", err))
	}

	if err := h.engine.Update(ctx, p.ID, p.Content, vec); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (h *Handler) handleRemove(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.ID == "" {
		return failure("id is required")
	}

	if err := h.engine.Remove(ctx, p.ID); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (h *Handler) handleUpdatePreference(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.Key == "" {
		return failure("key is required")
	}

	if err := h.engine.SetPreference(ctx, p.Key, p.Value); err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true}
}

func (h *Handler) handleGetPreference(ctx context.Context, params json.RawMessage) map[string]any {
	var p struct {
		Key string `json:"key"`
	}
	if err := decodeParams(params, &p); err != nil {
		return failure(err.Error())
	}
	if p.Key == "" {
		return failure("key is required")
	}

	value, err := h.engine.GetPreference(ctx, p.Key)
	if err != nil {
		return failure(err.Error())
	}
	return map[string]any{"success": true, "value": value}
}

func decodeParams(params json.RawMessage, into any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, into); err != nil {
		return fmt.Errorf("params parse error: %v", err)
	}
	return nil
}

func failure(msg string) map[string]any {
	return map[string]any{"success": false, "error": msg}
}

// outcome classifies a response for metrics labels.
func outcome(resp map[string]any) string {
	if ok, _ := resp["success"].(bool); ok {
		return "ok"
	}
	msg, _ := resp["error"].(string)
	switch {
	case strings.Contains(msg, kb.ErrDuplicateID.Error()):
		return "duplicate"
	case strings.Contains(msg, kb.ErrNotFound.Error()):
		return "not_found"
	default:
		return "error"
	}
}

func encode(resp map[string]any) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return []byte(`{"success":false,"error":"internal encoding error"}`)
	}
	return data
}
