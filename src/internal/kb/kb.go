// Package kb implements the knowledge base engine: one durable record
// store, one in-memory vector index rebuilt from it, and the operation
// set keeping the two in lockstep.
//
// Every update or remove rebuilds the index wholesale from the store.
// That is O(n) per mutation and O(1) amortized per add, a deliberate
// simplicity tradeoff for small-to-medium datasets.
package kb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"kbserve/src/internal/index"
	"kbserve/src/internal/store"
)

var (
	// ErrDuplicateID is returned by Add when the id already exists.
	ErrDuplicateID = errors.New("memory id already exists")
	// ErrNotFound is returned by Update, Remove and GetPreference for
	// absent ids and keys.
	ErrNotFound = errors.New("not found")
)

// Memory is the add-time input: an optional caller-supplied id, content,
// category and a pre-computed embedding of the engine's dimension.
type Memory struct {
	ID        string
	Content   string
	Category  string
	Embedding []float32
}

// SearchResult is a transient projection of a stored memory plus its
// squared L2 distance from the query. Lower score means more similar.
type SearchResult struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Category  string  `json:"category"`
	Score     float32 `json:"score"`
	Timestamp int64   `json:"timestamp"`
}

// DefaultCategory is assigned when a memory is added without one.
const DefaultCategory = "general"

// Engine owns the record store and the vector index for its lifetime.
// All operations are safe for concurrent use; index-touching operations
// and check-then-act sequences serialize on one engine-wide lock.
type Engine struct {
	mu      sync.Mutex
	st      *store.Store
	idx     *index.Flat
	slotIDs []string // slot -> memory id, rebuilt with the index
	dim     int
}

// New opens the record store at path and reconstructs the vector index
// from it. A store that cannot be opened is a hard construction error.
func New(path string, dimension int) (*Engine, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		st:  st,
		idx: index.NewFlat(dimension),
		dim: dimension,
	}

	if err := e.loadIndexLocked(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}

	slog.Info("kb engine ready", "path", path, "dimension", dimension, "memories", e.idx.Size())
	return e, nil
}

// loadIndexLocked rebuilds the index and the slot->id list from a full
// store scan, preserving store iteration order. Keys in reserved ranges
// are skipped; documents that fail to parse or whose embedding has the
// wrong dimension are treated as absent.
func (e *Engine) loadIndexLocked(ctx context.Context) error {
	e.idx.Reset()
	e.slotIDs = e.slotIDs[:0]

	return e.st.IterateAll(ctx, func(key string, value []byte) error {
		if store.IsReserved(key) {
			return nil
		}

		doc, err := store.DecodeDocument(value)
		if err != nil {
			slog.Warn("skipping unparseable document", "key", key, "error", err)
			return nil
		}
		if len(doc.Embedding) != e.dim {
			slog.Warn("skipping document with wrong embedding dimension", "key", key, "got", len(doc.Embedding), "want", e.dim)
			return nil
		}

		if err := e.idx.Insert(doc.Embedding); err != nil {
			return err
		}
		e.slotIDs = append(e.slotIDs, key)
		return nil
	})
}

// generateID biases toward uniqueness but is not a UUID; the duplicate
// check in Add is the correctness backstop.
func generateID() string {
	return fmt.Sprintf("mem_%d_%d", time.Now().UnixMilli(), rand.IntN(9000)+1000)
}

// Add persists a new memory and appends it to the index, returning the
// (possibly generated) id. An existing id rejects the whole operation
// and leaves store and index untouched.
func (e *Engine) Add(ctx context.Context, m Memory) (string, error) {
	if len(m.Embedding) != e.dim {
		return "", fmt.Errorf("add: embedding dimension %d, engine dimension %d", len(m.Embedding), e.dim)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := m.ID
	if id == "" {
		id = generateID()
	}

	if _, err := e.st.Get(ctx, id); err == nil {
		return "", fmt.Errorf("add %q: %w", id, ErrDuplicateID)
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return "", fmt.Errorf("add %q: existence check: %w", id, err)
	}

	category := m.Category
	if category == "" {
		category = DefaultCategory
	}

	doc := &store.Document{
		ID:        id,
		Content:   m.Content,
		Category:  category,
		Timestamp: time.Now().UnixMilli(),
		Embedding: m.Embedding,
	}
	data, err := store.EncodeDocument(doc)
	if err != nil {
		return "", fmt.Errorf("add %q: %w", id, err)
	}
	if err := e.st.Put(ctx, id, data); err != nil {
		return "", fmt.Errorf("add %q: persist: %w", id, err)
	}

	if err := e.idx.Insert(doc.Embedding); err != nil {
		return "", fmt.Errorf("add %q: index: %w", id, err)
	}
	e.slotIDs = append(e.slotIDs, id)

	return id, nil
}

// Search returns up to k memories nearest to the query embedding,
// ordered ascending by score. The store is the source of truth for
// content: each hit is re-fetched by id, and hits whose document is
// missing or unparseable are skipped rather than failing the search.
func (e *Engine) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if len(query) != e.dim {
		return nil, fmt.Errorf("search: query dimension %d, engine dimension %d", len(query), e.dim)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	hits := e.idx.Search(query, k)
	results := make([]SearchResult, 0, len(hits))

	for _, hit := range hits {
		if hit.Slot < 0 || hit.Slot >= len(e.slotIDs) {
			continue
		}
		id := e.slotIDs[hit.Slot]

		value, err := e.st.Get(ctx, id)
		if err != nil {
			slog.Warn("search: document missing for indexed slot", "id", id, "slot", hit.Slot, "error", err)
			continue
		}
		doc, err := store.DecodeDocument(value)
		if err != nil {
			slog.Warn("search: skipping unparseable document", "id", id, "error", err)
			continue
		}

		results = append(results, SearchResult{
			ID:        id,
			Content:   doc.Content,
			Category:  doc.Category,
			Score:     hit.Distance,
			Timestamp: doc.Timestamp,
		})
	}

	return results, nil
}

// Update overwrites content, embedding and timestamp of an existing
// memory, then rebuilds the index from the store. Category is not part
// of the update contract.
func (e *Engine) Update(ctx context.Context, id, content string, embedding []float32) error {
	if len(embedding) != e.dim {
		return fmt.Errorf("update %q: embedding dimension %d, engine dimension %d", id, len(embedding), e.dim)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	value, err := e.st.Get(ctx, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("update %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %q: %w", id, err)
	}

	doc, err := store.DecodeDocument(value)
	if err != nil {
		// Unparseable is treated as absent for this operation.
		return fmt.Errorf("update %q: %w", id, ErrNotFound)
	}

	doc.Content = content
	doc.Embedding = embedding
	doc.Timestamp = time.Now().UnixMilli()

	data, err := store.EncodeDocument(doc)
	if err != nil {
		return fmt.Errorf("update %q: %w", id, err)
	}
	if err := e.st.Put(ctx, id, data); err != nil {
		return fmt.Errorf("update %q: persist: %w", id, err)
	}

	if err := e.loadIndexLocked(ctx); err != nil {
		return fmt.Errorf("update %q: rebuild index: %w", id, err)
	}
	return nil
}

// Remove deletes a memory and rebuilds the index from the store.
func (e *Engine) Remove(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.st.Delete(ctx, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return fmt.Errorf("remove %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("remove %q: %w", id, err)
	}

	if err := e.loadIndexLocked(ctx); err != nil {
		return fmt.Errorf("remove %q: rebuild index: %w", id, err)
	}
	return nil
}

// Exists reports whether a memory id is present in the record store.
func (e *Engine) Exists(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.st.Get(ctx, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %q: %w", id, err)
	}
	return true, nil
}

// Size returns the current vector count; by the lockstep invariant this
// equals the number of stored memories.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Size()
}

// SetPreference upserts a preference value. Preferences live in a
// reserved key range disjoint from memory ids and never touch the index.
func (e *Engine) SetPreference(ctx context.Context, key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.Put(ctx, store.PreferenceKey(key), []byte(value)); err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

// GetPreference returns the stored value for key, or ErrNotFound. An
// existing empty value is distinguishable from an absent key.
func (e *Engine) GetPreference(ctx context.Context, key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	value, err := e.st.Get(ctx, store.PreferenceKey(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", fmt.Errorf("get preference %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get preference %q: %w", key, err)
	}
	return string(value), nil
}

// Dimension returns the fixed embedding dimension.
func (e *Engine) Dimension() int {
	return e.dim
}

// Compact reclaims store space. Scheduled by the maintenance runner.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.Compact(ctx); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	slog.Info("store compacted", "memories", e.idx.Size())
	return nil
}

// Close releases the store handle. The index is reconstructable from the
// store and needs no teardown.
func (e *Engine) Close() error {
	return e.st.Close()
}
