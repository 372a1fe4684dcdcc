package store

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Document is the persisted form of a memory record. The embedding is
// stored inline as an ordered float list; the store never interprets it.
type Document struct {
	ID        string    `msgpack:"id"`
	Content   string    `msgpack:"content"`
	Category  string    `msgpack:"category"`
	Timestamp int64     `msgpack:"timestamp"`
	Embedding []float32 `msgpack:"embedding"`
}

// EncodeDocument serializes a memory document for storage.
func EncodeDocument(doc *Document) ([]byte, error) {
	data, err := msgpack.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document %q: %w", doc.ID, err)
	}
	return data, nil
}

// DecodeDocument parses a stored memory document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}
