package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Index adapts VectorStore into engine/relate's SemanticIndex: it narrows
// semantic-relationship candidates to nearest neighbors instead of forcing
// an all-pairs scan. Embeddings are cached client-side at Index time so
// Neighbors can re-embed a query without an extra Qdrant round trip to fetch
// a stored vector back.
type Index struct {
	store *VectorStore

	mu         sync.Mutex
	embeddings map[uuid.UUID][]float32
}

// NewIndex wraps a VectorStore for use as an engine/relate SemanticIndex.
func NewIndex(store *VectorStore) *Index {
	return &Index{store: store, embeddings: make(map[uuid.UUID][]float32)}
}

// IndexElement upserts an element's embedding, scoped to its document, and
// caches it locally for later Neighbors calls.
func (idx *Index) IndexElement(ctx context.Context, documentID, elementID uuid.UUID, embedding []float32) error {
	if err := idx.store.Upsert(ctx, []VectorRecord{{
		ID:        elementID.String(),
		Embedding: embedding,
		Payload: map[string]any{
			"doc_id":     documentID.String(),
			"element_id": elementID.String(),
		},
	}}); err != nil {
		return fmt.Errorf("semantic: index element %s: %w", elementID, err)
	}

	idx.mu.Lock()
	idx.embeddings[elementID] = embedding
	idx.mu.Unlock()
	return nil
}

// Neighbors returns the k nearest elements (by embedding, within the same
// document) to elementID, excluding elementID itself. Satisfies
// engine/relate.SemanticIndex.
func (idx *Index) Neighbors(ctx context.Context, documentID, elementID uuid.UUID, k int) ([]uuid.UUID, error) {
	idx.mu.Lock()
	embedding, ok := idx.embeddings[elementID]
	idx.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("semantic: no cached embedding for element %s", elementID)
	}

	results, err := idx.store.SearchFiltered(ctx, embedding, k+1, map[string]string{"doc_id": documentID.String()})
	if err != nil {
		return nil, fmt.Errorf("semantic: search neighbors of %s: %w", elementID, err)
	}

	out := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.ID)
		if err != nil || id == elementID {
			continue
		}
		out = append(out, id)
		if len(out) == k {
			break
		}
	}
	return out, nil
}
