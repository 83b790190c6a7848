package interfaces

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// Embedder is an external embedding provider
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// SemanticScorer returns per-label confidence for a query. It returns an empty map
// when semantic scoring is unavailable.
type SemanticScorer interface {
	SemanticConfidenceBatch(ctx context.Context, query string, labels []string) map[string]float64
}

// MemoryIndexer receives marked memories for asynchronous embedding
type MemoryIndexer interface {
	// IndexAsync must not block the caller
	IndexAsync(mem *model.Memory)
	Remove(ctx context.Context, id model.MemoryID)
	Reset(ctx context.Context)
}

// MemoryRetriever finds marked memories similar to a query
type MemoryRetriever interface {
	Similar(ctx context.Context, query string, k int) []*model.ScoredMemory
}

// VectorStore keeps embedding vectors durable
type VectorStore interface {
	PutVector(ctx context.Context, v *model.EmbeddingVector) error
	ListVectors(ctx context.Context) []*model.EmbeddingVector
	DeleteVector(ctx context.Context, id model.MemoryID) error
	GetMarkedMemories(ctx context.Context) []*model.Memory
}
