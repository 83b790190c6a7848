package vectorindex

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	chromem "github.com/philippgille/chromem-go"
)

const (
	collectionName = "memories"

	// DefaultIndexTimeout bounds the background embedding of one memory
	DefaultIndexTimeout = 30 * time.Second
)

// Index is a local similarity index over marked memories. Vectors are computed by the
// embedder, persisted through the VectorStore and searched in a chromem collection.
type Index struct {
	embedder interfaces.Embedder
	store    interfaces.VectorStore
	clock    func() time.Time
	timeout  time.Duration
	baseCtx  context.Context

	db        *chromem.DB
	mu        sync.RWMutex
	col       *chromem.Collection
	forgotten map[model.MemoryID]struct{}

	wg sync.WaitGroup
}

var (
	_ interfaces.MemoryIndexer   = (*Index)(nil)
	_ interfaces.MemoryRetriever = (*Index)(nil)
)

type Option func(*Index)

func WithClock(clock func() time.Time) Option {
	return func(x *Index) {
		x.clock = clock
	}
}

// WithIndexTimeout sets the deadline of one background embedding
func WithIndexTimeout(d time.Duration) Option {
	return func(x *Index) {
		x.timeout = d
	}
}

// WithBaseContext sets the context background work derives from, e.g. to carry a logger
func WithBaseContext(ctx context.Context) Option {
	return func(x *Index) {
		x.baseCtx = ctx
	}
}

func New(embedder interfaces.Embedder, store interfaces.VectorStore, opts ...Option) (*Index, error) {
	x := &Index{
		embedder:  embedder,
		store:     store,
		clock:     time.Now,
		timeout:   DefaultIndexTimeout,
		baseCtx:   context.Background(),
		db:        chromem.NewDB(),
		forgotten: make(map[model.MemoryID]struct{}),
	}
	for _, opt := range opts {
		opt(x)
	}

	col, err := x.newCollection()
	if err != nil {
		return nil, err
	}
	x.col = col
	return x, nil
}

func (x *Index) newCollection() (*chromem.Collection, error) {
	col, err := x.db.GetOrCreateCollection(collectionName, nil, chromem.EmbeddingFunc(x.embedder.Embed))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create vector collection")
	}
	return col, nil
}

func (x *Index) collection() *chromem.Collection {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.col
}

// Count returns the number of indexed memories
func (x *Index) Count() int {
	return x.collection().Count()
}

func toDocument(mem *model.Memory, vector []float32) chromem.Document {
	return chromem.Document{
		ID:        string(mem.ID),
		Content:   mem.Content,
		Embedding: vector,
		Metadata: map[string]string{
			"context":    mem.Context,
			"created_at": mem.CreatedAt.Format(time.RFC3339),
		},
	}
}

// Load rebuilds the collection from persisted vectors. Stale vectors are dropped and
// memories without a usable vector are embedded again in the background.
func (x *Index) Load(ctx context.Context) error {
	memories := x.store.GetMarkedMemories(ctx)
	vectors := make(map[model.MemoryID]*model.EmbeddingVector)
	for _, v := range x.store.ListVectors(ctx) {
		vectors[v.OwnerID] = v
	}

	dims := x.embedder.Dimensions()
	var docs []chromem.Document
	var missing []*model.Memory
	for _, mem := range memories {
		v, ok := vectors[mem.ID]
		if !ok {
			missing = append(missing, mem)
			continue
		}
		if (dims > 0 && len(v.Vector) != dims) || v.ContentHash != model.ContentHash(mem.Content) {
			if err := x.store.DeleteVector(ctx, mem.ID); err != nil {
				logging.From(ctx).Warn("failed to drop stale vector", "memory_id", mem.ID, "error", err)
			}
			missing = append(missing, mem)
			continue
		}
		docs = append(docs, toDocument(mem, v.Vector))
	}

	col, err := x.resetCollection()
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return goerr.Wrap(err, "failed to load vectors", goerr.V("count", len(docs)))
		}
	}

	for _, mem := range missing {
		x.IndexAsync(mem)
	}
	logging.From(ctx).Debug("vector index loaded", "loaded", len(docs), "reindexing", len(missing))
	return nil
}

func (x *Index) resetCollection() (*chromem.Collection, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DeleteCollection(collectionName); err != nil {
		return nil, goerr.Wrap(err, "failed to drop vector collection")
	}
	col, err := x.newCollection()
	if err != nil {
		return nil, err
	}
	x.col = col
	x.forgotten = make(map[model.MemoryID]struct{})
	return col, nil
}

// IndexAsync embeds the memory in the background and returns immediately
func (x *Index) IndexAsync(mem *model.Memory) {
	if mem == nil || mem.Deleted() {
		return
	}
	snapshot := *mem

	x.wg.Add(1)
	go func() {
		defer x.wg.Done()

		ctx := x.baseCtx
		if x.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, x.timeout)
			defer cancel()
		}

		if err := x.index(ctx, &snapshot); err != nil {
			logging.From(ctx).Warn("failed to index memory",
				"memory_id", snapshot.ID,
				"retryable", model.IsRetryable(err),
				"error", err)
		}
	}()
}

func (x *Index) index(ctx context.Context, mem *model.Memory) error {
	vec, err := x.embedder.Embed(ctx, mem.Content)
	if err != nil {
		return err
	}

	record := &model.EmbeddingVector{
		OwnerID:     mem.ID,
		Vector:      vec,
		ContentHash: model.ContentHash(mem.Content),
		CreatedAt:   x.clock(),
	}
	if err := x.store.PutVector(ctx, record); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// forgotten while embedding
			return nil
		}
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.forgotten[mem.ID]; ok {
		return nil
	}
	if err := x.col.AddDocument(ctx, toDocument(mem, vec)); err != nil {
		return goerr.Wrap(err, "failed to add vector to collection", goerr.V("memory_id", mem.ID))
	}
	return nil
}

// Remove drops a memory from the index. Pending background work for it is discarded.
func (x *Index) Remove(ctx context.Context, id model.MemoryID) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.forgotten[id] = struct{}{}
	if err := x.col.Delete(ctx, nil, nil, string(id)); err != nil {
		logging.From(ctx).Warn("failed to remove vector", "memory_id", id, "error", err)
	}
}

// Reset empties the index
func (x *Index) Reset(ctx context.Context) {
	if _, err := x.resetCollection(); err != nil {
		logging.From(ctx).Warn("failed to reset vector index", "error", err)
	}
}

// Wait blocks until background indexing has finished
func (x *Index) Wait() {
	x.wg.Wait()
}

// Similar returns up to k live memories most similar to query, best first. The score
// of a memory is the larger of its vector similarity and its keyword overlap with the
// query. When the query cannot be embedded only keyword overlap is used.
func (x *Index) Similar(ctx context.Context, query string, k int) []*model.ScoredMemory {
	if k <= 0 || query == "" {
		return nil
	}

	memories := x.store.GetMarkedMemories(ctx)
	if len(memories) == 0 {
		return nil
	}

	scores := make(map[model.MemoryID]float64, len(memories))
	for id, s := range x.vectorScores(ctx, query, len(memories)) {
		scores[id] = s
	}

	queryTokens := keywords(query)
	result := make([]*model.ScoredMemory, 0, len(memories))
	for _, mem := range memories {
		score := scores[mem.ID]
		if overlap := keywordOverlap(queryTokens, mem); overlap > score {
			score = overlap
		}
		if score <= 0 {
			continue
		}
		result = append(result, &model.ScoredMemory{Memory: mem, Score: score})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Score > result[j].Score
	})
	if len(result) > k {
		result = result[:k]
	}
	return result
}

func (x *Index) vectorScores(ctx context.Context, query string, n int) map[model.MemoryID]float64 {
	col := x.collection()
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil
	}

	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		logging.From(ctx).Debug("query embedding unavailable, using keywords only", "error", err)
		return nil
	}

	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		logging.From(ctx).Warn("vector query failed", "error", err)
		return nil
	}

	scores := make(map[model.MemoryID]float64, len(results))
	for _, r := range results {
		scores[model.MemoryID(r.ID)] = model.Clamp01(float64(r.Similarity))
	}
	return scores
}
