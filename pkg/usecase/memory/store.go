package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"golang.org/x/sync/singleflight"
)

const (
	bucketMessages     = "messages"
	bucketMessageIndex = "message_index"
	bucketMemories     = "memories"
	bucketMemoryIndex  = "memory_index"
	bucketVectors      = "vectors"
	bucketMeta         = "meta"
	bucketLegacy       = "legacy"

	metaConversation = "conversation"
	metaMigrated     = "migrated"
)

const (
	DefaultRecentWindow    = 50
	DefaultMaxContextChars = 2000
)

// Store is the durable home of the continuous conversation and the user's marked memories
type Store struct {
	kv      interfaces.KV
	indexer atomic.Pointer[indexerHolder]
	clock   func() time.Time

	recentWindow    int
	maxContextChars int

	initGroup singleflight.Group
	ready     atomic.Bool
}

type indexerHolder struct {
	interfaces.MemoryIndexer
}

type Option func(*Store)

func WithIndexer(indexer interfaces.MemoryIndexer) Option {
	return func(s *Store) {
		s.SetIndexer(indexer)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithRecentWindow sets how many messages the conversation summary keeps
func WithRecentWindow(n int) Option {
	return func(s *Store) {
		s.recentWindow = n
	}
}

// WithMaxContextChars sets the budget of GetContextForPrompt
func WithMaxContextChars(n int) Option {
	return func(s *Store) {
		s.maxContextChars = n
	}
}

func New(kv interfaces.KV, opts ...Option) *Store {
	s := &Store{
		kv:              kv,
		clock:           time.Now,
		recentWindow:    DefaultRecentWindow,
		maxContextChars: DefaultMaxContextChars,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetIndexer attaches the component that embeds marked memories. The vector index
// depends on the store, so it is usually attached after both are constructed.
func (s *Store) SetIndexer(indexer interfaces.MemoryIndexer) {
	if indexer == nil {
		s.indexer.Store(nil)
		return
	}
	s.indexer.Store(&indexerHolder{indexer})
}

func (s *Store) getIndexer() interfaces.MemoryIndexer {
	if h := s.indexer.Load(); h != nil {
		return h.MemoryIndexer
	}
	return nil
}

func (s *Store) MaxContextChars() int {
	return s.maxContextChars
}

// Init prepares the store and migrates legacy data on the first successful call.
// Concurrent callers wait for one shared run. A failure is returned to every waiter
// and is not remembered, so the caller can retry.
func (s *Store) Init(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}

	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		if s.ready.Load() {
			return nil, nil
		}
		if err := s.migrate(ctx); err != nil {
			return nil, err
		}
		s.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to initialize memory store")
	}
	return nil
}

func (s *Store) checkReady() error {
	if !s.ready.Load() {
		return model.ErrNotInitialized
	}
	return nil
}

func storageError(ctx context.Context, err error, msg string, values ...goerr.Option) error {
	wrapped := goerr.Wrap(errors.Join(model.ErrStorage, err), msg, values...)
	logging.From(ctx).Error(msg, "error", wrapped)
	return wrapped
}

func getJSON[T any](ctx context.Context, get func(ctx context.Context, bucket, key string) ([]byte, error), bucket, key string) (*T, error) {
	raw, err := get(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, goerr.Wrap(err, "failed to decode record", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return &v, nil
}

func putJSON(tx interfaces.Tx, bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return goerr.Wrap(err, "failed to encode record", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	tx.Put(bucket, key, raw)
	return nil
}

// ExportAllData dumps every record including tombstoned memories
func (s *Store) ExportAllData(ctx context.Context) (*model.Export, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}

	export := &model.Export{
		Summary:    s.summary(ctx),
		Messages:   []*model.Message{},
		Memories:   []*model.Memory{},
		Vectors:    []*model.EmbeddingVector{},
		ExportedAt: s.clock(),
	}

	if err := decodeAll(ctx, s.kv, bucketMessages, &export.Messages); err != nil {
		return nil, storageError(ctx, err, "failed to export messages")
	}
	if err := decodeAll(ctx, s.kv, bucketMemories, &export.Memories); err != nil {
		return nil, storageError(ctx, err, "failed to export memories")
	}
	if err := decodeAll(ctx, s.kv, bucketVectors, &export.Vectors); err != nil {
		return nil, storageError(ctx, err, "failed to export vectors")
	}
	return export, nil
}

func decodeAll[T any](ctx context.Context, kv interfaces.KV, bucket string, dst *[]*T) error {
	entries, err := kv.GetAll(ctx, bucket)
	if err != nil {
		return err
	}
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return goerr.Wrap(err, "failed to decode record", goerr.V("bucket", bucket), goerr.V("key", e.Key))
		}
		*dst = append(*dst, &v)
	}
	return nil
}

// ClearAllData removes the conversation, memories and vectors. The migration flag is
// kept so that legacy data is not imported again.
func (s *Store) ClearAllData(ctx context.Context) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	if err := s.kv.Clear(ctx, bucketMessages, bucketMessageIndex, bucketMemories, bucketMemoryIndex, bucketVectors); err != nil {
		return storageError(ctx, err, "failed to clear data")
	}
	if err := s.kv.Delete(ctx, bucketMeta, metaConversation); err != nil {
		return storageError(ctx, err, "failed to clear conversation summary")
	}

	if indexer := s.getIndexer(); indexer != nil {
		indexer.Reset(ctx)
	}
	logging.From(ctx).Info("cleared all memory data")
	return nil
}
