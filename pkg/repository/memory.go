package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
)

type bucket struct {
	values map[string][]byte
	// keys is kept sorted so that scans cost O(limit)
	keys []string
}

// Memory is an in-process KV store. Transactions are serialized by a single lock.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

func NewMemory() *Memory {
	return &Memory{
		buckets: make(map[string]*bucket),
	}
}

func (m *Memory) getLocked(bucketName, key string) ([]byte, error) {
	b, ok := m.buckets[bucketName]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "bucket is empty", goerr.V("bucket", bucketName), goerr.V("key", key))
	}
	v, ok := b.values[key]
	if !ok {
		return nil, goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("bucket", bucketName), goerr.V("key", key))
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) putLocked(bucketName, key string, value []byte) {
	b, ok := m.buckets[bucketName]
	if !ok {
		b = &bucket{values: make(map[string][]byte)}
		m.buckets[bucketName] = b
	}
	if _, exists := b.values[key]; !exists {
		i := sort.SearchStrings(b.keys, key)
		b.keys = append(b.keys, "")
		copy(b.keys[i+1:], b.keys[i:])
		b.keys[i] = key
	}
	b.values[key] = append([]byte(nil), value...)
}

func (m *Memory) deleteLocked(bucketName, key string) {
	b, ok := m.buckets[bucketName]
	if !ok {
		return
	}
	if _, exists := b.values[key]; !exists {
		return
	}
	delete(b.values, key)
	i := sort.SearchStrings(b.keys, key)
	b.keys = append(b.keys[:i], b.keys[i+1:]...)
}

func (m *Memory) Get(ctx context.Context, bucketName, key string) ([]byte, error) {
	if err := validateName(bucketName, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(bucketName, key)
}

func (m *Memory) Put(ctx context.Context, bucketName, key string, value []byte) error {
	if err := validateName(bucketName, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(bucketName, key, value)
	return nil
}

func (m *Memory) Delete(ctx context.Context, bucketName, key string) error {
	if err := validateName(bucketName, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(bucketName, key)
	return nil
}

func (m *Memory) GetAll(ctx context.Context, bucketName string) ([]*interfaces.Entry, error) {
	var entries []*interfaces.Entry
	err := m.Scan(ctx, bucketName, interfaces.ScanOptions{}, func(e *interfaces.Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, err
}

func (m *Memory) Scan(ctx context.Context, bucketName string, opt interfaces.ScanOptions, fn func(*interfaces.Entry) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[bucketName]
	if !ok {
		return nil
	}

	n := len(b.keys)
	for i := 0; i < n; i++ {
		if opt.Limit > 0 && i >= opt.Limit {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(err, "scan canceled")
		}

		key := b.keys[i]
		if opt.Reverse {
			key = b.keys[n-1-i]
		}
		entry := &interfaces.Entry{Key: key, Value: append([]byte(nil), b.values[key]...)}
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newBufferedTx(func(_ context.Context, bucketName, key string) ([]byte, error) {
		return m.getLocked(bucketName, key)
	})
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for _, w := range tx.pending() {
		if err := validateName(w.bucket, w.key); err != nil {
			return err
		}
	}
	for _, w := range tx.pending() {
		if w.delete {
			m.deleteLocked(w.bucket, w.key)
		} else {
			m.putLocked(w.bucket, w.key, w.value)
		}
	}
	return nil
}

func (m *Memory) Clear(ctx context.Context, buckets ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range buckets {
		delete(m.buckets, name)
	}
	return nil
}

func (m *Memory) Close() error {
	return nil
}
