package interfaces

import (
	"context"
)

// Entry is a key/value pair of a bucket
type Entry struct {
	Key   string
	Value []byte
}

// ScanOptions controls a cursor scan over a bucket
type ScanOptions struct {
	// Reverse walks keys in descending order
	Reverse bool
	// Limit stops the scan after Limit entries. Zero means no limit.
	Limit int
}

// Tx is a read/write view of the store inside a transaction. Writes become visible to
// other readers only after the transaction commits.
type Tx interface {
	// Get returns model.ErrNotFound when the key does not exist
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(bucket, key string, value []byte)
	Delete(bucket, key string)
}

// KV is an abstract transactional key-value store. Keys in a bucket are ordered bytewise.
type KV interface {
	// Get returns model.ErrNotFound when the key does not exist
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, value []byte) error
	Delete(ctx context.Context, bucket, key string) error

	// GetAll returns every entry of the bucket in ascending key order
	GetAll(ctx context.Context, bucket string) ([]*Entry, error)

	// Scan walks the bucket in key order and stops when fn returns false
	Scan(ctx context.Context, bucket string, opt ScanOptions, fn func(*Entry) bool) error

	// Update runs fn in a transaction. If fn returns an error nothing is written.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Clear removes every entry of the given buckets
	Clear(ctx context.Context, buckets ...string) error

	Close() error
}
