package repository

import (
	"context"
	"errors"
	"net/url"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore maps each bucket to a collection. The original key is kept in a field so that
// ordered queries do not depend on document ID escaping.
type Firestore struct {
	client *firestore.Client
	prefix string
}

type kvDocument struct {
	Key   string `firestore:"key"`
	Value []byte `firestore:"value"`
}

type FirestoreOption func(*Firestore)

// WithCollectionPrefix sets the prefix of every collection name
func WithCollectionPrefix(prefix string) FirestoreOption {
	return func(f *Firestore) {
		f.prefix = prefix
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	f := &Firestore{
		client: client,
		prefix: "mnemo",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) collection(bucket string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + "_" + bucket)
}

func (f *Firestore) doc(bucket, key string) *firestore.DocumentRef {
	return f.collection(bucket).Doc(url.PathEscape(key))
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*interfaces.Entry, error) {
	var d kvDocument
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
	}
	return &interfaces.Entry{Key: d.Key, Value: d.Value}, nil
}

func notFound(err error, bucket, key string) error {
	if status.Code(err) == codes.NotFound {
		return goerr.Wrap(model.ErrNotFound, "key not found", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return goerr.Wrap(err, "failed to get document", goerr.V("bucket", bucket), goerr.V("key", key))
}

func (f *Firestore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := validateName(bucket, key); err != nil {
		return nil, err
	}

	snap, err := f.doc(bucket, key).Get(ctx)
	if err != nil {
		return nil, notFound(err, bucket, key)
	}
	entry, err := decodeSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

func (f *Firestore) Put(ctx context.Context, bucket, key string, value []byte) error {
	if err := validateName(bucket, key); err != nil {
		return err
	}
	if _, err := f.doc(bucket, key).Set(ctx, &kvDocument{Key: key, Value: value}); err != nil {
		return goerr.Wrap(err, "failed to put document", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return nil
}

func (f *Firestore) Delete(ctx context.Context, bucket, key string) error {
	if err := validateName(bucket, key); err != nil {
		return err
	}
	if _, err := f.doc(bucket, key).Delete(ctx); err != nil {
		return goerr.Wrap(err, "failed to delete document", goerr.V("bucket", bucket), goerr.V("key", key))
	}
	return nil
}

func (f *Firestore) GetAll(ctx context.Context, bucket string) ([]*interfaces.Entry, error) {
	var entries []*interfaces.Entry
	err := f.Scan(ctx, bucket, interfaces.ScanOptions{}, func(e *interfaces.Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, err
}

func (f *Firestore) Scan(ctx context.Context, bucket string, opt interfaces.ScanOptions, fn func(*interfaces.Entry) bool) error {
	dir := firestore.Asc
	if opt.Reverse {
		dir = firestore.Desc
	}
	q := f.collection(bucket).OrderBy("key", dir)
	if opt.Limit > 0 {
		q = q.Limit(opt.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return goerr.Wrap(err, "failed to iterate documents", goerr.V("bucket", bucket))
		}

		entry, err := decodeSnapshot(snap)
		if err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
}

func (f *Firestore) Update(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	return f.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		tx := newBufferedTx(func(ctx context.Context, bucket, key string) ([]byte, error) {
			snap, err := ftx.Get(f.doc(bucket, key))
			if err != nil {
				return nil, notFound(err, bucket, key)
			}
			entry, err := decodeSnapshot(snap)
			if err != nil {
				return nil, err
			}
			return entry.Value, nil
		})

		if err := fn(ctx, tx); err != nil {
			return err
		}

		// Firestore requires all reads to happen before any write
		for _, w := range tx.pending() {
			if err := validateName(w.bucket, w.key); err != nil {
				return err
			}
			ref := f.doc(w.bucket, w.key)
			if w.delete {
				if err := ftx.Delete(ref); err != nil {
					return goerr.Wrap(err, "failed to delete in transaction", goerr.V("bucket", w.bucket), goerr.V("key", w.key))
				}
				continue
			}
			if err := ftx.Set(ref, &kvDocument{Key: w.key, Value: w.value}); err != nil {
				return goerr.Wrap(err, "failed to set in transaction", goerr.V("bucket", w.bucket), goerr.V("key", w.key))
			}
		}
		return nil
	})
}

func (f *Firestore) Clear(ctx context.Context, buckets ...string) error {
	bw := f.client.BulkWriter(ctx)

	var jobs []writeJob
	var paths []string
	for _, bucket := range buckets {
		iter := f.collection(bucket).DocumentRefs(ctx)
		for {
			ref, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				bw.End()
				return goerr.Wrap(err, "failed to list documents", goerr.V("bucket", bucket))
			}
			job, err := bw.Delete(ref)
			if err != nil {
				bw.End()
				return goerr.Wrap(err, "failed to enqueue delete", goerr.V("bucket", bucket), goerr.V("id", ref.ID))
			}
			jobs = append(jobs, job)
			paths = append(paths, ref.Path)
		}
	}
	bw.End()

	return checkJobs(jobs, paths)
}

// writeJob is the part of firestore.BulkWriterJob that Clear waits on
type writeJob interface {
	Results() (*firestore.WriteResult, error)
}

// checkJobs waits for every bulk write and reports the failed ones
func checkJobs(jobs []writeJob, paths []string) error {
	var failed []string
	var first error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed = append(failed, paths[i])
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return goerr.Wrap(first, "failed to delete documents", goerr.V("failed", len(failed)), goerr.V("paths", failed))
	}
	return nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
