package adapter

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
)

// Storage uploads data exports to a Cloud Storage bucket
type Storage struct {
	bucketName string
	client     *storage.Client
}

func NewStorage(ctx context.Context, bucketName string) (*Storage, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &Storage{
		bucketName: bucketName,
		client:     client,
	}, nil
}

// Upload writes r to the object named key. The object is only committed when the
// whole body has been written.
func (s *Storage) Upload(ctx context.Context, key, contentType string, r io.Reader) error {
	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write object", goerr.V("bucket", s.bucketName), goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to commit object", goerr.V("bucket", s.bucketName), goerr.V("key", key))
	}
	return nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}
