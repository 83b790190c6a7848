package repository

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
)

type write struct {
	bucket string
	key    string
	value  []byte
	delete bool
}

// bufferedTx collects writes and applies them at commit. Reads see the transaction's own
// writes first and then fall back to the backend reader.
type bufferedTx struct {
	read    func(ctx context.Context, bucket, key string) ([]byte, error)
	writes  []*write
	overlay map[string]*write
}

func newBufferedTx(read func(ctx context.Context, bucket, key string) ([]byte, error)) *bufferedTx {
	return &bufferedTx{
		read:    read,
		overlay: make(map[string]*write),
	}
}

func overlayKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (x *bufferedTx) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if w, ok := x.overlay[overlayKey(bucket, key)]; ok {
		if w.delete {
			return nil, model.ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return x.read(ctx, bucket, key)
}

func (x *bufferedTx) Put(bucket, key string, value []byte) {
	w := &write{bucket: bucket, key: key, value: append([]byte(nil), value...)}
	x.writes = append(x.writes, w)
	x.overlay[overlayKey(bucket, key)] = w
}

func (x *bufferedTx) Delete(bucket, key string) {
	w := &write{bucket: bucket, key: key, delete: true}
	x.writes = append(x.writes, w)
	x.overlay[overlayKey(bucket, key)] = w
}

// pending returns the final write per key in first-write order
func (x *bufferedTx) pending() []*write {
	seen := make(map[string]struct{}, len(x.overlay))
	out := make([]*write, 0, len(x.overlay))
	for _, w := range x.writes {
		k := overlayKey(w.bucket, w.key)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, x.overlay[k])
	}
	return out
}
