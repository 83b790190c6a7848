package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// MarkAsImportant stores content as a long-term memory and hands it to the indexer for
// embedding without waiting. Marking the same message twice returns the existing memory.
func (s *Store) MarkAsImportant(ctx context.Context, messageID model.MessageID, content, contextTag string, tag ...string) (*model.Memory, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "memory content is empty", goerr.V("message_id", messageID))
	}
	if messageID == "" {
		messageID = model.NewMessageID()
	}

	mem := &model.Memory{
		ID:        model.NewMemoryID(),
		MessageID: messageID,
		Content:   content,
		Context:   contextTag,
		Important: true,
		CreatedAt: s.clock(),
	}
	if len(tag) > 0 {
		mem.Tag = tag[0]
	}

	var existing *model.Memory
	err := s.kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		existing = nil
		raw, err := tx.Get(ctx, bucketMemoryIndex, string(messageID))
		switch {
		case err == nil:
			found, err := getJSON[model.Memory](ctx, tx.Get, bucketMemories, string(raw))
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			if found != nil && !found.Deleted() {
				existing = found
				return nil
			}
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		if err := putJSON(tx, bucketMemories, string(mem.ID), mem); err != nil {
			return err
		}
		tx.Put(bucketMemoryIndex, string(messageID), []byte(mem.ID))
		return nil
	})
	if err != nil {
		return nil, storageError(ctx, err, "failed to mark memory", goerr.V("message_id", messageID))
	}
	if existing != nil {
		return existing, nil
	}

	logging.From(ctx).Info("marked memory as important", "memory_id", mem.ID, "message_id", messageID)
	if indexer := s.getIndexer(); indexer != nil {
		indexer.IndexAsync(mem)
	}
	return mem, nil
}

// GetMarkedMemories returns every non-deleted memory, most recent first
func (s *Store) GetMarkedMemories(ctx context.Context) []*model.Memory {
	memories := []*model.Memory{}
	if s.checkReady() != nil {
		return memories
	}

	var all []*model.Memory
	if err := decodeAll(ctx, s.kv, bucketMemories, &all); err != nil {
		_ = storageError(ctx, err, "failed to load memories")
		return memories
	}

	for _, m := range all {
		if !m.Deleted() {
			memories = append(memories, m)
		}
	}
	sort.Slice(memories, func(i, j int) bool {
		if !memories[i].CreatedAt.Equal(memories[j].CreatedAt) {
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		}
		return memories[i].ID > memories[j].ID
	})
	return memories
}

// ForgetMemory tombstones the memory and its vector
func (s *Store) ForgetMemory(ctx context.Context, id model.MemoryID) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	err := s.kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		mem, err := getJSON[model.Memory](ctx, tx.Get, bucketMemories, string(id))
		if err != nil {
			return err
		}
		if !mem.Deleted() {
			now := s.clock()
			mem.DeletedAt = &now
			if err := putJSON(tx, bucketMemories, string(id), mem); err != nil {
				return err
			}
		}

		vec, err := getJSON[model.EmbeddingVector](ctx, tx.Get, bucketVectors, string(id))
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		vec.Deleted = true
		vec.Vector = nil
		return putJSON(tx, bucketVectors, string(id), vec)
	})
	if errors.Is(err, model.ErrNotFound) {
		return goerr.Wrap(err, "memory not found", goerr.V("memory_id", id))
	}
	if err != nil {
		return storageError(ctx, err, "failed to forget memory", goerr.V("memory_id", id))
	}

	if indexer := s.getIndexer(); indexer != nil {
		indexer.Remove(ctx, id)
	}
	logging.From(ctx).Info("forgot memory", "memory_id", id)
	return nil
}

// PutVector stores the embedding of a memory. It fails with model.ErrNotFound when the
// memory is gone or forgotten, so a late embedding cannot revive it.
func (s *Store) PutVector(ctx context.Context, v *model.EmbeddingVector) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	err := s.kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		mem, err := getJSON[model.Memory](ctx, tx.Get, bucketMemories, string(v.OwnerID))
		if err != nil {
			return err
		}
		if mem.Deleted() {
			return goerr.Wrap(model.ErrNotFound, "memory is forgotten", goerr.V("memory_id", v.OwnerID))
		}
		return putJSON(tx, bucketVectors, string(v.OwnerID), v)
	})
	if errors.Is(err, model.ErrNotFound) {
		return err
	}
	if err != nil {
		return storageError(ctx, err, "failed to put vector", goerr.V("memory_id", v.OwnerID))
	}
	return nil
}

// ListVectors returns every live vector
func (s *Store) ListVectors(ctx context.Context) []*model.EmbeddingVector {
	vectors := []*model.EmbeddingVector{}
	if s.checkReady() != nil {
		return vectors
	}

	err := s.kv.Scan(ctx, bucketVectors, interfaces.ScanOptions{}, func(e *interfaces.Entry) bool {
		var v model.EmbeddingVector
		if err := json.Unmarshal(e.Value, &v); err != nil {
			logging.From(ctx).Warn("skip broken vector record", "key", e.Key, "error", err)
			return true
		}
		if !v.Deleted && len(v.Vector) > 0 {
			vectors = append(vectors, &v)
		}
		return true
	})
	if err != nil {
		_ = storageError(ctx, err, "failed to list vectors")
		return []*model.EmbeddingVector{}
	}
	return vectors
}

// DeleteVector drops the stored vector of a memory. The memory itself is kept and can be
// embedded again.
func (s *Store) DeleteVector(ctx context.Context, id model.MemoryID) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	err := s.kv.Delete(ctx, bucketVectors, string(id))
	if err != nil {
		return storageError(ctx, err, "failed to delete vector", goerr.V("memory_id", id))
	}
	return nil
}
