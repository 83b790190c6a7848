package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// Keys of the legacy flat layout, one JSON array per key in the legacy bucket
const (
	LegacyChatHistoryKey = "chat_history"
	LegacyMemoriesKey    = "important_memories"
)

// LegacyMessage is a message of the flat layout. Timestamp is in unix milliseconds.
type LegacyMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// LegacyMemory is a marked memory of the flat layout. Timestamp is in unix milliseconds.
type LegacyMemory struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
	Context   string `json:"context"`
	Tag       string `json:"tag,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// WriteLegacy stores data in the flat layout. It exists for importing data exported by
// older clients.
func WriteLegacy(ctx context.Context, kv interfaces.KV, messages []LegacyMessage, memories []LegacyMemory) error {
	return kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		if messages != nil {
			if err := putJSON(tx, bucketLegacy, LegacyChatHistoryKey, messages); err != nil {
				return err
			}
		}
		if memories != nil {
			if err := putJSON(tx, bucketLegacy, LegacyMemoriesKey, memories); err != nil {
				return err
			}
		}
		return nil
	})
}

func readLegacy[T any](ctx context.Context, tx interfaces.Tx, key string) ([]T, error) {
	list, err := getJSON[[]T](ctx, tx.Get, bucketLegacy, key)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return *list, nil
}

// migrate imports the legacy layout in one transaction and marks the store as migrated
func (s *Store) migrate(ctx context.Context) error {
	var migratedMessages, migratedMemories int

	err := s.kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		migratedMessages, migratedMemories = 0, 0

		_, err := tx.Get(ctx, bucketMeta, metaMigrated)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		legacyMessages, err := readLegacy[LegacyMessage](ctx, tx, LegacyChatHistoryKey)
		if err != nil {
			return goerr.Wrap(err, "failed to read legacy chat history")
		}
		legacyMemories, err := readLegacy[LegacyMemory](ctx, tx, LegacyMemoriesKey)
		if err != nil {
			return goerr.Wrap(err, "failed to read legacy memories")
		}

		messages := make([]*model.Message, 0, len(legacyMessages))
		for _, lm := range legacyMessages {
			m := &model.Message{
				ID:        model.MessageID(lm.ID),
				Role:      model.Role(lm.Role),
				Content:   lm.Content,
				Timestamp: time.UnixMilli(lm.Timestamp).UTC(),
			}
			if err := m.Validate(); err != nil {
				logging.From(ctx).Warn("skip invalid legacy message", "id", lm.ID, "error", err)
				continue
			}
			messages = append(messages, m)
		}
		sort.SliceStable(messages, func(i, j int) bool { return messages[i].Before(messages[j]) })

		n, err := s.appendMessages(ctx, tx, messages)
		if err != nil {
			return err
		}
		migratedMessages = n

		for _, lm := range legacyMemories {
			if lm.Content == "" {
				continue
			}
			mem := &model.Memory{
				ID:        model.MemoryID(lm.ID),
				MessageID: model.MessageID(lm.MessageID),
				Content:   lm.Content,
				Context:   lm.Context,
				Tag:       lm.Tag,
				Important: true,
				CreatedAt: time.UnixMilli(lm.Timestamp).UTC(),
			}
			if mem.ID == "" {
				mem.ID = model.NewMemoryID()
			}
			if mem.MessageID == "" {
				mem.MessageID = model.NewMessageID()
			}
			if err := putJSON(tx, bucketMemories, string(mem.ID), mem); err != nil {
				return err
			}
			tx.Put(bucketMemoryIndex, string(mem.MessageID), []byte(mem.ID))
			migratedMemories++
		}

		tx.Delete(bucketLegacy, LegacyChatHistoryKey)
		tx.Delete(bucketLegacy, LegacyMemoriesKey)

		raw, err := json.Marshal(s.clock())
		if err != nil {
			return goerr.Wrap(err, "failed to encode migration time")
		}
		tx.Put(bucketMeta, metaMigrated, raw)
		return nil
	})
	if err != nil {
		return goerr.Wrap(err, "failed to migrate legacy data")
	}

	if migratedMessages > 0 || migratedMemories > 0 {
		logging.From(ctx).Info("migrated legacy data",
			"messages", migratedMessages,
			"memories", migratedMemories)
	}
	return nil
}
