package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// messageKey orders messages by timestamp then id. The sign bit is flipped so that
// the unsigned decimal form sorts like the signed nanosecond value.
func messageKey(m *model.Message) string {
	return fmt.Sprintf("%020d_%s", uint64(m.Timestamp.UnixNano())^(1<<63), m.ID)
}

// SaveConversation merges messages into the continuous conversation. Messages already
// stored (by id) are skipped, so saving the same batch twice is harmless.
func (s *Store) SaveConversation(ctx context.Context, messages []*model.Message) error {
	if err := s.checkReady(); err != nil {
		return err
	}

	batch := make([]*model.Message, 0, len(messages))
	for _, m := range messages {
		if err := m.Validate(); err != nil {
			return err
		}
		msg := *m
		if msg.Timestamp.IsZero() {
			msg.Timestamp = s.clock()
		}
		batch = append(batch, &msg)
	}
	if len(batch) == 0 {
		return nil
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Before(batch[j]) })

	var added int
	err := s.kv.Update(ctx, func(ctx context.Context, tx interfaces.Tx) error {
		n, err := s.appendMessages(ctx, tx, batch)
		added = n
		return err
	})
	if err != nil {
		return storageError(ctx, err, "failed to save conversation", goerr.V("count", len(batch)))
	}

	logging.From(ctx).Debug("saved conversation", "received", len(batch), "added", added)
	return nil
}

func (s *Store) appendMessages(ctx context.Context, tx interfaces.Tx, batch []*model.Message) (int, error) {
	summary, err := getJSON[model.ConversationSummary](ctx, tx.Get, bucketMeta, metaConversation)
	if errors.Is(err, model.ErrNotFound) {
		summary = &model.ConversationSummary{}
	} else if err != nil {
		return 0, err
	}

	added := 0
	for _, m := range batch {
		_, err := tx.Get(ctx, bucketMessageIndex, string(m.ID))
		if err == nil {
			continue
		}
		if !errors.Is(err, model.ErrNotFound) {
			return 0, err
		}

		key := messageKey(m)
		if err := putJSON(tx, bucketMessages, key, m); err != nil {
			return 0, err
		}
		tx.Put(bucketMessageIndex, string(m.ID), []byte(key))
		s.addToSummary(summary, m)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	summary.UpdatedAt = s.clock()
	return added, putJSON(tx, bucketMeta, metaConversation, summary)
}

func (s *Store) addToSummary(summary *model.ConversationSummary, m *model.Message) {
	summary.MessageCount++
	if summary.FirstMessage == nil || m.Before(summary.FirstMessage) {
		summary.FirstMessage = m
	}
	if summary.LastMessage == nil || summary.LastMessage.Before(m) {
		summary.LastMessage = m
	}

	if s.recentWindow <= 0 {
		summary.Recent = nil
		return
	}
	i := sort.Search(len(summary.Recent), func(i int) bool { return m.Before(summary.Recent[i]) })
	summary.Recent = append(summary.Recent, nil)
	copy(summary.Recent[i+1:], summary.Recent[i:])
	summary.Recent[i] = m
	if over := len(summary.Recent) - s.recentWindow; over > 0 {
		summary.Recent = summary.Recent[over:]
	}
}

func (s *Store) summary(ctx context.Context) *model.ConversationSummary {
	summary, err := getJSON[model.ConversationSummary](ctx, s.kv.Get, bucketMeta, metaConversation)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			_ = storageError(ctx, err, "failed to load conversation summary")
		}
		return &model.ConversationSummary{}
	}
	return summary
}

// ConversationSummary returns derived fields of the whole conversation
func (s *Store) ConversationSummary(ctx context.Context) *model.ConversationSummary {
	if s.checkReady() != nil {
		return &model.ConversationSummary{}
	}
	return s.summary(ctx)
}

// GetRecentMessages returns up to limit latest messages, oldest first. Only limit
// records are read regardless of the history size.
func (s *Store) GetRecentMessages(ctx context.Context, limit int) []*model.Message {
	messages := []*model.Message{}
	if limit <= 0 || s.checkReady() != nil {
		return messages
	}

	err := s.kv.Scan(ctx, bucketMessages, interfaces.ScanOptions{Reverse: true, Limit: limit}, func(e *interfaces.Entry) bool {
		var m model.Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			logging.From(ctx).Warn("skip broken message record", "key", e.Key, "error", err)
			return true
		}
		messages = append(messages, &m)
		return true
	})
	if err != nil {
		_ = storageError(ctx, err, "failed to scan recent messages", goerr.V("limit", limit))
		return []*model.Message{}
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}
