package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/utils/budget"
)

type mockIndexer struct {
	mu      sync.Mutex
	indexed []*model.Memory
	removed []model.MemoryID
	resets  int
}

func (x *mockIndexer) IndexAsync(mem *model.Memory) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.indexed = append(x.indexed, mem)
}

func (x *mockIndexer) Remove(ctx context.Context, id model.MemoryID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.removed = append(x.removed, id)
}

func (x *mockIndexer) Reset(ctx context.Context) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.resets++
}

// failingKV wraps a KV and lets tests inject failures
type failingKV struct {
	interfaces.KV
	updateFn func(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error
	scanErr  error
}

func (x *failingKV) Update(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	if x.updateFn != nil {
		return x.updateFn(ctx, fn)
	}
	return x.KV.Update(ctx, fn)
}

func (x *failingKV) Scan(ctx context.Context, bucket string, opt interfaces.ScanOptions, fn func(*interfaces.Entry) bool) error {
	if x.scanErr != nil {
		return x.scanErr
	}
	return x.KV.Scan(ctx, bucket, opt, fn)
}

func (x *failingKV) GetAll(ctx context.Context, bucket string) ([]*interfaces.Entry, error) {
	if x.scanErr != nil {
		return nil, x.scanErr
	}
	return x.KV.GetAll(ctx, bucket)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore(t *testing.T, opts ...memory.Option) *memory.Store {
	opts = append([]memory.Option{memory.WithClock(newFakeClock().Now)}, opts...)
	s := memory.New(repository.NewMemory(), opts...)
	gt.NoError(t, s.Init(context.Background()))
	return s
}

func msg(id string, role model.Role, content string, ts time.Time) *model.Message {
	return &model.Message{ID: model.MessageID(id), Role: role, Content: content, Timestamp: ts}
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSaveConversationDedupesByID(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	m1 := msg("m1", model.RoleUser, "hello", base)
	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{m1}))
	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{m1}))

	recent := s.GetRecentMessages(ctx, 10)
	gt.A(t, recent).Length(1)
	gt.Equal(t, recent[0].ID, m1.ID)
	gt.Equal(t, recent[0].Content, m1.Content)
	gt.True(t, recent[0].Timestamp.Equal(m1.Timestamp))
	gt.Equal(t, s.ConversationSummary(ctx).MessageCount, 1)
}

func TestSaveConversationKeepsTimestampOrder(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.WithRecentWindow(3))

	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{
		msg("c", model.RoleUser, "third", base.Add(3*time.Minute)),
		msg("a", model.RoleUser, "first", base.Add(1*time.Minute)),
	}))
	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{
		msg("b", model.RoleAssistant, "second", base.Add(2*time.Minute)),
		msg("d", model.RoleAssistant, "fourth", base.Add(4*time.Minute)),
		msg("a", model.RoleUser, "first again", base.Add(1*time.Minute)),
	}))

	recent := s.GetRecentMessages(ctx, 10)
	gt.A(t, recent).Length(4)
	for i, id := range []string{"a", "b", "c", "d"} {
		gt.Equal(t, string(recent[i].ID), id)
	}
	gt.Equal(t, recent[0].Content, "first")

	last2 := s.GetRecentMessages(ctx, 2)
	gt.A(t, last2).Length(2)
	gt.Equal(t, string(last2[0].ID), "c")
	gt.Equal(t, string(last2[1].ID), "d")

	summary := s.ConversationSummary(ctx)
	gt.Equal(t, summary.MessageCount, 4)
	gt.Equal(t, string(summary.FirstMessage.ID), "a")
	gt.Equal(t, string(summary.LastMessage.ID), "d")
	gt.A(t, summary.Recent).Length(3)
	gt.Equal(t, string(summary.Recent[0].ID), "b")
}

func TestSaveConversationRejectsInvalidMessages(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	err := s.SaveConversation(ctx, []*model.Message{msg("x", model.Role("robot"), "hi", base)})
	gt.True(t, errors.Is(err, model.ErrValidation))
	err = s.SaveConversation(ctx, []*model.Message{msg("", model.RoleUser, "hi", base)})
	gt.True(t, errors.Is(err, model.ErrValidation))
	gt.A(t, s.GetRecentMessages(ctx, 10)).Length(0)
}

func TestConcurrentAppendsAreCommutative(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := msg(fmt.Sprintf("m%02d", i), model.RoleUser, "x", base.Add(time.Duration(i)*time.Second))
			// every message is saved twice from different goroutines
			_ = s.SaveConversation(ctx, []*model.Message{m})
			_ = s.SaveConversation(ctx, []*model.Message{m})
		}(i)
	}
	wg.Wait()

	recent := s.GetRecentMessages(ctx, 100)
	gt.A(t, recent).Length(20)
	for i := 1; i < len(recent); i++ {
		gt.True(t, recent[i-1].Before(recent[i]))
	}
	gt.Equal(t, s.ConversationSummary(ctx).MessageCount, 20)
}

func TestMarkAsImportantRoundTrip(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := newStore(t, memory.WithIndexer(indexer))

	mem, err := s.MarkAsImportant(ctx, "msg1", "Remember my dog's name is Rex", "chat")
	gt.NoError(t, err)
	gt.Equal(t, mem.Content, "Remember my dog's name is Rex")
	gt.Equal(t, mem.Context, "chat")
	gt.True(t, mem.Important)

	memories := s.GetMarkedMemories(ctx)
	gt.A(t, memories).Length(1)
	gt.Equal(t, memories[0].ID, mem.ID)
	gt.Equal(t, memories[0].Content, "Remember my dog's name is Rex")

	gt.S(t, s.GetContextForPrompt(ctx)).Contains("Rex")

	gt.A(t, indexer.indexed).Length(1)
	gt.Equal(t, indexer.indexed[0].ID, mem.ID)
}

func TestMarkAsImportantSameMessageTwice(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := newStore(t, memory.WithIndexer(indexer))

	first, err := s.MarkAsImportant(ctx, "msg1", "my locker code is 1234", "chat", "secret")
	gt.NoError(t, err)
	gt.Equal(t, first.Tag, "secret")
	second, err := s.MarkAsImportant(ctx, "msg1", "my locker code is 1234", "chat")
	gt.NoError(t, err)
	gt.Equal(t, second.ID, first.ID)
	gt.A(t, s.GetMarkedMemories(ctx)).Length(1)
	gt.A(t, indexer.indexed).Length(1)

	_, err = s.MarkAsImportant(ctx, "msg2", "   ", "chat")
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestGetMarkedMemoriesMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 3; i++ {
		_, err := s.MarkAsImportant(ctx, model.MessageID(fmt.Sprintf("m%d", i)), fmt.Sprintf("memory %d", i), "chat")
		gt.NoError(t, err)
	}

	memories := s.GetMarkedMemories(ctx)
	gt.A(t, memories).Length(3)
	gt.Equal(t, memories[0].Content, "memory 2")
	gt.Equal(t, memories[2].Content, "memory 0")
}

func TestForgetMemory(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := newStore(t, memory.WithIndexer(indexer))

	mem, err := s.MarkAsImportant(ctx, "m1", "I am allergic to peanuts", "health")
	gt.NoError(t, err)
	gt.NoError(t, s.PutVector(ctx, &model.EmbeddingVector{OwnerID: mem.ID, Vector: []float32{1, 0}}))
	gt.A(t, s.ListVectors(ctx)).Length(1)

	gt.NoError(t, s.ForgetMemory(ctx, mem.ID))
	gt.A(t, s.GetMarkedMemories(ctx)).Length(0)
	gt.A(t, s.ListVectors(ctx)).Length(0)
	gt.Equal(t, indexer.removed, []model.MemoryID{mem.ID})
	gt.S(t, s.GetContextForPrompt(ctx)).NotContains("peanuts")

	// a late embedding must not revive the memory
	err = s.PutVector(ctx, &model.EmbeddingVector{OwnerID: mem.ID, Vector: []float32{1, 0}})
	gt.True(t, errors.Is(err, model.ErrNotFound))

	// the tombstone is kept in the export
	export, err := s.ExportAllData(ctx)
	gt.NoError(t, err)
	gt.A(t, export.Memories).Length(1)
	gt.True(t, export.Memories[0].Deleted())

	err = s.ForgetMemory(ctx, "no-such-memory")
	gt.True(t, errors.Is(err, model.ErrNotFound))
}

func TestGetContextForPromptBudget(t *testing.T) {
	ctx := context.Background()

	for _, max := range []int{0, 1, 20, 64, 150, 400, 2000} {
		t.Run(fmt.Sprint(max), func(t *testing.T) {
			s := newStore(t, memory.WithMaxContextChars(max))
			gt.NoError(t, s.SaveConversation(ctx, []*model.Message{msg("m1", model.RoleUser, "hi", base)}))
			for i := 0; i < 30; i++ {
				content := fmt.Sprintf("memory number %d %s", i, strings.Repeat("ぬ", i*3))
				_, err := s.MarkAsImportant(ctx, model.MessageID(fmt.Sprint(i)), content, "chat")
				gt.NoError(t, err)
			}

			out := s.GetContextForPrompt(ctx)
			gt.True(t, budget.Len(out) <= max)
		})
	}
}

func TestGetContextForPromptDropsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.WithMaxContextChars(120))

	_, err := s.MarkAsImportant(ctx, "old", "the oldest memory is about cats", "chat")
	gt.NoError(t, err)
	_, err = s.MarkAsImportant(ctx, "new", "the newest memory is about dogs", "chat")
	gt.NoError(t, err)
	_, err = s.MarkAsImportant(ctx, "newer", "the latest memory is about birds", "chat")
	gt.NoError(t, err)

	out := s.GetContextForPrompt(ctx)
	gt.S(t, out).Contains("birds")
	gt.S(t, out).NotContains("cats")
}

func TestInitSharesOneRunAndMigratesOnce(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemory()

	gt.NoError(t, memory.WriteLegacy(ctx, kv,
		[]memory.LegacyMessage{
			{ID: "l2", Role: "assistant", Content: "hi there", Timestamp: base.Add(time.Minute).UnixMilli()},
			{ID: "l1", Role: "user", Content: "hello", Timestamp: base.UnixMilli()},
			{ID: "bad", Role: "alien", Content: "???", Timestamp: base.UnixMilli()},
		},
		[]memory.LegacyMemory{
			{ID: "mem1", MessageID: "l1", Content: "likes green tea", Context: "chat", Timestamp: base.UnixMilli()},
		},
	))

	var updates atomic.Int32
	wrapped := &failingKV{KV: kv}
	wrapped.updateFn = func(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
		updates.Add(1)
		time.Sleep(10 * time.Millisecond)
		return kv.Update(ctx, fn)
	}

	s := memory.New(wrapped)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Init(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		gt.NoError(t, err)
	}
	gt.Equal(t, updates.Load(), int32(1))

	recent := s.GetRecentMessages(ctx, 10)
	gt.A(t, recent).Length(2)
	gt.Equal(t, string(recent[0].ID), "l1")
	gt.Equal(t, string(recent[1].ID), "l2")

	memories := s.GetMarkedMemories(ctx)
	gt.A(t, memories).Length(1)
	gt.Equal(t, memories[0].Content, "likes green tea")

	// a second store over the same data does not migrate again
	s2 := memory.New(kv)
	gt.NoError(t, s2.Init(ctx))
	gt.A(t, s2.GetRecentMessages(ctx, 10)).Length(2)
	gt.A(t, s2.GetMarkedMemories(ctx)).Length(1)
}

func TestInitFailureCanBeRetried(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemory()

	fail := true
	wrapped := &failingKV{KV: kv}
	wrapped.updateFn = func(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
		if fail {
			return errors.New("disk on fire")
		}
		return kv.Update(ctx, fn)
	}

	s := memory.New(wrapped)
	gt.Error(t, s.Init(ctx))

	// operations before a successful init are rejected or empty
	_, err := s.MarkAsImportant(ctx, "m", "content", "chat")
	gt.True(t, errors.Is(err, model.ErrNotInitialized))
	gt.A(t, s.GetRecentMessages(ctx, 5)).Length(0)
	gt.Equal(t, s.GetContextForPrompt(ctx), "")

	fail = false
	gt.NoError(t, s.Init(ctx))
	_, err = s.MarkAsImportant(ctx, "m", "content", "chat")
	gt.NoError(t, err)
}

func TestStorageErrorsDegradeReads(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemory()
	wrapped := &failingKV{KV: kv}
	s := memory.New(wrapped)
	gt.NoError(t, s.Init(ctx))

	_, err := s.MarkAsImportant(ctx, "m", "remember this", "chat")
	gt.NoError(t, err)

	wrapped.scanErr = errors.New("connection reset")
	gt.A(t, s.GetRecentMessages(ctx, 5)).Length(0)
	gt.A(t, s.GetMarkedMemories(ctx)).Length(0)
	gt.A(t, s.ListVectors(ctx)).Length(0)

	_, err = s.ExportAllData(ctx)
	gt.True(t, errors.Is(err, model.ErrStorage))

	wrapped.updateFn = func(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
		return errors.New("read only")
	}
	err = s.SaveConversation(ctx, []*model.Message{msg("m1", model.RoleUser, "hi", base)})
	gt.True(t, errors.Is(err, model.ErrStorage))
}

func TestExportAndClear(t *testing.T) {
	ctx := context.Background()
	indexer := &mockIndexer{}
	s := newStore(t, memory.WithIndexer(indexer))

	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{
		msg("m1", model.RoleUser, "hi", base),
		msg("m2", model.RoleAssistant, "hello", base.Add(time.Second)),
	}))
	mem, err := s.MarkAsImportant(ctx, "m1", "favorite color is blue", "chat")
	gt.NoError(t, err)
	gt.NoError(t, s.PutVector(ctx, &model.EmbeddingVector{OwnerID: mem.ID, Vector: []float32{0.1, 0.2}}))

	export, err := s.ExportAllData(ctx)
	gt.NoError(t, err)
	gt.A(t, export.Messages).Length(2)
	gt.A(t, export.Memories).Length(1)
	gt.A(t, export.Vectors).Length(1)
	gt.Equal(t, export.Summary.MessageCount, 2)

	gt.NoError(t, s.ClearAllData(ctx))
	gt.Equal(t, indexer.resets, 1)
	gt.A(t, s.GetRecentMessages(ctx, 10)).Length(0)
	gt.A(t, s.GetMarkedMemories(ctx)).Length(0)
	gt.Equal(t, s.ConversationSummary(ctx).MessageCount, 0)
	gt.Equal(t, s.GetContextForPrompt(ctx), "")

	// ids are free again after a reset
	gt.NoError(t, s.SaveConversation(ctx, []*model.Message{msg("m1", model.RoleUser, "hi", base)}))
	gt.A(t, s.GetRecentMessages(ctx, 10)).Length(1)
}
