package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/adapter"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/repository"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/m-mizutani/mnemo/pkg/service/vectorindex"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/usecase/orchestrator"
	"github.com/m-mizutani/mnemo/pkg/usecase/relevance"
	"github.com/m-mizutani/mnemo/pkg/utils/budget"
)

var now = time.Date(2026, 3, 2, 15, 4, 0, 0, time.UTC)

func snapshot() *model.ContextSnapshot {
	return &model.ContextSnapshot{
		Time:     model.TimeContext{Now: now},
		Location: model.LocationContext{City: "Lisbon", Country: "Portugal"},
		User:     model.UserProfile{Name: "Ana"},
	}
}

type fixture struct {
	store *memory.Store
	index *vectorindex.Index
	orch  *orchestrator.Orchestrator
}

func setup(t *testing.T, opts ...orchestrator.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	store := memory.New(repository.NewMemory())
	gt.NoError(t, store.Init(ctx))

	index, err := vectorindex.New(adapter.NewHashEmbedder(256), store)
	gt.NoError(t, err)
	store.SetIndexer(index)

	pre := preprocess.New()
	opts = append([]orchestrator.Option{
		orchestrator.WithRetriever(index),
		orchestrator.WithSnapshot(snapshot()),
		orchestrator.WithClock(func() time.Time { return now }),
	}, opts...)
	orch := orchestrator.New(pre, store, relevance.New(pre), opts...)
	return &fixture{store: store, index: index, orch: orch}
}

func TestProcessRejectsEmptyQuery(t *testing.T) {
	f := setup(t)
	_, err := f.orch.Process(context.Background(), "  ", nil)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrValidation))
}

func TestProcessAssemblesSectionsInOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	gt.NoError(t, f.store.SaveConversation(ctx, []*model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "I just got a puppy", Timestamp: now.Add(-2 * time.Minute)},
		{ID: "m2", Role: model.RoleAssistant, Content: "Congratulations!", Timestamp: now.Add(-time.Minute)},
	}))
	_, err := f.orch.MarkAsImportant(ctx, "m1", "my dog is called Rex", "chat")
	gt.NoError(t, err)
	f.index.Wait()

	suggestions := []model.Suggestion{{Text: "Walk Rex", Confidence: 0.5}}
	out, err := f.orch.Process(ctx, "whats teh tiem now and what is my dog called", suggestions)
	gt.NoError(t, err)

	prompt := out.Prompt
	order := []string{
		orchestrator.DefaultSystemPrompt,
		"You are talking with Ana. Today is Monday, 2 March 2026. The user is in Lisbon, Portugal.",
		"Recent conversation:\nuser: I just got a puppy\nassistant: Congratulations!",
		"Things the user asked you to remember:\n- my dog is called Rex [chat]",
		"Relevant context:\n- Current time: Monday, 2 March 2026 15:04",
		"Answer concisely",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(prompt, s)
		gt.True(t, idx > last)
		last = idx
	}

	gt.Equal(t, out.ContextUsed, []model.Domain{model.DomainTime})
	gt.Equal(t, out.Suggestions, suggestions)
	gt.S(t, prompt).NotContains("Walk Rex")
}

func TestProcessTailKeepsNewestWithinBudget(t *testing.T) {
	ctx := context.Background()
	cfg := orchestrator.DefaultConfig()
	cfg.TailBudget = 120
	cfg.TailMessages = 10
	f := setup(t, orchestrator.WithConfig(cfg))

	var messages []*model.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, &model.Message{
			ID:        model.MessageID(string(rune('a' + i))),
			Role:      model.RoleUser,
			Content:   strings.Repeat(string(rune('a'+i)), 40),
			Timestamp: now.Add(time.Duration(i) * time.Second),
		})
	}
	gt.NoError(t, f.store.SaveConversation(ctx, messages))

	out, err := f.orch.Process(ctx, "tell me a joke", nil)
	gt.NoError(t, err)

	start := strings.Index(out.Prompt, "Recent conversation:")
	gt.True(t, start >= 0)
	section := out.Prompt[start:]
	section = section[:strings.Index(section, "\n\n")]
	gt.True(t, budget.Len(section) <= cfg.TailBudget)
	gt.S(t, section).Contains(strings.Repeat("j", 40))
	gt.S(t, section).NotContains(strings.Repeat("a", 40))
}

func TestWatchKeepsLatestSnapshot(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *model.ContextSnapshot)
	done := make(chan struct{})
	go func() {
		f.orch.Watch(ctx, updates)
		close(done)
	}()

	next := snapshot()
	next.Weather = model.WeatherContext{HasData: true, Condition: "Rain", TemperatureC: 12}
	updates <- next
	close(updates)
	<-done

	gt.Equal(t, f.orch.Snapshot(), next)

	out, err := f.orch.Process(context.Background(), "do I need an umbrella for the rain", nil)
	gt.NoError(t, err)
	gt.S(t, out.Prompt).Contains("Weather: Rain, 12°C")
}

func TestPublicAPI(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.orch.MarkAsImportant(ctx, "msg1", "Remember my dog's name is Rex", "chat")
	gt.NoError(t, err)
	gt.S(t, f.orch.GetContextForPrompt(ctx)).Contains("Rex")

	gt.Equal(t, f.orch.Preprocess("whats teh tiem now").Normalized, "what's the time now")

	out := f.orch.BuildEnhancedPrompt(ctx, "Base", "Tell me a joke", &model.ContextSnapshot{}, nil)
	gt.Equal(t, out.Prompt, "Base")
	gt.A(t, out.ContextUsed).Length(0)

	out = f.orch.BuildEnhancedPrompt(ctx, "Base", "what time is it", nil, nil)
	gt.Equal(t, out.ContextUsed, []model.Domain{model.DomainTime})

	gt.Equal(t, len(f.orch.GetSemanticConfidenceBatch(ctx, "time", []string{"time"})), 0)
}

func TestProcessScoresTheQueryItPreprocessed(t *testing.T) {
	ctx := context.Background()

	store := memory.New(repository.NewMemory())
	gt.NoError(t, store.Init(ctx))

	pre := preprocess.New(preprocess.WithDictionary(&preprocess.Dictionary{
		Corrections: map[string]string{"whereabouts": "location"},
	}))
	// the engine's own preprocessor does not know the correction
	orch := orchestrator.New(pre, store, relevance.New(preprocess.New()),
		orchestrator.WithSnapshot(snapshot()),
		orchestrator.WithClock(func() time.Time { return now }),
	)

	out, err := orch.Process(ctx, "my whereabouts please", nil)
	gt.NoError(t, err)
	gt.Equal(t, out.ContextUsed, []model.Domain{model.DomainLocation})
	gt.S(t, out.Prompt).Contains("Relevant context:")
}
