package orchestrator

import (
	"bytes"
	"context"
	_ "embed"
	"strings"
	"sync"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
	"github.com/m-mizutani/mnemo/pkg/usecase/relevance"
	"github.com/m-mizutani/mnemo/pkg/utils/budget"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

//go:embed prompt/base.md
var basePromptRaw string

//go:embed prompt/style.md
var stylePrompt string

var basePromptTmpl = template.Must(template.New("base").Parse(basePromptRaw))

// DefaultSystemPrompt opens every assembled prompt unless replaced
const DefaultSystemPrompt = "You are a helpful personal assistant with a long-term memory of your conversations with the user."

const (
	tailHeader   = "Recent conversation:"
	memoryHeader = "Things the user asked you to remember:"

	// minExcerpt is the smallest truncated line worth including
	minExcerpt = 16
)

// Config bounds the sections of an assembled prompt
type Config struct {
	SystemPrompt string
	MemoryTopK   int
	MemoryBudget int
	TailMessages int
	TailBudget   int
}

func DefaultConfig() Config {
	return Config{
		SystemPrompt: DefaultSystemPrompt,
		MemoryTopK:   5,
		MemoryBudget: 600,
		TailMessages: 6,
		TailBudget:   800,
	}
}

type baseKey struct {
	systemPrompt string
	userName     string
	date         string
	location     string
}

// Orchestrator runs the request cycle of the assistant: it preprocesses the query,
// scores context against the latest snapshot, retrieves memories and assembles the
// final prompt. It also exposes the public API of the memory engine.
type Orchestrator struct {
	pre       *preprocess.Preprocessor
	store     *memory.Store
	engine    *relevance.Engine
	retriever interfaces.MemoryRetriever
	scorer    interfaces.SemanticScorer
	cfg       Config
	clock     func() time.Time

	snapshot atomic.Pointer[model.ContextSnapshot]

	baseMu      sync.Mutex
	baseKey     baseKey
	baseText    string
	baseRenders int
}

type Option func(*Orchestrator)

func WithRetriever(retriever interfaces.MemoryRetriever) Option {
	return func(o *Orchestrator) {
		o.retriever = retriever
	}
}

func WithScorer(scorer interfaces.SemanticScorer) Option {
	return func(o *Orchestrator) {
		o.scorer = scorer
	}
}

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithSnapshot sets the initial context snapshot
func WithSnapshot(s *model.ContextSnapshot) Option {
	return func(o *Orchestrator) {
		o.snapshot.Store(s)
	}
}

func New(pre *preprocess.Preprocessor, store *memory.Store, engine *relevance.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		pre:    pre,
		store:  store,
		engine: engine,
		cfg:    DefaultConfig(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UpdateSnapshot replaces the latest context snapshot
func (o *Orchestrator) UpdateSnapshot(s *model.ContextSnapshot) {
	o.snapshot.Store(s)
}

// Snapshot returns the latest context snapshot, or nil
func (o *Orchestrator) Snapshot() *model.ContextSnapshot {
	return o.snapshot.Load()
}

// Watch keeps the latest snapshot received from updates until ctx is done or the
// channel is closed.
func (o *Orchestrator) Watch(ctx context.Context, updates <-chan *model.ContextSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-updates:
			if !ok {
				return
			}
			o.UpdateSnapshot(s)
		}
	}
}

// Process assembles the prompt for one user query. It fails only for an empty query;
// every other failure degrades to less context.
func (o *Orchestrator) Process(ctx context.Context, query string, suggestions []model.Suggestion) (*model.EnhancedPrompt, error) {
	if strings.TrimSpace(query) == "" {
		return nil, goerr.Wrap(model.ErrValidation, "query is empty")
	}

	snapshot := o.Snapshot()
	pre := o.pre.Preprocess(query)
	assembly := o.engine.AssembleResult(ctx, pre, snapshot)

	sections := []string{
		o.basePrompt(snapshot),
		o.conversationTail(ctx),
		o.memoryExcerpt(ctx, pre.Normalized),
		assembly.Section,
		strings.TrimSpace(stylePrompt),
	}
	var parts []string
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}

	logging.From(ctx).Debug("prompt assembled",
		"query", pre.Normalized,
		"corrections", len(pre.Corrections),
		"context_used", assembly.ContextUsed)

	return &model.EnhancedPrompt{
		Prompt:      strings.Join(parts, "\n\n"),
		ContextUsed: assembly.ContextUsed,
		Suggestions: suggestions,
		Scores:      assembly.Scores,
	}, nil
}

func (o *Orchestrator) keyOf(s *model.ContextSnapshot) baseKey {
	now := o.clock()
	key := baseKey{systemPrompt: o.cfg.SystemPrompt}
	if s != nil {
		if s.Time.HasData() {
			now = s.Time.Local()
		}
		key.userName = s.User.Name
		key.location = strings.Join(nonEmpty(s.Location.City, s.Location.Country), ", ")
	}
	key.date = now.Format("Monday, 2 January 2006")
	return key
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// basePrompt renders the static part of the prompt. It is rendered again only when
// the user, date, location or system prompt changes.
func (o *Orchestrator) basePrompt(s *model.ContextSnapshot) string {
	key := o.keyOf(s)

	o.baseMu.Lock()
	defer o.baseMu.Unlock()
	if o.baseRenders > 0 && key == o.baseKey {
		return o.baseText
	}

	var buf bytes.Buffer
	if err := basePromptTmpl.Execute(&buf, map[string]string{
		"SystemPrompt": key.systemPrompt,
		"UserName":     key.userName,
		"Date":         key.date,
		"Location":     key.location,
	}); err != nil {
		// the template is static; fall back to the bare system prompt
		return key.systemPrompt
	}

	o.baseKey = key
	o.baseText = strings.TrimSpace(buf.String())
	o.baseRenders++
	return o.baseText
}

// conversationTail renders the latest messages within the tail budget, dropping the
// oldest first
func (o *Orchestrator) conversationTail(ctx context.Context) string {
	if o.cfg.TailMessages <= 0 {
		return ""
	}
	messages := o.store.GetRecentMessages(ctx, o.cfg.TailMessages)
	if len(messages) == 0 {
		return ""
	}

	lines := budget.NewLines(o.cfg.TailBudget - budget.Len(tailHeader) - 1)
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if !lines.AddTruncated(string(m.Role)+": "+m.Content, minExcerpt) {
			break
		}
	}
	if lines.Count() == 0 {
		return ""
	}

	kept := lines.Lines()
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	return tailHeader + "\n" + strings.Join(kept, "\n")
}

// memoryExcerpt renders the memories most similar to the query within the memory budget
func (o *Orchestrator) memoryExcerpt(ctx context.Context, query string) string {
	if o.retriever == nil || o.cfg.MemoryTopK <= 0 {
		return ""
	}
	similar := o.retriever.Similar(ctx, query, o.cfg.MemoryTopK)
	if len(similar) == 0 {
		return ""
	}

	lines := budget.NewLines(o.cfg.MemoryBudget)
	if !lines.Add(memoryHeader) {
		return ""
	}
	for _, sm := range similar {
		line := "- " + sm.Memory.Content
		if sm.Memory.Context != "" {
			line += " [" + sm.Memory.Context + "]"
		}
		if !lines.AddTruncated(line, minExcerpt) {
			break
		}
	}
	if lines.Count() < 2 {
		return ""
	}
	return lines.String()
}
