package relevance

import (
	"context"
	"strings"

	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/m-mizutani/mnemo/pkg/utils/budget"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

const (
	// DefaultThreshold is the minimum final score for a domain to be included
	DefaultThreshold = 0.4

	// DefaultFragmentBudget bounds the context section appended to a prompt
	DefaultFragmentBudget = 800

	contextHeader = "Relevant context:"
	appsHeader    = "Dashboard apps:"
)

// Engine scores context domains for a query and assembles the context section of a
// prompt. Semantic scoring, dashboard apps and the policy are optional.
type Engine struct {
	pre       *preprocess.Preprocessor
	scorer    interfaces.SemanticScorer
	apps      interfaces.DashboardApps
	policy    interfaces.ContextPolicy
	threshold float64
	budget    int
	triggers  map[model.Domain][]Trigger
	labels    map[model.Domain]string
}

type Option func(*Engine)

func WithScorer(scorer interfaces.SemanticScorer) Option {
	return func(e *Engine) {
		e.scorer = scorer
	}
}

func WithApps(apps interfaces.DashboardApps) Option {
	return func(e *Engine) {
		e.apps = apps
	}
}

func WithPolicy(policy interfaces.ContextPolicy) Option {
	return func(e *Engine) {
		e.policy = policy
	}
}

func WithThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.threshold = threshold
	}
}

func WithFragmentBudget(n int) Option {
	return func(e *Engine) {
		e.budget = n
	}
}

// WithTriggers adds trigger words on top of the built-in table
func WithTriggers(triggers map[model.Domain][]Trigger) Option {
	return func(e *Engine) {
		for d, ts := range triggers {
			for _, t := range ts {
				t.Phrase = preprocess.Normalize(t.Phrase)
				e.triggers[d] = append(e.triggers[d], t)
			}
		}
	}
}

func New(pre *preprocess.Preprocessor, opts ...Option) *Engine {
	if pre == nil {
		pre = preprocess.New()
	}
	e := &Engine{
		pre:       pre,
		threshold: DefaultThreshold,
		budget:    DefaultFragmentBudget,
		triggers:  DefaultTriggers(),
		labels:    DomainLabels(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Threshold() float64 {
	return e.threshold
}

// KeywordScores scores every domain against an already normalized query
func (e *Engine) KeywordScores(normalized string) map[model.Domain]float64 {
	padded := padTokens(normalized)
	scores := make(map[model.Domain]float64, len(model.Domains))
	for _, d := range model.Domains {
		scores[d] = keywordScore(padded, e.triggers[d])
	}
	return scores
}

// Score computes the relevance of every domain for a preprocessed query, in render
// order. A semantic score replaces the keyword score when one is available.
func (e *Engine) Score(ctx context.Context, pre *preprocess.Result) []model.RelevanceScore {
	keyword := e.KeywordScores(pre.Normalized)

	var semantic map[string]float64
	if e.scorer != nil && strings.TrimSpace(pre.Normalized) != "" {
		labels := make([]string, 0, len(model.Domains))
		for _, d := range model.Domains {
			labels = append(labels, e.labels[d])
		}
		semantic = e.scorer.SemanticConfidenceBatch(ctx, pre.Normalized, labels)
	}

	scores := make([]model.RelevanceScore, 0, len(model.Domains))
	for _, d := range model.Domains {
		s := model.RelevanceScore{
			Domain:  d,
			Keyword: keyword[d],
			Final:   keyword[d],
		}
		if v, ok := semantic[e.labels[d]]; ok {
			v = model.Clamp01(v)
			s.Semantic = &v
			s.Final = v
		}
		scores = append(scores, s)
	}
	return scores
}

// Assembly is the context selected for one query
type Assembly struct {
	// Section is the rendered context, empty when nothing was selected
	Section     string
	ContextUsed []model.Domain
	Scores      []model.RelevanceScore
	Apps        []model.AppConfidence
}

// Assemble selects the domains and dashboard apps relevant to query and renders them
// within the fragment budget. It never fails; every failure degrades to less context.
func (e *Engine) Assemble(ctx context.Context, query string, snapshot *model.ContextSnapshot) *Assembly {
	if strings.TrimSpace(query) == "" {
		return &Assembly{ContextUsed: []model.Domain{}}
	}
	return e.AssembleResult(ctx, e.pre.Preprocess(query), snapshot)
}

// AssembleResult is Assemble for a query the caller has already preprocessed
func (e *Engine) AssembleResult(ctx context.Context, pre *preprocess.Result, snapshot *model.ContextSnapshot) *Assembly {
	result := &Assembly{ContextUsed: []model.Domain{}}
	if pre == nil || strings.TrimSpace(pre.Normalized) == "" {
		return result
	}

	result.Scores = e.Score(ctx, pre)

	included := make([]model.Domain, 0, len(result.Scores))
	scoreMap := make(map[string]float64, len(result.Scores))
	for _, s := range result.Scores {
		scoreMap[string(s.Domain)] = s.Final
		if s.Final >= e.threshold && snapshot.HasData(s.Domain) {
			included = append(included, s.Domain)
		}
	}

	var apps []string
	if e.apps != nil {
		result.Apps = e.apps.AppsWithConfidence(ctx, pre.Normalized)
		for _, a := range result.Apps {
			if a.Confidence >= e.threshold {
				apps = append(apps, a.App)
				scoreMap[string(model.DomainApps)+":"+a.App] = a.Confidence
			}
		}
	}

	if e.policy != nil && (len(included) > 0 || len(apps) > 0) {
		candidates := included
		if len(apps) > 0 {
			candidates = append(append([]model.Domain{}, included...), model.DomainApps)
		}
		allowed, err := e.policy.Filter(ctx, &interfaces.PolicyInput{
			Query:    pre.Normalized,
			Scores:   scoreMap,
			Included: candidates,
			Snapshot: snapshot,
		})
		if err != nil {
			logging.From(ctx).Warn("context policy failed, dropping all context", "error", err)
			return result
		}

		keep := make(map[model.Domain]struct{}, len(allowed))
		for _, d := range allowed {
			keep[d] = struct{}{}
		}
		filtered := included[:0:0]
		for _, d := range included {
			if _, ok := keep[d]; ok {
				filtered = append(filtered, d)
			}
		}
		included = filtered
		if _, ok := keep[model.DomainApps]; !ok {
			apps = nil
		}
	}

	lines := budget.NewLines(e.budget)
	if len(included) > 0 || len(apps) > 0 {
		if !lines.Add(contextHeader) {
			return result
		}
	}
	for _, d := range included {
		if lines.AddTruncated("- "+renderDomain(d, snapshot), minFragment) {
			result.ContextUsed = append(result.ContextUsed, d)
		}
	}
	if len(apps) > 0 {
		if detail := e.apps.DetailedContext(ctx, apps); detail != "" {
			if e.addSection(lines, appsHeader, detail) {
				result.ContextUsed = append(result.ContextUsed, model.DomainApps)
			}
		}
	}

	if len(result.ContextUsed) > 0 {
		result.Section = lines.String()
	}
	logging.From(ctx).Debug("context assembled",
		"query", pre.Normalized,
		"context_used", result.ContextUsed,
		"chars", budget.Len(result.Section))
	return result
}

// minFragment is the smallest truncated fragment worth including
const minFragment = 16

func (e *Engine) addSection(lines *budget.Lines, header, body string) bool {
	if lines.Remaining() < budget.Len(header)+minFragment+2 || !lines.Add(header) {
		return false
	}
	added := false
	for _, line := range strings.Split(body, "\n") {
		if !lines.AddTruncated(line, minFragment) {
			break
		}
		added = true
	}
	return added
}

// BuildEnhancedPrompt appends the relevant context of query to basePrompt. An empty
// query or a query that matches nothing returns basePrompt unchanged. Suggestions are
// attached to the result only.
func (e *Engine) BuildEnhancedPrompt(ctx context.Context, basePrompt, query string, snapshot *model.ContextSnapshot, suggestions []model.Suggestion) *model.EnhancedPrompt {
	a := e.Assemble(ctx, query, snapshot)

	prompt := basePrompt
	if a.Section != "" {
		if prompt != "" {
			prompt += "\n\n"
		}
		prompt += a.Section
	}

	return &model.EnhancedPrompt{
		Prompt:      prompt,
		ContextUsed: a.ContextUsed,
		Suggestions: suggestions,
		Scores:      a.Scores,
	}
}
