package orchestrator

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/m-mizutani/mnemo/pkg/usecase/memory"
)

func (o *Orchestrator) Preprocess(query string) *preprocess.Result {
	return o.pre.Preprocess(query)
}

func (o *Orchestrator) MarkAsImportant(ctx context.Context, messageID model.MessageID, content, contextTag string, tag ...string) (*model.Memory, error) {
	return o.store.MarkAsImportant(ctx, messageID, content, contextTag, tag...)
}

func (o *Orchestrator) GetContextForPrompt(ctx context.Context) string {
	return o.store.GetContextForPrompt(ctx)
}

// BuildEnhancedPrompt appends relevant context to basePrompt. A nil snapshot uses the
// latest one.
func (o *Orchestrator) BuildEnhancedPrompt(ctx context.Context, basePrompt, query string, snapshot *model.ContextSnapshot, suggestions []model.Suggestion) *model.EnhancedPrompt {
	if snapshot == nil {
		snapshot = o.Snapshot()
	}
	return o.engine.BuildEnhancedPrompt(ctx, basePrompt, query, snapshot, suggestions)
}

// GetSemanticConfidenceBatch returns an empty map when semantic scoring is unavailable
func (o *Orchestrator) GetSemanticConfidenceBatch(ctx context.Context, query string, labels []string) map[string]float64 {
	if o.scorer == nil {
		return map[string]float64{}
	}
	return o.scorer.SemanticConfidenceBatch(ctx, query, labels)
}

func (o *Orchestrator) Store() *memory.Store {
	return o.store
}
