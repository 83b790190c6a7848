package interfaces

import (
	"context"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// DashboardApps is the dashboard-app collaborator queried during prompt assembly
type DashboardApps interface {
	AppsWithConfidence(ctx context.Context, query string) []model.AppConfidence
	DetailedContext(ctx context.Context, apps []string) string
}

// ContextPolicy filters the domains selected for a prompt
type ContextPolicy interface {
	Filter(ctx context.Context, input *PolicyInput) ([]model.Domain, error)
}

// PolicyInput is the document evaluated by ContextPolicy
type PolicyInput struct {
	Query    string                 `json:"query"`
	Scores   map[string]float64     `json:"scores"`
	Included []model.Domain         `json:"included"`
	Snapshot *model.ContextSnapshot `json:"snapshot,omitempty"`
}

// Responder generates an assistant reply
type Responder interface {
	Respond(ctx context.Context, systemPrompt string, history []*model.Message, message string) (string, error)
}
