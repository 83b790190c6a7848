package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// MemoryLister lists marked memories
type MemoryLister interface {
	GetMarkedMemories(ctx context.Context) []*model.Memory
}

// Notes exposes the user's marked memories as a dashboard app
type Notes struct {
	base
	memories MemoryLister
	limit    int
}

func NewNotes(memories MemoryLister) *Notes {
	return &Notes{
		base: base{
			name:     "notes",
			keywords: []string{"note", "notes", "remember", "remembered", "memo", "reminder", "reminders", "saved"},
		},
		memories: memories,
		limit:    3,
	}
}

func (x *Notes) ContextData(ctx context.Context) string {
	memories := x.memories.GetMarkedMemories(ctx)
	if len(memories) == 0 {
		return ""
	}

	n := min(len(memories), x.limit)
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = memories[i].Content
	}
	return fmt.Sprintf("%d saved note(s), latest: %s", len(memories), strings.Join(parts, "; "))
}

func (x *Notes) Response(ctx context.Context, query string) (string, error) {
	memories := x.memories.GetMarkedMemories(ctx)
	if len(memories) == 0 {
		return "You have no saved notes.", nil
	}

	lines := make([]string, len(memories))
	for i, m := range memories {
		lines[i] = "- " + m.Content
	}
	return "Your saved notes:\n" + strings.Join(lines, "\n"), nil
}
