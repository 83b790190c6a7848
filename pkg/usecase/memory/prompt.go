package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/budget"
)

// minMemoryChars is the smallest truncated memory line worth keeping
const minMemoryChars = 16

func formatMemory(m *model.Memory) string {
	line := "- " + m.Content
	if m.Context != "" {
		line += " [" + m.Context + "]"
	}
	return line
}

// GetContextForPrompt renders the user's memories and conversation metadata within
// MaxContextChars characters. Older memories are dropped first.
func (s *Store) GetContextForPrompt(ctx context.Context) string {
	if s.checkReady() != nil || s.maxContextChars <= 0 {
		return ""
	}

	lines := budget.NewLines(s.maxContextChars)

	summary := s.summary(ctx)
	if summary.MessageCount > 0 && summary.LastMessage != nil {
		lines.AddTruncated(fmt.Sprintf("Conversation so far: %d messages, last at %s.",
			summary.MessageCount, summary.LastMessage.Timestamp.Format(time.RFC3339)), minMemoryChars)
	}

	memories := s.GetMarkedMemories(ctx)
	if len(memories) > 0 && lines.Add("Important things the user asked to remember:") {
		for _, m := range memories {
			if !lines.AddTruncated(formatMemory(m), minMemoryChars) {
				break
			}
		}
	}

	return lines.String()
}
