package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

const timeFormat = "2006-01-02 15:04:05"

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}

func printMemories(w io.Writer, memories []*model.Memory) {
	if len(memories) == 0 {
		fmt.Fprintf(w, "No memories\n")
		return
	}
	for _, m := range memories {
		fmt.Fprintf(w, "%s\t%s\t%s", m.ID, m.CreatedAt.Format(timeFormat), m.Content)
		if m.Context != "" {
			fmt.Fprintf(w, "\t(%s)", m.Context)
		}
		if m.Tag != "" {
			fmt.Fprintf(w, "\t#%s", m.Tag)
		}
		fmt.Fprintln(w)
	}
}

func printMessages(w io.Writer, messages []*model.Message) {
	if len(messages) == 0 {
		fmt.Fprintf(w, "No conversation yet\n")
		return
	}
	for _, m := range messages {
		fmt.Fprintf(w, "%s\t%s\t%-9s\t%s\n", m.ID, m.Timestamp.Format(timeFormat), m.Role, m.Content)
	}
}

func printScores(w io.Writer, prompt *model.EnhancedPrompt) {
	fmt.Fprintf(w, "Context used: %v\n", prompt.ContextUsed)
	for _, s := range prompt.Scores {
		fmt.Fprintf(w, "  %-10s keyword=%.2f", s.Domain, s.Keyword)
		if s.Semantic != nil {
			fmt.Fprintf(w, " semantic=%.2f", *s.Semantic)
		}
		fmt.Fprintf(w, " final=%.2f\n", s.Final)
	}
}
