package embedding

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
)

// DefaultIntents are the intent and app keywords embedded ahead of time
func DefaultIntents() []string {
	return []string{
		"time",
		"date",
		"location",
		"weather",
		"forecast",
		"user profile",
		"activity",
		"device",
		"battery",
		"calendar",
		"schedule",
		"notes",
		"reminders",
		"music",
	}
}

// InitializeIntentEmbeddings embeds the intent keywords once per client lifetime.
// Later calls return immediately. A failed warm-up can be retried.
func (c *Client) InitializeIntentEmbeddings(ctx context.Context) error {
	if c.intentsWarm.Load() {
		return nil
	}

	c.warmupMu.Lock()
	defer c.warmupMu.Unlock()
	if c.intentsWarm.Load() {
		return nil
	}

	for _, intent := range c.intents {
		if _, ok := c.intentVector(intent); ok {
			continue
		}
		vec, err := c.Embed(ctx, intent)
		if err != nil {
			return goerr.Wrap(err, "failed to embed intent", goerr.V("intent", intent))
		}
		c.storeIntent(intent, vec)
	}

	c.intentsWarm.Store(true)
	logging.From(ctx).Debug("intent embeddings are warm", "count", len(c.intents))
	return nil
}

func (c *Client) intentVector(label string) ([]float32, bool) {
	c.intentMu.RLock()
	defer c.intentMu.RUnlock()
	v, ok := c.intentVecs[label]
	return v, ok
}

func (c *Client) storeIntent(label string, vec []float32) {
	c.intentMu.Lock()
	defer c.intentMu.Unlock()
	c.intentVecs[label] = vec
}

// SemanticConfidenceBatch embeds the query once and returns its similarity to each
// label. Any failure yields an empty map.
func (c *Client) SemanticConfidenceBatch(ctx context.Context, query string, labels []string) map[string]float64 {
	result := map[string]float64{}
	if query == "" || len(labels) == 0 {
		return result
	}

	qv, err := c.Embed(ctx, query)
	if err != nil {
		logging.From(ctx).Debug("semantic scoring unavailable", "error", err)
		return map[string]float64{}
	}

	for _, label := range labels {
		lv, ok := c.intentVector(label)
		if !ok {
			lv, err = c.Embed(ctx, label)
			if err != nil {
				logging.From(ctx).Debug("semantic scoring unavailable", "label", label, "error", err)
				return map[string]float64{}
			}
			c.storeIntent(label, lv)
		}
		result[label] = c.Similarity(qv, lv)
	}
	return result
}
