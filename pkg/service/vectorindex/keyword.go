package vectorindex

import (
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "my": {}, "me": {},
	"i": {}, "you": {}, "it": {}, "of": {}, "to": {}, "in": {}, "on": {}, "and": {},
	"or": {}, "what": {}, "what's": {}, "do": {}, "does": {}, "for": {}, "about": {},
}

func keywords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range preprocess.Tokens(preprocess.Normalize(text)) {
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// keywordOverlap is the share of query keywords found in the memory content or tag
func keywordOverlap(query map[string]struct{}, mem *model.Memory) float64 {
	if len(query) == 0 {
		return 0
	}
	words := keywords(mem.Content + " " + mem.Context + " " + mem.Tag)
	var hit int
	for tok := range query {
		if _, ok := words[tok]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(query))
}
