package preprocess

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxExpansions bounds the number of synonym phrasings per query
const DefaultMaxExpansions = 5

// Correction is a single spelling fix applied to a query
type Correction struct {
	Original     string `json:"original"`
	Corrected    string `json:"corrected"`
	EditDistance int    `json:"edit_distance"`
}

// Result is the output of Preprocess
type Result struct {
	Original    string       `json:"original"`
	Normalized  string       `json:"normalized"`
	Corrections []Correction `json:"corrections"`
	Expansions  []string     `json:"expansions"`
}

type phrase struct {
	from, to string
}

type synonym struct {
	key  string
	alts []string
}

// Preprocessor normalizes, spell-corrects and expands user queries. It holds only
// immutable tables after construction and is safe for concurrent use.
type Preprocessor struct {
	words         map[string]string
	phrases       []phrase
	synonyms      []synonym
	maxExpansions int
}

type Option func(*Preprocessor)

// WithDictionary adds entries on top of the built-in dictionary
func WithDictionary(d *Dictionary) Option {
	return func(p *Preprocessor) {
		if d == nil {
			return
		}
		merged := &Dictionary{}
		merged.Merge(d)

		for k, v := range merged.Corrections {
			p.words[k] = v
		}
		for k, v := range merged.Phrases {
			p.phrases = append(p.phrases, phrase{from: k, to: v})
		}
		for k, v := range merged.Synonyms {
			p.synonyms = append(p.synonyms, synonym{key: k, alts: v})
		}
	}
}

func WithMaxExpansions(n int) Option {
	return func(p *Preprocessor) {
		p.maxExpansions = n
	}
}

func New(opts ...Option) *Preprocessor {
	d := DefaultDictionary()
	p := &Preprocessor{
		words:         d.Corrections,
		maxExpansions: DefaultMaxExpansions,
	}
	for k, v := range d.Phrases {
		p.phrases = append(p.phrases, phrase{from: k, to: v})
	}
	for k, v := range d.Synonyms {
		p.synonyms = append(p.synonyms, synonym{key: k, alts: v})
	}

	for _, opt := range opts {
		opt(p)
	}

	p.phrases = dedupePhrases(p.phrases)
	p.synonyms = dedupeSynonyms(p.synonyms)
	return p
}

// dedupePhrases keeps the last entry per key and orders longest first
func dedupePhrases(src []phrase) []phrase {
	m := make(map[string]string, len(src))
	for _, ph := range src {
		m[ph.from] = ph.to
	}
	out := make([]phrase, 0, len(m))
	for k, v := range m {
		out = append(out, phrase{from: k, to: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].from) != len(out[j].from) {
			return len(out[i].from) > len(out[j].from)
		}
		return out[i].from < out[j].from
	})
	return out
}

func dedupeSynonyms(src []synonym) []synonym {
	m := make(map[string][]string, len(src))
	for _, s := range src {
		m[s.key] = s.alts
	}
	out := make([]synonym, 0, len(m))
	for k, v := range m {
		out = append(out, synonym{key: k, alts: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// Preprocess runs normalization, spelling correction and synonym expansion.
// It never fails and the same input always yields the same output.
func (p *Preprocessor) Preprocess(query string) *Result {
	normalized := Normalize(query)
	corrected, corrections := p.CorrectSpelling(normalized)

	return &Result{
		Original:    query,
		Normalized:  corrected,
		Corrections: corrections,
		Expansions:  p.ExpandSynonyms(corrected),
	}
}

var variants = strings.NewReplacer(
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "`", "'",
	"“", "\"", "”", "\"", "„", "\"", "‟", "\"", "″", "\"",
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-",
)

// Normalize lowercases, trims, collapses whitespace and unifies quote and hyphen variants
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = variants.Replace(s)
	s = cases.Lower(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}

// CorrectSpelling applies word-level then phrase-level corrections to normalized text
func (p *Preprocessor) CorrectSpelling(text string) (string, []Correction) {
	corrections := []Correction{}
	if text == "" {
		return text, corrections
	}

	tokens := strings.Split(text, " ")
	for i, tok := range tokens {
		head, core, tail := splitToken(tok)
		fixed, ok := p.words[core]
		if !ok || fixed == core {
			continue
		}
		tokens[i] = head + fixed + tail
		corrections = append(corrections, Correction{
			Original:     core,
			Corrected:    fixed,
			EditDistance: levenshtein.ComputeDistance(core, fixed),
		})
	}

	padded := " " + strings.Join(tokens, " ") + " "
	for _, ph := range p.phrases {
		needle := " " + ph.from + " "
		if !strings.Contains(padded, needle) {
			continue
		}
		padded = strings.ReplaceAll(padded, needle, " "+ph.to+" ")
		corrections = append(corrections, Correction{
			Original:     ph.from,
			Corrected:    ph.to,
			EditDistance: levenshtein.ComputeDistance(ph.from, ph.to),
		})
	}

	return strings.TrimSpace(padded), corrections
}

// ExpandSynonyms returns up to maxExpansions alternate phrasings of text
func (p *Preprocessor) ExpandSynonyms(text string) []string {
	expansions := []string{}
	if text == "" || p.maxExpansions <= 0 {
		return expansions
	}

	bare := " " + strings.Join(Tokens(text), " ") + " "
	seen := map[string]struct{}{strings.TrimSpace(bare): {}}

	for _, syn := range p.synonyms {
		needle := " " + syn.key + " "
		if !strings.Contains(bare, needle) {
			continue
		}
		for _, alt := range syn.alts {
			candidate := strings.TrimSpace(strings.Replace(bare, needle, " "+alt+" ", 1))
			if _, ok := seen[candidate]; ok {
				continue
			}
			seen[candidate] = struct{}{}
			expansions = append(expansions, candidate)
			if len(expansions) >= p.maxExpansions {
				return expansions
			}
		}
	}
	return expansions
}

// Tokens splits normalized text into words with surrounding punctuation removed
func Tokens(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, core, _ := splitToken(f); core != "" {
			out = append(out, core)
		}
	}
	return out
}

func isEdgePunct(r rune) bool {
	return (unicode.IsPunct(r) || unicode.IsSymbol(r)) && r != '\''
}

// splitToken separates leading and trailing punctuation from a word
func splitToken(tok string) (head, core, tail string) {
	start := strings.IndexFunc(tok, func(r rune) bool { return !isEdgePunct(r) })
	if start < 0 {
		return tok, "", ""
	}
	end := strings.LastIndexFunc(tok, func(r rune) bool { return !isEdgePunct(r) })
	_, size := utf8.DecodeRuneInString(tok[end:])
	return tok[:start], tok[start : end+size], tok[end+size:]
}
