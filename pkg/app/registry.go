package app

import (
	"context"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

var ErrNoApp = goerr.New("no app can answer the query")

// Registry holds the enabled dashboard apps
type Registry struct {
	apps   []App
	scorer interfaces.SemanticScorer
}

var _ interfaces.DashboardApps = (*Registry)(nil)

type Option func(*Registry)

// WithScorer lets semantic confidence override keyword confidence
func WithScorer(scorer interfaces.SemanticScorer) Option {
	return func(r *Registry) {
		r.scorer = scorer
	}
}

func New(apps []App, opts ...Option) *Registry {
	r := &Registry{apps: apps}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetScorer attaches a scorer once it is available. Call it before serving queries.
func (r *Registry) SetScorer(scorer interfaces.SemanticScorer) {
	r.scorer = scorer
}

// Flags returns all app flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, a := range r.apps {
		if appFlags := a.Flags(); appFlags != nil {
			flags = append(flags, appFlags...)
		}
	}
	return flags
}

// Init initializes every app and drops the disabled ones
func (r *Registry) Init(ctx context.Context) error {
	enabled := make([]App, 0, len(r.apps))
	for _, a := range r.apps {
		ok, err := a.Init(ctx)
		if err != nil {
			return goerr.Wrap(err, "failed to initialize app", goerr.V("app", a.Name()))
		}
		if ok {
			enabled = append(enabled, a)
		}
	}
	r.apps = enabled
	return nil
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.apps))
	for i, a := range r.apps {
		names[i] = a.Name()
	}
	return names
}

// AppsWithConfidence scores every app for the query, highest first. Semantic
// confidence replaces keyword confidence when the scorer returns one.
func (r *Registry) AppsWithConfidence(ctx context.Context, query string) []model.AppConfidence {
	if len(r.apps) == 0 || strings.TrimSpace(query) == "" {
		return nil
	}

	var semantic map[string]float64
	if r.scorer != nil {
		semantic = r.scorer.SemanticConfidenceBatch(ctx, query, r.Names())
	}

	result := make([]model.AppConfidence, 0, len(r.apps))
	for _, a := range r.apps {
		conf := keywordConfidence(query, a.Keywords())
		if s, ok := semantic[a.Name()]; ok {
			conf = s
		}
		result = append(result, model.AppConfidence{App: a.Name(), Confidence: model.Clamp01(conf)})
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Confidence > result[j].Confidence
	})
	return result
}

// DetailedContext renders the context of the named apps in registry order. Apps with
// nothing to say are skipped.
func (r *Registry) DetailedContext(ctx context.Context, apps []string) string {
	wanted := make(map[string]struct{}, len(apps))
	for _, name := range apps {
		wanted[name] = struct{}{}
	}

	var lines []string
	for _, a := range r.apps {
		if _, ok := wanted[a.Name()]; !ok {
			continue
		}
		if data := a.ContextData(ctx); data != "" {
			lines = append(lines, "- "+a.Name()+": "+data)
		}
	}
	return strings.Join(lines, "\n")
}

// Respond lets the most confident app that can answer the query reply to it
func (r *Registry) Respond(ctx context.Context, query string) (string, string, error) {
	byName := make(map[string]App, len(r.apps))
	for _, a := range r.apps {
		byName[a.Name()] = a
	}

	for _, c := range r.AppsWithConfidence(ctx, query) {
		a := byName[c.App]
		if !a.CanAnswer(query) {
			continue
		}
		resp, err := a.Response(ctx, query)
		if err != nil {
			return "", a.Name(), goerr.Wrap(err, "app failed to respond", goerr.V("app", a.Name()))
		}
		logging.From(ctx).Debug("app responded", "app", a.Name(), "confidence", c.Confidence)
		return resp, a.Name(), nil
	}
	return "", "", goerr.Wrap(ErrNoApp, "no app matched", goerr.V("query", query))
}
