package app

import (
	"context"
	"strings"

	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
	"github.com/urfave/cli/v3"
)

// App is a dashboard app that can contribute context to a prompt
type App interface {
	// Name is the stable identifier used in AppConfidence and DetailedContext
	Name() string

	// Keywords trigger the app for a query
	Keywords() []string

	// CanAnswer reports whether the query mentions any keyword of the app
	CanAnswer(query string) bool

	// ContextData returns a short description of the app's current state, or empty
	// string when it has nothing to say
	ContextData(ctx context.Context) string

	// Response answers the query directly from the app's data
	Response(ctx context.Context, query string) (string, error)

	// Flags returns CLI flags for this app
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init prepares the app after flags are parsed. A false result disables the app.
	Init(ctx context.Context) (bool, error)
}

// keywordHits counts the distinct keywords present in query as whole words or phrases
func keywordHits(query string, keywords []string) int {
	padded := " " + strings.Join(preprocess.Tokens(preprocess.Normalize(query)), " ") + " "
	var hits int
	for _, kw := range keywords {
		if strings.Contains(padded, " "+kw+" ") {
			hits++
		}
	}
	return hits
}

// keywordConfidence saturates at two keyword hits
func keywordConfidence(query string, keywords []string) float64 {
	switch hits := keywordHits(query, keywords); {
	case hits == 0:
		return 0
	case hits == 1:
		return 0.5
	default:
		return 1
	}
}

type base struct {
	name     string
	keywords []string
}

func (x *base) Name() string       { return x.name }
func (x *base) Keywords() []string { return x.keywords }

func (x *base) CanAnswer(query string) bool {
	return keywordHits(query, x.keywords) > 0
}

func (x *base) Flags() []cli.Flag { return nil }

func (x *base) Init(ctx context.Context) (bool, error) { return true, nil }
