package policy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

// Query is the rule evaluated to drop domains from a prompt
const Query = "data.relevance.deny"

// Policy drops context domains according to Rego rules. A policy is written as
//
//	package relevance
//
//	deny contains "location" if {
//		input.scores.location < 0.9
//	}
//
// The input is an interfaces.PolicyInput.
type Policy struct {
	query *rego.PreparedEvalQuery
}

var _ interfaces.ContextPolicy = (*Policy)(nil)

type printHook struct {
	logger *slog.Logger
}

func (h *printHook) Print(ctx print.Context, message string) error {
	h.logger.Debug("rego print", "message", message)
	return nil
}

// New loads every .rego file in policyDir. A directory without policy files yields a
// Policy that allows everything.
func New(ctx context.Context, policyDir string) (*Policy, error) {
	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return &Policy{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query(Query))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare policy", goerr.V("dir", policyDir))
	}

	logging.From(ctx).Debug("context policy loaded", "files", len(files))
	return &Policy{query: &prepared}, nil
}

// Filter returns input.Included without the denied domains, keeping order
func (p *Policy) Filter(ctx context.Context, input *interfaces.PolicyInput) ([]model.Domain, error) {
	if p == nil || p.query == nil {
		return input.Included, nil
	}

	rs, err := p.query.Eval(ctx,
		rego.EvalInput(input),
		rego.EvalPrintHook(&printHook{logger: logging.From(ctx)}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate context policy")
	}

	denied := make(map[model.Domain]struct{})
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		values, ok := rs[0].Expressions[0].Value.([]any)
		if !ok {
			return nil, goerr.New("deny is not a set", goerr.V("value", rs[0].Expressions[0].Value))
		}
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, goerr.New("deny contains a non-string value", goerr.V("value", v))
			}
			denied[model.Domain(s)] = struct{}{}
		}
	}

	allowed := make([]model.Domain, 0, len(input.Included))
	for _, d := range input.Included {
		if _, ok := denied[d]; ok {
			logging.From(ctx).Debug("domain denied by policy", "domain", d)
			continue
		}
		allowed = append(allowed, d)
	}
	return allowed, nil
}
