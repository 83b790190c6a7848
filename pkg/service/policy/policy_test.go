package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/interfaces"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/policy"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "relevance.rego"), []byte(body), 0644))
	return dir
}

func TestPolicyDeniesDomains(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package relevance

deny contains "location" if {
	input.scores.location < 0.9
}

deny contains "user" if {
	contains(input.query, "incognito")
}
`)
	p, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	input := &interfaces.PolicyInput{
		Query:    "where am i",
		Scores:   map[string]float64{"location": 0.5, "time": 0.8},
		Included: []model.Domain{model.DomainTime, model.DomainLocation, model.DomainUser},
	}
	allowed, err := p.Filter(ctx, input)
	gt.NoError(t, err)
	gt.Equal(t, allowed, []model.Domain{model.DomainTime, model.DomainUser})

	input.Query = "incognito where am i"
	input.Scores["location"] = 0.95
	allowed, err = p.Filter(ctx, input)
	gt.NoError(t, err)
	gt.Equal(t, allowed, []model.Domain{model.DomainTime, model.DomainLocation})
}

func TestPolicyWithoutFilesAllowsAll(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx, t.TempDir())
	gt.NoError(t, err)

	included := []model.Domain{model.DomainWeather}
	allowed, err := p.Filter(ctx, &interfaces.PolicyInput{Included: included})
	gt.NoError(t, err)
	gt.Equal(t, allowed, included)

	var nilPolicy *policy.Policy
	allowed, err = nilPolicy.Filter(ctx, &interfaces.PolicyInput{Included: included})
	gt.NoError(t, err)
	gt.Equal(t, allowed, included)
}

func TestPolicySyntaxError(t *testing.T) {
	dir := writePolicy(t, "package relevance\n\ndeny contains if {\n")
	_, err := policy.New(context.Background(), dir)
	gt.Error(t, err)
}

func TestPolicyInvalidDenyValue(t *testing.T) {
	ctx := context.Background()
	dir := writePolicy(t, `package relevance

deny contains 42 if {
	true
}
`)
	p, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	_, err = p.Filter(ctx, &interfaces.PolicyInput{Included: []model.Domain{model.DomainTime}})
	gt.Error(t, err)
}
