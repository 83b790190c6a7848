package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/app"
	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/urfave/cli/v3"
)

type mockScorer struct {
	scores map[string]float64
}

func (m *mockScorer) SemanticConfidenceBatch(ctx context.Context, query string, labels []string) map[string]float64 {
	return m.scores
}

type mockMemories struct {
	memories []*model.Memory
}

func (m *mockMemories) GetMarkedMemories(ctx context.Context) []*model.Memory {
	return m.memories
}

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sunny() *model.ContextSnapshot {
	return &model.ContextSnapshot{
		Weather: model.WeatherContext{HasData: true, Condition: "Sunny", TemperatureC: 21.4, Humidity: 40},
	}
}

func newRegistry(opts ...app.Option) *app.Registry {
	calendar := app.NewCalendar(
		app.WithCalendarClock(func() time.Time { return now }),
		app.WithEvents([]app.Event{
			{Title: "Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute), Location: "Room 1"},
			{Title: "Breakfast", Start: now.Add(-2 * time.Hour), End: now.Add(-time.Hour)},
			{Title: "Tomorrow", Start: now.Add(26 * time.Hour)},
		}),
	)
	notes := app.NewNotes(&mockMemories{memories: []*model.Memory{
		{ID: "2", Content: "my dog is Rex"},
		{ID: "1", Content: "I live in Lisbon"},
	}})
	return app.New([]app.App{app.NewWeather(sunny), calendar, notes}, opts...)
}

func TestAppsWithConfidenceByKeyword(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	result := r.AppsWithConfidence(ctx, "Will it rain? What's the weather forecast")
	gt.A(t, result).Length(3)
	gt.Equal(t, result[0], model.AppConfidence{App: "weather", Confidence: 1})
	gt.Equal(t, result[1].Confidence, 0.0)

	result = r.AppsWithConfidence(ctx, "any meeting soon?")
	gt.Equal(t, result[0], model.AppConfidence{App: "calendar", Confidence: 0.5})

	gt.A(t, r.AppsWithConfidence(ctx, "  ")).Length(0)
}

func TestAppsWithConfidenceSemanticOverride(t *testing.T) {
	scorer := &mockScorer{scores: map[string]float64{"notes": 0.9, "weather": 0.1}}
	r := newRegistry(app.WithScorer(scorer))

	result := r.AppsWithConfidence(context.Background(), "weather forecast")
	gt.Equal(t, result[0], model.AppConfidence{App: "notes", Confidence: 0.9})
	gt.Equal(t, result[1], model.AppConfidence{App: "weather", Confidence: 0.1})
	gt.Equal(t, result[2], model.AppConfidence{App: "calendar", Confidence: 0})

	// unavailable semantic scoring keeps keyword confidence
	scorer.scores = map[string]float64{}
	result = r.AppsWithConfidence(context.Background(), "weather forecast")
	gt.Equal(t, result[0], model.AppConfidence{App: "weather", Confidence: 1})
}

func TestDetailedContext(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	got := r.DetailedContext(ctx, []string{"notes", "weather", "unknown"})
	gt.Equal(t, got, "- weather: Sunny, 21°C, humidity 40%\n- notes: 2 saved note(s), latest: my dog is Rex; I live in Lisbon")

	got = r.DetailedContext(ctx, []string{"calendar"})
	gt.Equal(t, got, "- calendar: 10:00 Standup @ Room 1")

	gt.Equal(t, r.DetailedContext(ctx, nil), "")
}

func TestWeatherWithoutData(t *testing.T) {
	w := app.NewWeather(func() *model.ContextSnapshot { return nil })
	ctx := context.Background()

	gt.Equal(t, w.ContextData(ctx), "")
	resp, err := w.Response(ctx, "weather?")
	gt.NoError(t, err)
	gt.S(t, resp).Contains("No weather data")
}

func TestRegistryRespond(t *testing.T) {
	r := newRegistry()
	ctx := context.Background()

	resp, name, err := r.Respond(ctx, "what is on my calendar")
	gt.NoError(t, err)
	gt.Equal(t, name, "calendar")
	gt.S(t, resp).Contains("Standup")
	gt.S(t, resp).NotContains("Breakfast")
	gt.S(t, resp).NotContains("Tomorrow")

	_, _, err = r.Respond(ctx, "tell me a joke")
	gt.True(t, errors.Is(err, app.ErrNoApp))
}

func TestCalendarFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calendar.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
- title: Dentist
  start: 2026-03-01T15:00:00Z
  end: 2026-03-01T16:00:00Z
`), 0644))

	calendar := app.NewCalendar(app.WithCalendarClock(func() time.Time { return now }))
	cmd := &cli.Command{
		Name:  "test",
		Flags: calendar.Flags(),
		Action: func(ctx context.Context, c *cli.Command) error {
			return nil
		},
	}
	gt.NoError(t, cmd.Run(ctx, []string{"test", "--calendar-file", path}))

	enabled, err := calendar.Init(ctx)
	gt.NoError(t, err)
	gt.True(t, enabled)
	gt.Equal(t, calendar.ContextData(ctx), "15:00 Dentist")
}

func TestRegistryInitDropsDisabledApps(t *testing.T) {
	r := app.New([]app.App{app.NewWeather(sunny), app.NewCalendar()})
	gt.NoError(t, r.Init(context.Background()))
	gt.Equal(t, r.Names(), []string{"weather"})
}
