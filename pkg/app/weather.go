package app

import (
	"context"
	"fmt"

	"github.com/m-mizutani/mnemo/pkg/model"
)

// SnapshotFunc returns the latest context snapshot, or nil when none is known
type SnapshotFunc func() *model.ContextSnapshot

type Weather struct {
	base
	snapshot SnapshotFunc
}

func NewWeather(snapshot SnapshotFunc) *Weather {
	return &Weather{
		base: base{
			name:     "weather",
			keywords: []string{"weather", "forecast", "rain", "raining", "temperature", "umbrella", "sunny", "cold", "hot", "wind", "humid"},
		},
		snapshot: snapshot,
	}
}

func (x *Weather) current() *model.WeatherContext {
	s := x.snapshot()
	if s == nil || !s.Weather.HasData {
		return nil
	}
	return &s.Weather
}

func (x *Weather) ContextData(ctx context.Context) string {
	w := x.current()
	if w == nil {
		return ""
	}
	return fmt.Sprintf("%s, %.0f°C, humidity %d%%", w.Condition, w.TemperatureC, w.Humidity)
}

func (x *Weather) Response(ctx context.Context, query string) (string, error) {
	w := x.current()
	if w == nil {
		return "No weather data is available right now.", nil
	}
	return fmt.Sprintf("It is %s and %.0f°C with %d%% humidity.", w.Condition, w.TemperatureC, w.Humidity), nil
}
