package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Event is a calendar entry
type Event struct {
	Title    string    `yaml:"title"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Location string    `yaml:"location"`
}

// Calendar answers schedule questions from a YAML event list
type Calendar struct {
	base
	path   string
	events []Event
	clock  func() time.Time
	limit  int
}

type CalendarOption func(*Calendar)

func WithEvents(events []Event) CalendarOption {
	return func(x *Calendar) {
		x.events = events
	}
}

func WithCalendarClock(clock func() time.Time) CalendarOption {
	return func(x *Calendar) {
		x.clock = clock
	}
}

func NewCalendar(opts ...CalendarOption) *Calendar {
	x := &Calendar{
		base: base{
			name:     "calendar",
			keywords: []string{"calendar", "schedule", "meeting", "meetings", "event", "events", "appointment", "busy", "agenda"},
		},
		clock: time.Now,
		limit: 3,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Calendar) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "calendar-file",
			Sources:     cli.EnvVars("MNEMO_CALENDAR_FILE"),
			Usage:       "YAML file with calendar events",
			Destination: &x.path,
		},
	}
}

func (x *Calendar) Init(ctx context.Context) (bool, error) {
	if x.path == "" {
		return len(x.events) > 0, nil
	}

	raw, err := os.ReadFile(x.path)
	if err != nil {
		return false, goerr.Wrap(err, "failed to read calendar file", goerr.V("path", x.path))
	}
	var events []Event
	if err := yaml.Unmarshal(raw, &events); err != nil {
		return false, goerr.Wrap(err, "failed to parse calendar file", goerr.V("path", x.path))
	}
	x.events = events
	logging.From(ctx).Debug("calendar loaded", "path", x.path, "events", len(events))
	return true, nil
}

// upcoming returns the events that have not ended yet on the current day
func (x *Calendar) upcoming() []Event {
	now := x.clock()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())

	var events []Event
	for _, e := range x.events {
		end := e.End
		if end.IsZero() {
			end = e.Start
		}
		if !end.Before(now) && e.Start.Before(endOfDay) {
			events = append(events, e)
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})
	return events
}

func formatEvent(e Event) string {
	s := e.Start.Format("15:04") + " " + e.Title
	if e.Location != "" {
		s += " @ " + e.Location
	}
	return s
}

func (x *Calendar) ContextData(ctx context.Context) string {
	events := x.upcoming()
	if len(events) == 0 {
		return ""
	}

	parts := make([]string, 0, x.limit)
	for i, e := range events {
		if i == x.limit {
			break
		}
		parts = append(parts, formatEvent(e))
	}
	s := strings.Join(parts, "; ")
	if rest := len(events) - len(parts); rest > 0 {
		s += fmt.Sprintf(" (+%d more)", rest)
	}
	return s
}

func (x *Calendar) Response(ctx context.Context, query string) (string, error) {
	events := x.upcoming()
	if len(events) == 0 {
		return "Nothing else is on your calendar today.", nil
	}

	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = "- " + formatEvent(e)
	}
	return fmt.Sprintf("You have %d upcoming event(s) today:\n%s", len(events), strings.Join(lines, "\n")), nil
}
