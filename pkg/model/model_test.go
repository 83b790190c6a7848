package model_test

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mnemo/pkg/model"
)

func TestCosineSimilarity(t *testing.T) {
	testCases := map[string]struct {
		a, b   []float32
		expect float64
	}{
		"identical":       {a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, expect: 1},
		"orthogonal":      {a: []float32{1, 0}, b: []float32{0, 1}, expect: 0},
		"opposite":        {a: []float32{1, 0}, b: []float32{-1, 0}, expect: -1},
		"length mismatch": {a: []float32{1, 0}, b: []float32{1, 0, 0}, expect: 0},
		"empty":           {a: nil, b: nil, expect: 0},
		"zero vector":     {a: []float32{0, 0}, b: []float32{1, 0}, expect: 0},
		"scaled is same":  {a: []float32{1, 1}, b: []float32{3, 3}, expect: 1},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got := model.CosineSimilarity(tc.a, tc.b)
			gt.True(t, math.Abs(got-tc.expect) < 1e-9)
		})
	}
}

func TestClamp01(t *testing.T) {
	gt.Equal(t, model.Clamp01(-0.5), 0.0)
	gt.Equal(t, model.Clamp01(0.25), 0.25)
	gt.Equal(t, model.Clamp01(1.5), 1.0)
	gt.Equal(t, model.Clamp01(math.NaN()), 0.0)
}

func TestContentHash(t *testing.T) {
	gt.Equal(t, model.ContentHash("rex"), model.ContentHash("rex"))
	gt.True(t, model.ContentHash("rex") != model.ContentHash("Rex"))
	gt.Equal(t, len(model.ContentHash("")), 64)
}

func TestIsRetryable(t *testing.T) {
	gt.True(t, model.IsRetryable(goerr.Wrap(model.ErrBackpressure, "queue full")))
	gt.True(t, model.IsRetryable(goerr.Wrap(model.ErrCircuitOpen, "open")))
	gt.False(t, model.IsRetryable(goerr.Wrap(model.ErrValidation, "empty")))
	gt.False(t, model.IsRetryable(errors.Join(model.ErrTransientProvider, errors.New("boom"))))
}

func TestBreakerStateText(t *testing.T) {
	raw, err := json.Marshal(model.BreakerStatus{State: model.BreakerHalfOpen})
	gt.NoError(t, err)
	gt.S(t, string(raw)).Contains(`"state":"HALF_OPEN"`)
	gt.Equal(t, model.BreakerOpen.String(), "OPEN")
	gt.Equal(t, model.BreakerState(42).String(), "UNKNOWN")
}

func TestMessageValidate(t *testing.T) {
	gt.NoError(t, (&model.Message{ID: "m1", Role: model.RoleUser}).Validate())

	err := (&model.Message{Role: model.RoleUser}).Validate()
	gt.True(t, errors.Is(err, model.ErrValidation))

	err = (&model.Message{ID: "m1", Role: "robot"}).Validate()
	gt.True(t, errors.Is(err, model.ErrValidation))

	var nilMsg *model.Message
	gt.True(t, errors.Is(nilMsg.Validate(), model.ErrValidation))
}

func TestMessageOrder(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a := &model.Message{ID: "a", Timestamp: now}
	b := &model.Message{ID: "b", Timestamp: now}
	c := &model.Message{ID: "0", Timestamp: now.Add(time.Second)}

	gt.True(t, a.Before(b))
	gt.False(t, b.Before(a))
	gt.True(t, b.Before(c))
}

func TestSnapshotHasData(t *testing.T) {
	var empty *model.ContextSnapshot
	for _, d := range model.Domains {
		gt.False(t, empty.HasData(d))
	}

	s := &model.ContextSnapshot{
		Time:       model.TimeContext{Now: time.Now()},
		Location:   model.LocationContext{Latitude: 38.7},
		User:       model.UserProfile{Interests: []string{"jazz"}},
		ActiveApps: []string{"music"},
	}
	gt.True(t, s.HasData(model.DomainTime))
	gt.True(t, s.HasData(model.DomainLocation))
	gt.False(t, s.HasData(model.DomainWeather))
	gt.True(t, s.HasData(model.DomainUser))
	gt.False(t, s.HasData(model.DomainDevice))
	gt.True(t, s.HasData(model.DomainActivity))
	gt.False(t, s.HasData(model.DomainApps))
}

func TestTimeContextLocal(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	gt.Equal(t, model.TimeContext{Now: now}.Local(), now)
	gt.Equal(t, model.TimeContext{Now: now, Timezone: "Not/AZone"}.Local(), now)

	tokyo := model.TimeContext{Now: now, Timezone: "Asia/Tokyo"}.Local()
	gt.Equal(t, tokyo.Hour(), 21)
}

func TestLoadSnapshot(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "snapshot.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`
time:
  timezone: Europe/Lisbon
user:
  name: Ana
  interests: [jazz, hiking]
device:
  platform: ios
  battery_percent: 80
active_apps: [music]
`), 0600))

	s, err := model.LoadSnapshot(path)
	gt.NoError(t, err)
	gt.Equal(t, s.User.Name, "Ana")
	gt.A(t, s.User.Interests).Length(2)
	gt.Equal(t, s.Device.BatteryPercent, 80)
	gt.Equal(t, s.Time.Timezone, "Europe/Lisbon")
	gt.A(t, s.ActiveApps).Length(1)

	broken := filepath.Join(dir, "broken.yaml")
	gt.NoError(t, os.WriteFile(broken, []byte("user: [not, a, map"), 0600))
	_, err = model.LoadSnapshot(broken)
	gt.Error(t, err)

	_, err = model.LoadSnapshot(filepath.Join(dir, "missing.yaml"))
	gt.Error(t, err)
}

func TestMemoryDeleted(t *testing.T) {
	m := &model.Memory{ID: model.NewMemoryID()}
	gt.False(t, m.Deleted())
	now := time.Now()
	m.DeletedAt = &now
	gt.True(t, m.Deleted())
	gt.True(t, model.NewMemoryID() != m.ID)
}
