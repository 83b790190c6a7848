package model

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// ContextSnapshot is a read-only aggregate of environmental signals at a point in time.
// It is supplied by an external context aggregator and never mutated by this module.
type ContextSnapshot struct {
	Time       TimeContext     `json:"time" yaml:"time"`
	Location   LocationContext `json:"location" yaml:"location"`
	Weather    WeatherContext  `json:"weather" yaml:"weather"`
	User       UserProfile     `json:"user" yaml:"user"`
	Device     DeviceContext   `json:"device" yaml:"device"`
	ActiveApps []string        `json:"active_apps,omitempty" yaml:"active_apps"`
}

type TimeContext struct {
	Now      time.Time `json:"now" yaml:"now"`
	Timezone string    `json:"timezone,omitempty" yaml:"timezone"`
}

func (x TimeContext) HasData() bool { return !x.Now.IsZero() }

// Local returns Now in the configured timezone when it can be loaded
func (x TimeContext) Local() time.Time {
	if x.Timezone == "" {
		return x.Now
	}
	loc, err := time.LoadLocation(x.Timezone)
	if err != nil {
		return x.Now
	}
	return x.Now.In(loc)
}

type LocationContext struct {
	City      string  `json:"city,omitempty" yaml:"city"`
	Region    string  `json:"region,omitempty" yaml:"region"`
	Country   string  `json:"country,omitempty" yaml:"country"`
	Latitude  float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude float64 `json:"longitude,omitempty" yaml:"longitude"`
}

func (x LocationContext) HasData() bool {
	return x.City != "" || x.Country != "" || x.Latitude != 0 || x.Longitude != 0
}

type WeatherContext struct {
	HasData      bool    `json:"has_data" yaml:"has_data"`
	Condition    string  `json:"condition,omitempty" yaml:"condition"`
	TemperatureC float64 `json:"temperature_c,omitempty" yaml:"temperature_c"`
	Humidity     int     `json:"humidity,omitempty" yaml:"humidity"`
}

type UserProfile struct {
	Name      string   `json:"name,omitempty" yaml:"name"`
	Language  string   `json:"language,omitempty" yaml:"language"`
	Interests []string `json:"interests,omitempty" yaml:"interests"`
}

func (x UserProfile) HasData() bool { return x.Name != "" || len(x.Interests) > 0 }

type DeviceContext struct {
	Platform       string `json:"platform,omitempty" yaml:"platform"`
	Model          string `json:"model,omitempty" yaml:"model"`
	BatteryPercent int    `json:"battery_percent,omitempty" yaml:"battery_percent"`
	Online         bool   `json:"online,omitempty" yaml:"online"`
}

func (x DeviceContext) HasData() bool { return x.Platform != "" || x.Model != "" }

// HasData reports whether the snapshot carries data for the domain
func (s *ContextSnapshot) HasData(d Domain) bool {
	if s == nil {
		return false
	}
	switch d {
	case DomainTime:
		return s.Time.HasData()
	case DomainLocation:
		return s.Location.HasData()
	case DomainWeather:
		return s.Weather.HasData
	case DomainUser:
		return s.User.HasData()
	case DomainDevice:
		return s.Device.HasData()
	case DomainActivity:
		return len(s.ActiveApps) > 0
	}
	return false
}

// LoadSnapshot reads a ContextSnapshot from a YAML (or JSON) file
func LoadSnapshot(path string) (*ContextSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read snapshot file", goerr.V("path", path))
	}

	var snapshot ContextSnapshot
	if err := yaml.Unmarshal(raw, &snapshot); err != nil {
		return nil, goerr.Wrap(err, "failed to parse snapshot file", goerr.V("path", path))
	}
	return &snapshot, nil
}
