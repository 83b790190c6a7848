package relevance

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/mnemo/pkg/model"
)

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// renderDomain renders one labeled fragment. The snapshot must have data for d.
func renderDomain(d model.Domain, s *model.ContextSnapshot) string {
	switch d {
	case model.DomainTime:
		t := s.Time.Local()
		line := "Current time: " + t.Format("Monday, 2 January 2006 15:04")
		if s.Time.Timezone != "" {
			line += " (" + s.Time.Timezone + ")"
		}
		return line

	case model.DomainLocation:
		place := joinNonEmpty(", ", s.Location.City, s.Location.Region, s.Location.Country)
		if place == "" {
			place = fmt.Sprintf("%.4f, %.4f", s.Location.Latitude, s.Location.Longitude)
		}
		return "Location: " + place

	case model.DomainWeather:
		return fmt.Sprintf("Weather: %s, %.0f°C, humidity %d%%", s.Weather.Condition, s.Weather.TemperatureC, s.Weather.Humidity)

	case model.DomainUser:
		var language, interests string
		if s.User.Language != "" {
			language = "language: " + s.User.Language
		}
		if len(s.User.Interests) > 0 {
			interests = "interests: " + strings.Join(s.User.Interests, ", ")
		}
		return "User: " + joinNonEmpty("; ", s.User.Name, language, interests)

	case model.DomainDevice:
		line := "Device: " + joinNonEmpty(" ", s.Device.Platform, s.Device.Model)
		if s.Device.BatteryPercent > 0 {
			line += fmt.Sprintf(", battery %d%%", s.Device.BatteryPercent)
		}
		if s.Device.Online {
			line += ", online"
		} else {
			line += ", offline"
		}
		return line

	case model.DomainActivity:
		return "Active apps: " + strings.Join(s.ActiveApps, ", ")
	}
	return string(d)
}
