package relevance

import (
	"strings"

	"github.com/m-mizutani/mnemo/pkg/model"
	"github.com/m-mizutani/mnemo/pkg/service/preprocess"
)

// Trigger is a word or phrase that hints a domain is relevant
type Trigger struct {
	Phrase string  `yaml:"phrase"`
	Weight float64 `yaml:"weight"`
}

// DefaultTriggers returns the built-in trigger table
func DefaultTriggers() map[model.Domain][]Trigger {
	return map[model.Domain][]Trigger{
		model.DomainTime: {
			{"time", 0.6}, {"clock", 0.6}, {"date", 0.5}, {"today", 0.4}, {"tonight", 0.4},
			{"tomorrow", 0.4}, {"hour", 0.4}, {"now", 0.3}, {"minute", 0.3}, {"day", 0.3},
			{"morning", 0.3}, {"evening", 0.3}, {"late", 0.3}, {"early", 0.3},
		},
		model.DomainLocation: {
			{"where am i", 0.7}, {"location", 0.6}, {"where", 0.5}, {"city", 0.5}, {"nearby", 0.5},
			{"address", 0.5}, {"directions", 0.5}, {"near", 0.4}, {"country", 0.4}, {"map", 0.4},
			{"here", 0.3}, {"local", 0.3},
		},
		model.DomainWeather: {
			{"weather", 0.7}, {"forecast", 0.6}, {"rain", 0.6}, {"raining", 0.6}, {"temperature", 0.6},
			{"umbrella", 0.5}, {"sunny", 0.5}, {"snow", 0.5}, {"cold", 0.4}, {"hot", 0.4},
			{"wind", 0.4}, {"humid", 0.4}, {"jacket", 0.4}, {"outside", 0.3},
		},
		model.DomainUser: {
			{"who am i", 0.7}, {"my name", 0.6}, {"profile", 0.5}, {"interests", 0.5}, {"name", 0.4},
			{"myself", 0.4}, {"hobby", 0.4}, {"hobbies", 0.4}, {"favorite", 0.4}, {"favourite", 0.4},
			{"recommend", 0.3}, {"prefer", 0.3}, {"me", 0.2},
		},
		model.DomainActivity: {
			{"activity", 0.6}, {"doing", 0.4}, {"working on", 0.5}, {"app", 0.4}, {"apps", 0.4},
			{"open", 0.4}, {"focus", 0.4}, {"running", 0.3}, {"busy", 0.3}, {"task", 0.3},
		},
		model.DomainDevice: {
			{"battery", 0.7}, {"device", 0.6}, {"phone", 0.5}, {"charge", 0.5}, {"charging", 0.5},
			{"wifi", 0.5}, {"laptop", 0.5}, {"online", 0.4}, {"offline", 0.4}, {"storage", 0.4},
			{"screen", 0.3}, {"connected", 0.3},
		},
	}
}

// DomainLabels are the intent labels a domain is compared against semantically
func DomainLabels() map[model.Domain]string {
	return map[model.Domain]string{
		model.DomainTime:     "time",
		model.DomainLocation: "location",
		model.DomainWeather:  "weather",
		model.DomainUser:     "user profile",
		model.DomainActivity: "activity",
		model.DomainDevice:   "device",
	}
}

// keywordScore sums the weights of the distinct triggers present in the normalized
// query, capped at 1. Adding words to a query never lowers the score.
func keywordScore(padded string, triggers []Trigger) float64 {
	var score float64
	seen := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		if _, ok := seen[t.Phrase]; ok {
			continue
		}
		if strings.Contains(padded, " "+t.Phrase+" ") {
			seen[t.Phrase] = struct{}{}
			score += t.Weight
		}
	}
	return model.Clamp01(score)
}

// padTokens joins the words of normalized text with single spaces and pads both ends
func padTokens(normalized string) string {
	return " " + strings.Join(preprocess.Tokens(normalized), " ") + " "
}
