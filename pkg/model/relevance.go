package model

// Domain is a kind of environmental context that can be injected into a prompt
type Domain string

const (
	DomainTime     Domain = "time"
	DomainLocation Domain = "location"
	DomainWeather  Domain = "weather"
	DomainUser     Domain = "user"
	DomainActivity Domain = "activity"
	DomainDevice   Domain = "device"
)

// Domains lists the scored domains in rendering order
var Domains = []Domain{
	DomainTime,
	DomainLocation,
	DomainWeather,
	DomainUser,
	DomainDevice,
	DomainActivity,
}

// DomainApps marks the dashboard-app section in ContextUsed
const DomainApps Domain = "dashboard-apps"

// RelevanceScore is the per-query confidence that a domain is useful
type RelevanceScore struct {
	Domain   Domain   `json:"domain"`
	Keyword  float64  `json:"keyword"`
	Semantic *float64 `json:"semantic,omitempty"`
	Final    float64  `json:"final"`
}

// Suggestion is a precomputed contextual suggestion supplied by the caller
type Suggestion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type AppConfidence struct {
	App        string  `json:"app"`
	Confidence float64 `json:"confidence"`
}

// EnhancedPrompt is the result of context assembly
type EnhancedPrompt struct {
	Prompt      string           `json:"prompt"`
	ContextUsed []Domain         `json:"context_used"`
	Suggestions []Suggestion     `json:"suggestions,omitempty"`
	Scores      []RelevanceScore `json:"scores,omitempty"`
}
