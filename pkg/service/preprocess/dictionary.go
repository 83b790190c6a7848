package preprocess

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Dictionary holds the lookup tables used by the preprocessor. All keys are expected in
// normalized form (lowercase, single spaces).
type Dictionary struct {
	// Corrections maps a misspelled word to its correct form
	Corrections map[string]string `yaml:"corrections"`
	// Phrases maps a misspelled multi-word phrase to its correct form
	Phrases map[string]string `yaml:"phrases"`
	// Synonyms maps a word or phrase to alternate phrasings
	Synonyms map[string][]string `yaml:"synonyms"`
}

// LoadDictionary reads a YAML dictionary file
func LoadDictionary(path string) (*Dictionary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read dictionary", goerr.V("path", path))
	}

	var d Dictionary
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, goerr.Wrap(err, "failed to parse dictionary", goerr.V("path", path))
	}
	return &d, nil
}

// Merge copies entries of x into d. Entries of x win on conflict.
func (d *Dictionary) Merge(x *Dictionary) {
	if x == nil {
		return
	}
	if d.Corrections == nil {
		d.Corrections = map[string]string{}
	}
	if d.Phrases == nil {
		d.Phrases = map[string]string{}
	}
	if d.Synonyms == nil {
		d.Synonyms = map[string][]string{}
	}

	for k, v := range x.Corrections {
		d.Corrections[Normalize(k)] = Normalize(v)
	}
	for k, v := range x.Phrases {
		d.Phrases[Normalize(k)] = Normalize(v)
	}
	for k, v := range x.Synonyms {
		alts := make([]string, 0, len(v))
		for _, alt := range v {
			alts = append(alts, Normalize(alt))
		}
		d.Synonyms[Normalize(k)] = alts
	}
}

// DefaultDictionary returns the built-in tables
func DefaultDictionary() *Dictionary {
	return &Dictionary{
		Corrections: map[string]string{
			"teh":           "the",
			"hte":           "the",
			"tiem":          "time",
			"tmie":          "time",
			"whats":         "what's",
			"hows":          "how's",
			"wheres":        "where's",
			"thats":         "that's",
			"dont":          "don't",
			"cant":          "can't",
			"wont":          "won't",
			"isnt":          "isn't",
			"im":            "i'm",
			"u":             "you",
			"ur":            "your",
			"pls":           "please",
			"plz":           "please",
			"wether":        "weather",
			"wheather":      "weather",
			"weahter":       "weather",
			"forcast":       "forecast",
			"temprature":    "temperature",
			"tempreture":    "temperature",
			"tommorow":      "tomorrow",
			"tomorow":       "tomorrow",
			"todya":         "today",
			"tody":          "today",
			"calender":      "calendar",
			"calandar":      "calendar",
			"schedual":      "schedule",
			"shedule":       "schedule",
			"remeber":       "remember",
			"rember":        "remember",
			"wher":          "where",
			"whre":          "where",
			"locaton":       "location",
			"loction":       "location",
			"batery":        "battery",
			"battey":        "battery",
			"musci":         "music",
			"ntoes":         "notes",
			"mesage":        "message",
			"recieve":       "receive",
			"definately":    "definitely",
			"neighbourhood": "neighborhood",
		},
		Phrases: map[string]string{
			"what time si it": "what time is it",
			"the whether":     "the weather",
			"to day":          "today",
			"to morrow":       "tomorrow",
			"near by":         "nearby",
			"remind me too":   "remind me to",
			"where am i at":   "where am i",
		},
		Synonyms: map[string][]string{
			"now":        {"currently", "right now"},
			"time":       {"clock", "hour"},
			"what's":     {"what is"},
			"weather":    {"forecast", "temperature"},
			"today":      {"this day"},
			"location":   {"place", "where i am"},
			"where am i": {"my location", "my current location"},
			"remember":   {"recall", "remind me"},
			"calendar":   {"schedule", "agenda"},
			"music":      {"song", "playlist"},
			"notes":      {"memo"},
			"battery":    {"charge", "power level"},
			"near":       {"close to", "nearby"},
		},
	}
}
