// Package tutor defines the learner-facing choices (language, scenario) and
// the roleplay instruction sent to the conversational model.
package tutor

import (
	"fmt"
	"sort"
	"strings"
)

type Language string

const (
	French     Language = "fr"
	Spanish    Language = "es"
	German     Language = "de"
	Italian    Language = "it"
	Japanese   Language = "ja"
	Portuguese Language = "pt"
)

type Scenario string

const (
	Cafe         Scenario = "cafe"
	TrainStation Scenario = "train_station"
	Market       Scenario = "market"
)

type languageInfo struct {
	Name  string
	Voice string
}

type scenarioInfo struct {
	Title     string
	Character string
	Setting   string
}

var languages = map[Language]languageInfo{
	French:     {Name: "French", Voice: "Puck"},
	Spanish:    {Name: "Spanish", Voice: "Kore"},
	German:     {Name: "German", Voice: "Charon"},
	Italian:    {Name: "Italian", Voice: "Aoede"},
	Japanese:   {Name: "Japanese", Voice: "Kore"},
	Portuguese: {Name: "Portuguese", Voice: "Fenrir"},
}

var scenarios = map[Scenario]scenarioInfo{
	Cafe: {
		Title:     "Café",
		Character: "a friendly barista",
		Setting:   "a busy neighbourhood café; the learner is a customer ordering drinks and pastries",
	},
	TrainStation: {
		Title:     "Train Station",
		Character: "a helpful ticket agent",
		Setting:   "a train station ticket counter; the learner needs tickets, platforms and departure times",
	},
	Market: {
		Title:     "Market",
		Character: "a cheerful market vendor",
		Setting:   "an open-air market stall selling fruit, vegetables and local produce; the learner is shopping",
	},
}

// ParseLanguage accepts a language code or English name, case-insensitively.
func ParseLanguage(raw string) (Language, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for code, info := range languages {
		if v == string(code) || v == strings.ToLower(info.Name) {
			return code, nil
		}
	}
	return "", fmt.Errorf("unknown language %q", raw)
}

// ParseScenario accepts a scenario id; spaces and hyphens are treated as underscores.
func ParseScenario(raw string) (Scenario, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer(" ", "_", "-", "_", "é", "e").Replace(v)
	s := Scenario(v)
	if _, ok := scenarios[s]; !ok {
		return "", fmt.Errorf("unknown scenario %q", raw)
	}
	return s, nil
}

func (l Language) Name() string {
	if info, ok := languages[l]; ok {
		return info.Name
	}
	return string(l)
}

// Voice returns the prebuilt voice used for the character.
func (l Language) Voice() string {
	if info, ok := languages[l]; ok {
		return info.Voice
	}
	return "Puck"
}

func (s Scenario) Title() string {
	if info, ok := scenarios[s]; ok {
		return info.Title
	}
	return string(s)
}

// SystemInstruction builds the roleplay prompt for a scenario and language.
func SystemInstruction(s Scenario, l Language) string {
	info, ok := scenarios[s]
	if !ok {
		info = scenarios[Cafe]
	}
	lang := l.Name()

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s in %s. ", info.Character, info.Setting)
	fmt.Fprintf(&b, "You are helping someone practise %s. ", lang)
	fmt.Fprintf(&b, "Stay in character and respond primarily in %s, using short, natural sentences suited to a learner. ", lang)
	b.WriteString("If the learner is stuck or makes a mistake, gently rephrase correctly and keep the conversation moving. ")
	b.WriteString("Only switch to English briefly when the learner is clearly lost.")
	return b.String()
}

// Option is one selectable entry for the UI.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Languages lists the supported languages sorted by label.
func Languages() []Option {
	out := make([]Option, 0, len(languages))
	for code, info := range languages {
		out = append(out, Option{ID: string(code), Label: info.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Scenarios lists the supported scenarios sorted by id.
func Scenarios() []Option {
	out := make([]Option, 0, len(scenarios))
	for id, info := range scenarios {
		out = append(out, Option{ID: string(id), Label: info.Title})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
