package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
)

type fallbackOption struct {
	text   string
	impact string
	tags   []string
}

type fallbackTemplate struct {
	prompt  string
	context string
	options []fallbackOption
}

// Fallback templates keyed by location type. "%s" in a prompt is replaced
// with the character's name, or "you".
var fallbackTemplates = map[string]fallbackTemplate{
	"town": {
		prompt:  "The townsfolk watch %s warily as a stranger rides in with a rifle across his saddle. How do you respond?",
		context: "A tense moment on the main street.",
		options: []fallbackOption{
			{"Greet the stranger and offer to buy him a drink", "Your reputation in town as a friendly face grows", []string{"social"}},
			{"Keep a hand near your holster and watch him closely", "The town sees you as cautious; the stranger marks you as a threat", []string{"caution"}},
			{"Report the stranger to the sheriff", "Your relationship with the law improves", []string{"law"}},
		},
	},
	"saloon": {
		prompt:  "A card player accuses %s of cheating and the saloon falls silent. What will you do?",
		context: "Tempers run hot at the poker table.",
		options: []fallbackOption{
			{"Calmly deny it and show your cards", "Your reputation for honesty is tested in front of the whole saloon", []string{"honor"}},
			{"Laugh it off and buy the table a round", "Your friendship with the regulars grows", []string{"social"}},
			{"Stand up and call him out", "A showdown changes the story of the night", []string{"confrontation"}},
		},
	},
	"wilderness": {
		prompt:  "Tracks cross the trail ahead of %s: two riders heading toward the canyon, one horse limping. Which way?",
		context: "Out on the open range with the sun dropping.",
		options: []fallbackOption{
			{"Follow the tracks into the canyon", "The story takes a turn toward whoever made them", []string{"pursuit"}},
			{"Make camp and wait for daylight", "The world moves on while you rest", []string{"caution"}},
			{"Ride back toward town to warn the sheriff", "Your relationship with the sheriff improves", []string{"law"}},
		},
	},
	"ranch": {
		prompt:  "The rancher's foreman tells %s that cattle have gone missing again and the hands blame the homesteaders. What do you do?",
		context: "Bad blood between cattlemen and settlers.",
		options: []fallbackOption{
			{"Offer to investigate the missing cattle", "A new mission begins; the story turns to the rustlers", []string{"investigation"}},
			{"Side with the ranch hands", "Your alliance with the rancher strengthens", []string{"loyalty"}},
			{"Warn the homesteaders of trouble", "Your reputation among the settlers rises", []string{"mercy"}},
		},
	},
}

var defaultFallback = fallbackTemplate{
	prompt:  "The dust settles around %s. A choice lies ahead. What will you do?",
	context: "A quiet moment on the frontier.",
	options: []fallbackOption{
		{"Press on and see what lies ahead", "The story moves forward", []string{"explore"}},
		{"Stop and take stock of your surroundings", "You learn more about this location", []string{"caution"}},
	},
}

// Location types that share a template.
var fallbackAliases = map[string]string{
	"trail":     "wilderness",
	"desert":    "wilderness",
	"canyon":    "wilderness",
	"mountain":  "wilderness",
	"prairie":   "wilderness",
	"bar":       "saloon",
	"tavern":    "saloon",
	"city":      "town",
	"village":   "town",
	"farm":      "ranch",
	"homestead": "ranch",
}

// FallbackDecision returns a templated decision for the current location.
// It makes no network calls and always has a prompt and at least two options.
func FallbackDecision(state NarrativeState, character Character, now time.Time) decision.PlayerDecision {
	tmpl := defaultFallback
	var locType string
	if state.Location != nil {
		locType = strings.ToLower(strings.TrimSpace(state.Location.Type))
		if alias, ok := fallbackAliases[locType]; ok {
			locType = alias
		}
		if t, ok := fallbackTemplates[locType]; ok {
			tmpl = t
		}
	}

	name := strings.TrimSpace(character.Name)
	if name == "" {
		name = "you"
	}
	prompt := strings.Replace(tmpl.prompt, "%s", name, 1)

	d := decision.PlayerDecision{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		Options:     make([]decision.Option, len(tmpl.options)),
		Timestamp:   now,
		Context:     tmpl.context,
		Importance:  decision.ImportanceModerate,
		Characters:  []string{},
		Location:    state.Location,
		AIGenerated: false,
	}
	for i, o := range tmpl.options {
		tags := make([]string, len(o.tags))
		copy(tags, o.tags)
		d.Options[i] = decision.Option{
			ID:     uuid.NewString(),
			Text:   o.text,
			Impact: o.impact,
			Tags:   tags,
		}
	}
	return d
}
