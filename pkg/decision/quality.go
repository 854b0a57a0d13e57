package decision

import (
	"fmt"
	"math"
	"strings"
	"unicode"
)

// AcceptableQuality is the lowest score at which a decision is presented without complaint.
const AcceptableQuality = 0.7

// QualityContext is the slice of the narrative context the assessor looks at.
type QualityContext struct {
	CharacterFocus  []string
	Themes          []string
	ImportantEvents []string
}

// QualityResult is the outcome of EvaluateDecisionQuality.
type QualityResult struct {
	Score       float64  `json:"score"`
	Suggestions []string `json:"suggestions"`
	Acceptable  bool     `json:"acceptable"`
}

var approachKeywords = map[string][]string{
	"aggressive": {"attack", "fight", "shoot", "draw", "confront", "threaten", "force", "charge", "ambush", "duel", "punch", "kill", "rob"},
	"cautious":   {"wait", "hide", "observe", "careful", "sneak", "retreat", "watch", "avoid", "scout", "slowly", "investigate", "flee", "leave"},
	"diplomatic": {"talk", "negotiate", "persuade", "convince", "reason", "bargain", "ask", "offer", "befriend", "trade", "parley", "apologize", "help"},
}

// EvaluateDecisionQuality scores a freshly generated decision for completeness,
// option diversity and, when qc is non-nil, narrative relevance.
func EvaluateDecisionQuality(d *PlayerDecision, qc *QualityContext) QualityResult {
	var suggestions []string

	completeness := evaluateCompleteness(d, &suggestions)
	diversity := evaluateDiversity(d, &suggestions)

	var score float64
	if qc != nil {
		relevance := evaluateRelevance(d, qc, &suggestions)
		score = completeness*0.3 + diversity*0.3 + relevance*0.4
	} else {
		score = completeness*0.5 + diversity*0.5
	}
	score = math.Round(score*100) / 100

	if suggestions == nil {
		suggestions = []string{}
	}
	return QualityResult{
		Score:       score,
		Suggestions: suggestions,
		Acceptable:  score >= AcceptableQuality,
	}
}

func evaluateCompleteness(d *PlayerDecision, suggestions *[]string) float64 {
	score := 1.0

	if len(strings.TrimSpace(d.Prompt)) < 10 {
		score -= 0.3
		*suggestions = append(*suggestions, "Decision prompt is missing or too short; describe the situation the player faces.")
	}

	switch {
	case len(d.Options) < 2:
		score -= 0.5
		*suggestions = append(*suggestions, "Provide at least two options to choose from.")
	case len(d.Options) < 3:
		score -= 0.1
		*suggestions = append(*suggestions, "Consider offering a third option for more player agency.")
	}

	if len(d.Options) > 0 {
		incomplete := 0
		for _, opt := range d.Options {
			if strings.TrimSpace(opt.Text) == "" || strings.TrimSpace(opt.Impact) == "" {
				incomplete++
			}
		}
		if incomplete > 0 {
			score -= 0.3 * float64(incomplete) / float64(len(d.Options))
			*suggestions = append(*suggestions, fmt.Sprintf("%d option(s) are missing text or an impact description.", incomplete))
		}
	}

	if !d.Importance.Valid() {
		score -= 0.1
		*suggestions = append(*suggestions, "Set an importance level for the decision.")
	}

	return clamp01(score)
}

func evaluateDiversity(d *PlayerDecision, suggestions *[]string) float64 {
	score := 1.0

	for i := 0; i < len(d.Options); i++ {
		for j := i + 1; j < len(d.Options); j++ {
			sim := jaccard(wordSet(d.Options[i].Text, 0), wordSet(d.Options[j].Text, 0))
			if sim > 0.7 {
				score -= 0.2
				*suggestions = append(*suggestions, fmt.Sprintf("Options %q and %q are too similar.", d.Options[i].Text, d.Options[j].Text))
			}
		}
	}

	var all strings.Builder
	for _, opt := range d.Options {
		all.WriteString(opt.Text)
		all.WriteString(" ")
	}
	words := wordSet(all.String(), 0)
	families := 0
	for _, keywords := range approachKeywords {
		for _, kw := range keywords {
			if words[kw] {
				families++
				break
			}
		}
	}
	if families < 2 {
		score -= 0.2
		*suggestions = append(*suggestions, "Mix approaches across options (aggressive, cautious, diplomatic).")
	}

	return clamp01(score)
}

func evaluateRelevance(d *PlayerDecision, qc *QualityContext, suggestions *[]string) float64 {
	score := 1.0
	prompt := strings.ToLower(d.Prompt)

	if len(qc.CharacterFocus) > 0 {
		mentioned := false
		for _, name := range qc.CharacterFocus {
			if name != "" && strings.Contains(prompt, strings.ToLower(name)) {
				mentioned = true
				break
			}
		}
		if !mentioned {
			score -= 0.2
			*suggestions = append(*suggestions, "Reference at least one of the characters currently in focus in the prompt.")
		}
	}

	if len(qc.Themes) > 0 {
		referenced := false
		for _, opt := range d.Options {
			text := strings.ToLower(opt.Text + " " + opt.Impact + " " + strings.Join(opt.Tags, " "))
			for _, theme := range qc.Themes {
				if theme != "" && strings.Contains(text, strings.ToLower(theme)) {
					referenced = true
					break
				}
			}
			if referenced {
				break
			}
		}
		if !referenced {
			score -= 0.2
			*suggestions = append(*suggestions, "Tie at least one option to the story's current themes.")
		}
	}

	if len(qc.ImportantEvents) > 0 {
		eventWords := wordSet(strings.Join(qc.ImportantEvents, " "), 3)
		promptWords := wordSet(d.Prompt, 3)
		overlap := 0.0
		if len(promptWords) > 0 {
			shared := 0
			for w := range promptWords {
				if eventWords[w] {
					shared++
				}
			}
			overlap = float64(shared) / float64(len(promptWords))
		}
		if overlap < 0.1 {
			score -= 0.3
			*suggestions = append(*suggestions, "Connect the prompt to recent important events.")
		}
	}

	return clamp01(score)
}

// wordSet lowercases text and returns its words longer than minLen characters.
func wordSet(text string, minLen int) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) > minLen {
			set[w] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
