package engine

import (
	"math"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"
)

// DetectionConfig tunes when a decision point is reported.
type DetectionConfig struct {
	// MinInterval is the least time between two decisions.
	MinInterval time.Duration
	// Threshold is the score at or above which a decision is presented.
	Threshold float64
	// Randomness spreads the score by up to ±Randomness/2. Zero keeps
	// detection deterministic.
	Randomness float64
	// Rand returns values in [0,1). Defaults to math/rand/v2 when Randomness > 0.
	Rand func() float64
	// Detector scores the narrative text. Defaults to the keyword detector.
	Detector SignalDetector
}

// DefaultDetectionConfig returns the standard detection settings.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinInterval: 30 * time.Second,
		Threshold:   0.6,
	}
}

// Detection is the outcome of DetectDecisionPoint.
type Detection struct {
	ShouldPresent bool    `json:"shouldPresent"`
	Score         float64 `json:"score"`
	Reason        string  `json:"reason"`
}

// Signal is how strongly a piece of narrative calls for a decision.
type Signal struct {
	// Explicit is set when the text asks for a choice outright.
	Explicit bool
	// Keywords lists the story-advancement words found.
	Keywords []string
	// Strength is in [0,1].
	Strength float64
}

// SignalDetector classifies narrative text for decision detection.
type SignalDetector interface {
	Detect(text string) Signal
}

var (
	explicitRe = regexp.MustCompile(`(?i)\[DECISION\]|DECISION_POINT:|\bwhat (?:will|do) you do\b|\byou must (?:decide|choose)\b|\bthe choice is yours\b`)

	defaultKeywords = []string{
		"discover", "crucial", "completed", "reveal", "secret", "betray",
		"confront", "ambush", "showdown", "standoff", "ultimatum", "crossroads",
		"wanted", "bounty", "choice", "decide", "dilemma",
	}
)

// KeywordDetector scores text by counting story-advancement keywords.
// Each distinct keyword adds PerKeyword to the strength.
type KeywordDetector struct {
	Keywords   []string
	PerKeyword float64
	re         *regexp.Regexp
}

// NewKeywordDetector builds a detector for keywords, or the default list
// when keywords is empty. Keywords match at the start of a word, so
// "discover" also matches "discovered".
func NewKeywordDetector(keywords []string) *KeywordDetector {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(strings.ToLower(k))
	}
	return &KeywordDetector{
		Keywords:   keywords,
		PerKeyword: 0.25,
		re:         regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)`),
	}
}

// Detect implements SignalDetector.
func (kd *KeywordDetector) Detect(text string) Signal {
	if explicitRe.MatchString(text) {
		return Signal{Explicit: true, Strength: 1}
	}
	seen := map[string]bool{}
	var found []string
	for _, m := range kd.re.FindAllStringSubmatch(strings.ToLower(text), -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			found = append(found, m[1])
		}
	}
	return Signal{Keywords: found, Strength: math.Min(1, float64(len(found))*kd.PerKeyword)}
}

var (
	defaultDetector = NewKeywordDetector(nil)
	randFloat       = rand.Float64
)

// Score weights.
const (
	signalWeight = 0.7
	timeWeight   = 0.3
	// Time since the last decision stops adding to the score after this many intervals.
	timeSaturation = 4
)

// DetectDecisionPoint decides whether the latest narrative warrants a new
// decision. It never reports one while another is pending, nor sooner than
// MinInterval after lastDecisionTime. Combat does not gate detection.
func (s *DecisionService) DetectDecisionPoint(state NarrativeState, character Character, game GameState, lastDecisionTime time.Time) Detection {
	s.mu.Lock()
	pending := s.pending != nil
	if !pending {
		s.phase = PhaseDetecting
	}
	cfg := s.detection
	now := s.now()
	s.mu.Unlock()

	if pending {
		return Detection{Reason: "decision already pending"}
	}

	det := detect(cfg, state.latest(), now, lastDecisionTime)
	if !det.ShouldPresent {
		s.setPhase(PhaseNoDecision)
	}
	s.logger.Debug("Decision detection",
		"score", det.Score,
		"present", det.ShouldPresent,
		"reason", det.Reason,
		"character", character.Name,
		"combat", game.CombatActive)
	return det
}

func detect(cfg DetectionConfig, text string, now, last time.Time) Detection {
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if !last.IsZero() && now.Sub(last) < cfg.MinInterval {
		return Detection{Reason: "too soon since last decision"}
	}
	if strings.TrimSpace(text) == "" {
		return Detection{Reason: "no narrative"}
	}

	detector := cfg.Detector
	if detector == nil {
		detector = defaultDetector
	}
	sig := detector.Detect(text)

	timeFactor := 1.0
	if !last.IsZero() && cfg.MinInterval > 0 {
		timeFactor = math.Min(1, float64(now.Sub(last))/float64(timeSaturation*cfg.MinInterval))
	}

	score := sig.Strength*signalWeight + timeFactor*timeWeight
	if cfg.Randomness > 0 {
		rnd := cfg.Rand
		if rnd == nil {
			rnd = randFloat
		}
		score += (rnd() - 0.5) * cfg.Randomness
	}
	score = math.Round(math.Max(0, math.Min(1, score))*100) / 100

	var reason string
	switch {
	case sig.Explicit:
		reason = "explicit decision marker"
	case len(sig.Keywords) > 0:
		reason = "story keywords: " + strings.Join(sig.Keywords, ", ")
	default:
		reason = "no narrative signal"
	}
	return Detection{ShouldPresent: score >= cfg.Threshold, Score: score, Reason: reason}
}
