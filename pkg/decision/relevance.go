package decision

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultMaxRelevant is how many past decisions are kept by FilterMostRelevantDecisions.
	DefaultMaxRelevant = 5
	// DefaultMinRelevance is the lowest 0-10 score a past decision needs to be kept.
	DefaultMinRelevance = 3.0

	defaultMaxAge = 14 * 24 * time.Hour
)

// RelevanceConfig weights the sub-scores of CalculateRelevanceScore.
type RelevanceConfig struct {
	RecencyWeight    float64
	TagMatchWeight   float64
	ImportanceWeight float64
	ImpactWeight     float64
	MaxAge           time.Duration
}

// DefaultRelevanceConfig returns the standard weighting.
func DefaultRelevanceConfig() RelevanceConfig {
	return RelevanceConfig{
		RecencyWeight:    0.3,
		TagMatchWeight:   0.4,
		ImportanceWeight: 0.2,
		ImpactWeight:     0.1,
		MaxAge:           defaultMaxAge,
	}
}

// ImpactSummary is the impact data the scorer needs from a record.
// A zero duration means the impact is permanent.
type ImpactSummary struct {
	Values    []float64
	Durations []time.Duration
	AppliedAt time.Time
}

// Expired reports whether every impact has a duration and all of them have elapsed.
func (s *ImpactSummary) Expired(now time.Time) bool {
	if s == nil || len(s.Durations) == 0 {
		return false
	}
	for _, d := range s.Durations {
		if d <= 0 || now.Sub(s.AppliedAt) < d {
			return false
		}
	}
	return true
}

// Scorable is anything the relevance scorer can rank.
type Scorable interface {
	ScoringRecord() Record
	ScoringImpacts() *ImpactSummary
}

// CalculateRelevanceScore ranks a past decision against the current context on a 0-10 scale.
func CalculateRelevanceScore(s Scorable, currentTags []string, now time.Time, cfg RelevanceConfig) float64 {
	rec := s.ScoringRecord()
	impacts := s.ScoringImpacts()
	if impacts.Expired(now) {
		return 0
	}

	recency := recencyScore(rec.Timestamp, now, cfg.MaxAge)
	tagMatch := tagMatchScore(rec.Tags, currentTags)
	importance := clamp01(rec.RelevanceScore / 10)
	magnitude := 0.5
	if impacts != nil {
		var sum float64
		for _, v := range impacts.Values {
			sum += math.Abs(v)
		}
		magnitude = clamp01(sum / 20)
	}

	totalWeight := cfg.RecencyWeight + cfg.TagMatchWeight + cfg.ImportanceWeight + cfg.ImpactWeight
	if totalWeight <= 0 {
		return 0
	}
	combined := (recency*cfg.RecencyWeight +
		tagMatch*cfg.TagMatchWeight +
		importance*cfg.ImportanceWeight +
		magnitude*cfg.ImpactWeight) / totalWeight

	score := math.Round(combined*100) / 10
	return math.Max(0, math.Min(10, score))
}

func recencyScore(ts, now time.Time, maxAge time.Duration) float64 {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	age := now.Sub(ts)
	if age <= 0 {
		return 1
	}
	return clamp01(1 - float64(age)/float64(maxAge))
}

// tagMatchScore is a Jaccard-style overlap. Tags match case-insensitively and
// when one contains the other, so "character:sheriff" matches "sheriff".
func tagMatchScore(decisionTags, contextTags []string) float64 {
	if len(decisionTags) == 0 || len(contextTags) == 0 {
		return 0
	}

	matches := 0
	for _, dt := range decisionTags {
		dt = strings.ToLower(strings.TrimSpace(dt))
		if dt == "" {
			continue
		}
		for _, ct := range contextTags {
			ct = strings.ToLower(strings.TrimSpace(ct))
			if ct == "" {
				continue
			}
			if dt == ct || strings.Contains(dt, ct) || strings.Contains(ct, dt) {
				matches++
				break
			}
		}
	}
	if matches == 0 {
		return 0
	}

	union := len(decisionTags) + len(contextTags) - matches
	jaccard := float64(matches) / float64(union)

	// Records carrying more tags are more specific, so a match on them counts for more.
	bonus := 1 + 0.1*math.Min(float64(len(decisionTags)), 5)
	return clamp01(jaccard * bonus)
}

// GenerateContextTags flattens the current scene into tags for relevance matching.
func GenerateContextTags(location *Location, characters, themes []string) []string {
	tags := make([]string, 0, 2+len(characters)+len(themes))
	if location != nil {
		if location.Type != "" {
			tags = append(tags, "location:"+location.Type)
		}
		if location.Name != "" {
			tags = append(tags, "place:"+location.Name)
		}
	}
	for _, c := range characters {
		if c != "" {
			tags = append(tags, "character:"+c)
		}
	}
	for _, t := range themes {
		if t != "" {
			tags = append(tags, "theme:"+t)
		}
	}
	return tags
}

// FilterMostRelevantDecisions scores every record, drops those under minScore and
// returns at most maxCount of the rest, highest score first.
func FilterMostRelevantDecisions[T Scorable](records []T, tags []string, maxCount int, minScore float64, now time.Time) []T {
	if maxCount <= 0 {
		maxCount = DefaultMaxRelevant
	}
	cfg := DefaultRelevanceConfig()

	type scored struct {
		item  T
		score float64
	}
	kept := make([]scored, 0, len(records))
	for _, r := range records {
		score := CalculateRelevanceScore(r, tags, now, cfg)
		if score >= minScore {
			kept = append(kept, scored{item: r, score: score})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	if len(kept) > maxCount {
		kept = kept[:maxCount]
	}

	out := make([]T, len(kept))
	for i, k := range kept {
		out[i] = k.item
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
