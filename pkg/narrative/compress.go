package narrative

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Level is how hard narrative text is squeezed to fit a token budget.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

var levelOrder = []Level{LevelNone, LevelLow, LevelMedium, LevelHigh}

// ParseLevel returns the level named by s, or LevelNone.
func ParseLevel(s string) Level {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelLow, LevelMedium, LevelHigh:
		return l
	}
	return LevelNone
}

// DefaultRatios is the share of the original length kept at each level.
var DefaultRatios = map[Level]float64{
	LevelLow:    0.9,
	LevelMedium: 0.8,
	LevelHigh:   0.7,
}

// Compressor shortens narrative text toward a share of its length, dropping
// sentences and filler words before anything that names a person or place.
type Compressor struct {
	Ratios map[Level]float64
}

var defaultCompressor = Compressor{Ratios: DefaultRatios}

// CompressNarrativeText compresses text with DefaultRatios. Each level is
// strictly shorter than the one below it; blank input always yields "".
func CompressNarrativeText(text string, level Level) string {
	return defaultCompressor.Compress(text, level)
}

// Compress shortens text to the ratio configured for level. Each level
// starts from the result of the level below it, so a higher level only ever
// removes more of the same text.
func (c Compressor) Compress(text string, level Level) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if level == LevelNone || level == "" {
		return text
	}

	result := strings.Join(strings.Fields(text), " ")
	total := utf8.RuneCountInString(result)
	for _, l := range levelOrder[1:] {
		limit := int(c.ratio(l) * float64(total))
		if prev := utf8.RuneCountInString(result); limit > prev-1 {
			limit = prev - 1
		}
		result = reduce(result, limit, total/20)
		if l == level {
			break
		}
	}
	return result
}

func (c Compressor) ratio(l Level) float64 {
	if r, ok := c.Ratios[l]; ok && r > 0 && r <= 1 {
		return r
	}
	return DefaultRatios[l]
}

var sentenceRe = regexp.MustCompile(`[^.!?]+(?:[.!?]+["')\]]*|$)`)

func splitSentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// minSentenceWords is the fewest words trimming leaves in a sentence.
const minSentenceWords = 2

var terminatorRe = regexp.MustCompile(`[.!?]+["')\]]*$`)

// trimSentence is a sentence split into words, with the words of its named
// entities marked.
type trimSentence struct {
	words    []string
	term     string
	entities map[string]bool
	rank     int
	dropped  bool
}

func newTrimSentence(s string) *trimSentence {
	term := terminatorRe.FindString(s)
	body := strings.TrimSpace(strings.TrimSuffix(s, term))
	names := findEntities(body)
	ts := &trimSentence{
		words:    strings.Fields(body),
		term:     term,
		entities: map[string]bool{},
		rank:     len(names),
	}
	for _, n := range names {
		for _, w := range strings.Fields(n) {
			ts.entities[w] = true
		}
	}
	return ts
}

func (s *trimSentence) String() string {
	if s.dropped || len(s.words) == 0 {
		return ""
	}
	return strings.TrimRight(strings.Join(s.words, " "), ",;:") + s.term
}

// lastFiller returns the index of the last word that is not part of a name,
// or -1 when the sentence may not lose another word.
func (s *trimSentence) lastFiller() int {
	if s.dropped || len(s.words) <= minSentenceWords {
		return -1
	}
	for i := len(s.words) - 1; i >= 0; i-- {
		if !s.entities[strings.Trim(s.words[i], `,;:"'()`)] {
			return i
		}
	}
	return -1
}

func joinSentences(sentences []*trimSentence) string {
	parts := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if str := s.String(); str != "" {
			parts = append(parts, str)
		}
	}
	return strings.Join(parts, " ")
}

// reduce removes text until it fits in limit runes. Whole sentences go first
// when dropping one leaves the text within slack of limit. After that filler
// words are cut, and only then whole sentences regardless of size. Sentences
// naming fewer entities go before those naming more, later ones before
// earlier ones, and the opening sentence last.
func reduce(text string, limit, slack int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	raw := splitSentences(text)
	sentences := make([]*trimSentence, len(raw))
	victims := make([]int, len(raw))
	for i, r := range raw {
		sentences[i] = newTrimSentence(r)
		victims[i] = i
	}
	sort.SliceStable(victims, func(a, b int) bool {
		i, j := victims[a], victims[b]
		if (i == 0) != (j == 0) {
			return j == 0
		}
		if sentences[i].rank != sentences[j].rank {
			return sentences[i].rank < sentences[j].rank
		}
		return i > j
	})
	size := func() int { return utf8.RuneCountInString(joinSentences(sentences)) }

	for _, i := range victims {
		cur := size()
		if cur <= limit {
			break
		}
		if i == 0 {
			continue
		}
		if after := cur - utf8.RuneCountInString(sentences[i].String()) - 1; after >= limit-slack {
			sentences[i].dropped = true
		}
	}

	for size() > limit {
		trimmed := false
		for _, i := range victims {
			s := sentences[i]
			if j := s.lastFiller(); j >= 0 {
				s.words = append(s.words[:j], s.words[j+1:]...)
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}

	for _, i := range victims {
		if size() <= limit {
			break
		}
		if i != 0 {
			sentences[i].dropped = true
		}
	}

	out := joinSentences(sentences)
	if utf8.RuneCountInString(out) > limit {
		return cutWords(out, limit)
	}
	return out
}

// shrink returns at most limit runes of text. Whole sentences are preferred:
// the opening sentence first, then those naming the most entities, in their
// original order. A single oversized sentence is cut at a word boundary.
func shrink(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	sentences := splitSentences(text)
	type ranked struct {
		idx, entities, size int
	}
	candidates := make([]ranked, len(sentences))
	for i, s := range sentences {
		candidates[i] = ranked{idx: i, entities: len(findEntities(s)), size: utf8.RuneCountInString(s)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if (candidates[i].idx == 0) != (candidates[j].idx == 0) {
			return candidates[i].idx == 0
		}
		return candidates[i].entities > candidates[j].entities
	})

	keep := make([]bool, len(sentences))
	used := 0
	for _, c := range candidates {
		extra := c.size
		if used > 0 {
			extra++
		}
		if used+extra <= limit {
			keep[c.idx] = true
			used += extra
		}
	}

	var parts []string
	for i, s := range sentences {
		if keep[i] {
			parts = append(parts, s)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return cutWords(text, limit)
}

// cutWords keeps whole words up to limit runes, or hard-truncates when even
// the first word does not fit.
func cutWords(text string, limit int) string {
	var sb strings.Builder
	n := 0
	for _, w := range strings.Fields(text) {
		size := utf8.RuneCountInString(w)
		if n > 0 {
			size++
		}
		if n+size > limit {
			break
		}
		if n > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
		n += size
	}
	if n > 0 {
		return strings.TrimRight(sb.String(), ",;:")
	}
	r := []rune(text)
	if len(r) > limit {
		r = r[:limit]
	}
	return string(r)
}

var (
	entityRe = regexp.MustCompile(`\b[A-Z][\p{L}'-]*(?:\s+[A-Z][\p{L}'-]*)*`)

	// Capitalized words that are not names.
	commonCapitals = map[string]bool{
		"The": true, "A": true, "An": true, "You": true, "Your": true, "He": true, "She": true,
		"It": true, "They": true, "We": true, "I": true, "His": true, "Her": true, "Their": true,
		"This": true, "That": true, "There": true, "Then": true, "When": true, "As": true,
		"But": true, "And": true, "Or": true, "If": true, "In": true, "On": true, "At": true,
		"With": true, "After": true, "Before": true, "Suddenly": true, "Meanwhile": true,
	}
)

// findEntities returns capitalized names in text, most frequent first.
func findEntities(text string) []string {
	counts := map[string]int{}
	var order []string
	for _, m := range entityRe.FindAllString(text, -1) {
		words := strings.Fields(m)
		for len(words) > 0 && commonCapitals[words[0]] {
			words = words[1:]
		}
		if len(words) == 0 {
			continue
		}
		name := strings.Join(words, " ")
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	return order
}

// CreateConciseSummary shortens text to at most maxLength runes while keeping
// its most mentioned names. Names that do not survive in the kept sentences
// are appended in brackets.
func CreateConciseSummary(text string, maxLength int) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if maxLength <= 0 || normalized == "" {
		return ""
	}
	if utf8.RuneCountInString(normalized) <= maxLength {
		return normalized
	}

	entities := findEntities(normalized)
	if len(entities) > 3 {
		entities = entities[:3]
	}

	body := shrink(normalized, maxLength)
	for attempt := 0; attempt < 3; attempt++ {
		missing := missingEntities(body, entities)
		if len(missing) == 0 {
			return body
		}
		suffix := " [" + strings.Join(missing, ", ") + "]"
		if utf8.RuneCountInString(body)+utf8.RuneCountInString(suffix) <= maxLength {
			return body + suffix
		}
		budget := maxLength - utf8.RuneCountInString(suffix)
		if budget <= 0 {
			break
		}
		body = shrink(normalized, budget)
	}

	if len(entities) > 0 {
		return cutWords(strings.Join(entities, ", "), maxLength)
	}
	return shrink(normalized, maxLength)
}

func missingEntities(text string, entities []string) []string {
	var missing []string
	for _, e := range entities {
		if !strings.Contains(text, e) {
			missing = append(missing, e)
		}
	}
	return missing
}

// SectionSummary summarizes one slice of a longer text.
type SectionSummary struct {
	Index          int    `json:"index"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	OriginalLength int    `json:"originalLength"`
	Summary        string `json:"summary"`
	OriginalTokens int    `json:"originalTokens"`
	SummaryTokens  int    `json:"summaryTokens"`
}

// Summaries is the result of CreateNarrativeSummaries.
type Summaries struct {
	Sections       []SectionSummary `json:"sections"`
	OriginalLength int              `json:"originalLength"`
	CoveredLength  int              `json:"coveredLength"`
	OriginalTokens int              `json:"originalTokens"`
	SummaryTokens  int              `json:"summaryTokens"`
}

// CreateNarrativeSummaries splits text into about sectionCount equal slices,
// moving each cut to the nearest sentence end, and summarizes each slice.
// Start and End are byte offsets into text.
func CreateNarrativeSummaries(text string, sectionCount int) Summaries {
	out := Summaries{Sections: []SectionSummary{}, OriginalLength: utf8.RuneCountInString(text)}
	if strings.TrimSpace(text) == "" {
		return out
	}
	if sectionCount <= 0 {
		sectionCount = 1
	}
	out.OriginalTokens = EstimateTokenCount(text)

	ends := sentenceEnds(text)
	cuts := make([]int, 0, sectionCount)
	prev := 0
	for k := 1; k < sectionCount; k++ {
		target := len(text) * k / sectionCount
		best := -1
		for _, e := range ends {
			if e <= prev || e >= len(text) {
				continue
			}
			if best < 0 || abs(e-target) < abs(best-target) {
				best = e
			}
		}
		if best < 0 {
			break
		}
		cuts = append(cuts, best)
		prev = best
	}
	cuts = append(cuts, len(text))

	start := 0
	for _, end := range cuts {
		chunk := text[start:end]
		if strings.TrimSpace(chunk) == "" {
			start = end
			continue
		}
		size := utf8.RuneCountInString(chunk)
		maxLen := size / 2
		if maxLen < 60 {
			maxLen = 60
		}
		summary := CreateConciseSummary(chunk, maxLen)
		s := SectionSummary{
			Index:          len(out.Sections),
			Start:          start,
			End:            end,
			OriginalLength: size,
			Summary:        summary,
			OriginalTokens: EstimateTokenCount(chunk),
			SummaryTokens:  EstimateTokenCount(summary),
		}
		out.Sections = append(out.Sections, s)
		out.CoveredLength += size
		out.SummaryTokens += s.SummaryTokens
		start = end
	}
	return out
}

// sentenceEnds returns the byte offsets just after each sentence's
// terminating punctuation.
func sentenceEnds(text string) []int {
	var ends []int
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		ends = append(ends, loc[1])
	}
	return ends
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// String implements fmt.Stringer for log output.
func (s Summaries) String() string {
	return fmt.Sprintf("%d sections, %d/%d chars, %d->%d tokens",
		len(s.Sections), s.CoveredLength, s.OriginalLength, s.OriginalTokens, s.SummaryTokens)
}
