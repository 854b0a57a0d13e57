package narrative

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jwebster45206/boothill-gm/pkg/decision"
	"github.com/jwebster45206/boothill-gm/pkg/impact"
	"github.com/jwebster45206/boothill-gm/pkg/textutil"
)

// Context sections, highest priority first.
const (
	SectionStoryPoint        = "story_point"
	SectionRecentHistory     = "recent_history"
	SectionActiveDecision    = "active_decision"
	SectionRelevantDecisions = "relevant_decisions"
	SectionWorldState        = "world_state"
	SectionWorldContext      = "world_context"
)

const (
	DefaultMaxTokens     = 2000
	DefaultHistoryLimit  = 6
	DefaultRelevantLimit = 3
	maxWorldStateDeltas  = 8
)

var sectionHeaders = map[string]string{
	SectionStoryPoint:        "## Current Story Point",
	SectionRecentHistory:     "## Recent Events",
	SectionActiveDecision:    "## Active Decision",
	SectionRelevantDecisions: "## Relevant Past Decisions",
	SectionWorldState:        "## World State",
	SectionWorldContext:      "## World",
}

// Sections whose prose is shortened by compression. The rest are lists that
// lose meaning when cut mid-way.
var compressible = map[string]bool{
	SectionStoryPoint:    true,
	SectionRecentHistory: true,
	SectionWorldContext:  true,
}

// Result is a built LLM context and what went into it.
type Result struct {
	Text             string   `json:"text"`
	TokenEstimate    int      `json:"tokenEstimate"`
	IncludedElements []string `json:"includedElements"`
	CompressionRatio float64  `json:"compressionRatio"`
	Compression      Level    `json:"compression"`
}

// Builder assembles the narrative context sent with each LLM request.
type Builder struct {
	ctx           *Context
	history       []string
	active        *decision.PlayerDecision
	state         *impact.State
	records       []impact.RecordWithImpact
	tags          []string
	location      *decision.Location
	maxTokens     int
	compression   Level
	historyLimit  int
	relevantLimit int
	estimator     TokenEstimator
	compressor    Compressor
	now           time.Time
}

// NewBuilder creates a builder with default settings.
func NewBuilder() *Builder {
	return &Builder{
		maxTokens:     DefaultMaxTokens,
		compression:   LevelNone,
		historyLimit:  DefaultHistoryLimit,
		relevantLimit: DefaultRelevantLimit,
		estimator:     WordEstimator{WordsPerToken: DefaultWordsPerToken},
		compressor:    defaultCompressor,
	}
}

// WithContext sets the narrative context. Its impact state and decision
// history are used unless overridden.
func (b *Builder) WithContext(c *Context) *Builder {
	b.ctx = c
	return b
}

// WithHistory sets the narrative history, oldest first.
func (b *Builder) WithHistory(history []string) *Builder {
	b.history = history
	return b
}

// WithActiveDecision sets the decision currently waiting on the player.
func (b *Builder) WithActiveDecision(d *decision.PlayerDecision) *Builder {
	b.active = d
	return b
}

// WithImpactState overrides the context's impact state.
func (b *Builder) WithImpactState(s impact.State) *Builder {
	b.state = &s
	return b
}

// WithRecords overrides the context's decision history.
func (b *Builder) WithRecords(records []impact.RecordWithImpact) *Builder {
	b.records = records
	return b
}

// WithTags sets the tags past decisions are ranked against.
func (b *Builder) WithTags(tags []string) *Builder {
	b.tags = tags
	return b
}

// WithLocation adds the current location to the ranking tags.
func (b *Builder) WithLocation(l *decision.Location) *Builder {
	b.location = l
	return b
}

// WithMaxTokens sets the token budget.
func (b *Builder) WithMaxTokens(n int) *Builder {
	if n > 0 {
		b.maxTokens = n
	}
	return b
}

// WithCompression sets the lowest compression level to try.
func (b *Builder) WithCompression(l Level) *Builder {
	b.compression = l
	return b
}

// WithHistoryLimit sets how many recent history entries are included.
func (b *Builder) WithHistoryLimit(n int) *Builder {
	if n > 0 {
		b.historyLimit = n
	}
	return b
}

// WithRelevantLimit sets how many past decisions are included.
func (b *Builder) WithRelevantLimit(n int) *Builder {
	if n > 0 {
		b.relevantLimit = n
	}
	return b
}

// WithEstimator sets the token estimator.
func (b *Builder) WithEstimator(e TokenEstimator) *Builder {
	if e != nil {
		b.estimator = e
	}
	return b
}

// WithCompressor sets the compression ratios.
func (b *Builder) WithCompressor(c Compressor) *Builder {
	b.compressor = c
	return b
}

// WithNow fixes the clock used for relevance scoring.
func (b *Builder) WithNow(now time.Time) *Builder {
	b.now = now
	return b
}

type section struct {
	name string
	body string
}

// Build renders every available section, then compresses and finally drops
// the lowest-priority sections until the result fits the token budget. It
// never fails; missing inputs just leave their sections out.
func (b *Builder) Build() Result {
	sections := b.collect()
	if len(sections) == 0 {
		return Result{IncludedElements: []string{}, CompressionRatio: 1, Compression: b.compression}
	}

	original := render(sections)
	origLen := utf8.RuneCountInString(original)

	start := 0
	for i, l := range levelOrder {
		if l == b.compression {
			start = i
		}
	}

	var text string
	var level Level
	var included []section
	fitted := false
	for _, l := range levelOrder[start:] {
		level = l
		included = b.compressAll(sections, l)
		text = render(included)
		if b.estimator.EstimateTokens(text) <= b.maxTokens {
			fitted = true
			break
		}
	}

	for !fitted && len(included) > 1 {
		included = included[:len(included)-1]
		text = render(included)
		fitted = b.estimator.EstimateTokens(text) <= b.maxTokens
	}
	if !fitted {
		included[0].body = b.truncateToBudget(included[0])
		if included[0].body == "" {
			included = included[:0]
		}
		text = render(included)
	}

	names := make([]string, 0, len(included))
	for _, s := range included {
		if strings.TrimSpace(s.body) != "" {
			names = append(names, s.name)
		}
	}
	ratio := 1.0
	if origLen > 0 {
		ratio = float64(utf8.RuneCountInString(text)) / float64(origLen)
	}
	return Result{
		Text:             text,
		TokenEstimate:    b.estimator.EstimateTokens(text),
		IncludedElements: names,
		CompressionRatio: ratio,
		Compression:      level,
	}
}

func (b *Builder) compressAll(sections []section, l Level) []section {
	out := make([]section, len(sections))
	for i, s := range sections {
		out[i] = s
		if compressible[s.name] {
			out[i].body = b.compressor.Compress(s.body, l)
		}
	}
	return out
}

// truncateToBudget cuts the words of s until it fits on its own.
func (b *Builder) truncateToBudget(s section) string {
	words := strings.Fields(s.body)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		s.body = strings.Join(words[:mid], " ")
		if b.estimator.EstimateTokens(render([]section{s})) <= b.maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}

func render(sections []section) string {
	parts := make([]string, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.body) == "" {
			continue
		}
		parts = append(parts, sectionHeaders[s.name]+"\n"+s.body)
	}
	return strings.Join(parts, "\n\n")
}

func (b *Builder) collect() []section {
	var sections []section
	add := func(name, body string) {
		if strings.TrimSpace(body) != "" {
			sections = append(sections, section{name: name, body: body})
		}
	}

	add(SectionStoryPoint, b.ctx.StoryPointText())
	add(SectionRecentHistory, b.recentHistory())
	add(SectionActiveDecision, b.activeDecision())
	add(SectionRelevantDecisions, b.relevantDecisions())
	add(SectionWorldState, b.worldState())
	if b.ctx != nil {
		add(SectionWorldContext, strings.TrimSpace(b.ctx.WorldContext))
	}
	return sections
}

func (b *Builder) recentHistory() string {
	h := b.history
	if len(h) > b.historyLimit {
		h = h[len(h)-b.historyLimit:]
	}
	lines := make([]string, 0, len(h))
	for _, entry := range h {
		if cleaned := textutil.CleanMetadataMarkers(entry); cleaned != "" {
			lines = append(lines, cleaned)
		}
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) activeDecision() string {
	d := b.active
	if d == nil && b.ctx != nil && len(b.ctx.PendingDecisions) > 0 {
		d = &b.ctx.PendingDecisions[len(b.ctx.PendingDecisions)-1]
	}
	if d == nil || strings.TrimSpace(d.Prompt) == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(d.Prompt)
	for i, opt := range d.Options {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, opt.Text)
	}
	return sb.String()
}

func (b *Builder) relevantDecisions() string {
	records := b.records
	if records == nil && b.ctx != nil {
		records = b.ctx.DecisionHistory
	}
	if len(records) == 0 {
		return ""
	}

	tags := b.tags
	if len(tags) == 0 {
		var characters, themes []string
		if b.ctx != nil {
			characters, themes = b.ctx.CharacterFocus, b.ctx.Themes
		}
		tags = decision.GenerateContextTags(b.location, characters, themes)
	}
	now := b.now
	if now.IsZero() {
		now = time.Now()
	}

	relevant := decision.FilterMostRelevantDecisions(records, tags, b.relevantLimit, decision.DefaultMinRelevance, now)
	lines := make([]string, 0, len(relevant))
	for _, r := range relevant {
		summary := strings.TrimSpace(textutil.CleanMetadataMarkers(r.Narrative))
		if summary == "" {
			summary = r.ImpactDescription
		}
		if summary == "" {
			continue
		}
		lines = append(lines, "- "+summary)
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) worldState() string {
	var state impact.State
	switch {
	case b.state != nil:
		state = *b.state
	case b.ctx != nil:
		state = b.ctx.ImpactState
	default:
		return ""
	}

	deltas := state.Deltas()
	if len(deltas) > maxWorldStateDeltas {
		deltas = deltas[:maxWorldStateDeltas]
	}
	lines := make([]string, 0, len(deltas))
	for _, d := range deltas {
		lines = append(lines, fmt.Sprintf("- %s %s: %+.1f", d.Type, d.Target, d.Value))
	}
	return strings.Join(lines, "\n")
}

// RefreshNarrativeContext builds a context from c and history with default
// settings and the given token budget.
func RefreshNarrativeContext(c *Context, history []string, maxTokens int) Result {
	return NewBuilder().
		WithContext(c).
		WithHistory(history).
		WithMaxTokens(maxTokens).
		Build()
}
