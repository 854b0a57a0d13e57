package textutil

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Metadata markers the game master model embeds in its narration.
const (
	MarkerSuggestedActions = "SUGGESTED_ACTIONS"
	MarkerAcquiredItems    = "ACQUIRED_ITEMS"
	MarkerRemovedItems     = "REMOVED_ITEMS"
	MarkerStoryPoint       = "STORY_POINT"
)

var (
	markerRe = regexp.MustCompile(`(SUGGESTED_ACTIONS|ACQUIRED_ITEMS|REMOVED_ITEMS|STORY_POINT)[ \t]*:`)
	rollRe   = regexp.MustCompile(`(?i)[\[(]Roll:\s*\d+(?:\s*/\s*\d+)?[\])]`)

	spaceRunRe = regexp.MustCompile(`[ \t]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// SuggestedAction is one entry of a SUGGESTED_ACTIONS block.
type SuggestedAction struct {
	Text    string `json:"text"`
	Type    string `json:"type,omitempty"`
	Context string `json:"context,omitempty"`
}

// StoryPoint is the payload of a STORY_POINT block.
type StoryPoint struct {
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description"`
	Significance string   `json:"significance,omitempty"`
	Characters   []string `json:"characters,omitempty"`
}

type block struct {
	name       string
	start, end int
	payload    string
}

// findBlocks locates every metadata block in text. A payload that opens with
// a bracket runs to its matching close bracket, possibly across lines;
// anything else runs to the end of the line. With keepRolls set, roll
// annotations are never swallowed into a payload.
func findBlocks(text string, keepRolls bool) []block {
	var blocks []block
	pos := 0
	for pos < len(text) {
		loc := markerRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		b := block{
			name:  text[pos+loc[2] : pos+loc[3]],
			start: pos + loc[0],
		}
		after := pos + loc[1]

		// Skip horizontal space for line payloads, any space for bracketed ones.
		lineStart := after
		for lineStart < len(text) && (text[lineStart] == ' ' || text[lineStart] == '\t') {
			lineStart++
		}
		open := lineStart
		for open < len(text) && isSpace(text[open]) {
			open++
		}

		bracketed := false
		if open < len(text) && (text[open] == '[' || text[open] == '{') {
			isRoll := keepRolls && strings.HasPrefix(text[open:], "[") && startsWithRoll(text[open:])
			if closeAt, ok := matchBracket(text, open); ok && !isRoll {
				b.end = closeAt + 1
				b.payload = text[open:b.end]
				bracketed = true
			}
		}
		if !bracketed {
			lineEnd := len(text)
			if nl := strings.IndexByte(text[lineStart:], '\n'); nl >= 0 {
				lineEnd = lineStart + nl
			}
			if keepRolls {
				if m := rollRe.FindStringIndex(text[lineStart:lineEnd]); m != nil {
					lineEnd = lineStart + m[0]
				}
			}
			b.end = lineEnd
			b.payload = strings.TrimSpace(text[lineStart:lineEnd])
		}

		blocks = append(blocks, b)
		pos = b.end
		if pos <= b.start {
			pos = after
		}
	}
	return blocks
}

func startsWithRoll(s string) bool {
	m := rollRe.FindStringIndex(s)
	return m != nil && m[0] == 0
}

// matchBracket returns the index of the bracket closing the one at open,
// ignoring brackets inside JSON strings.
func matchBracket(text string, open int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func removeBlocks(text string, blocks []block) string {
	if len(blocks) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, b := range blocks {
		sb.WriteString(text[last:b.start])
		sb.WriteByte(' ')
		last = b.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// CleanMetadataMarkers strips SUGGESTED_ACTIONS, ACQUIRED_ITEMS, REMOVED_ITEMS
// and STORY_POINT blocks from narration and tidies the leftover whitespace.
func CleanMetadataMarkers(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return collapseWhitespace(removeBlocks(text, findBlocks(text, false)))
}

// CleanCombatLogEntry cleans a combat log line the same way as
// CleanMetadataMarkers but keeps [Roll: n/m] and (Roll: n) annotations and
// drops repeated lines left behind by duplicated metadata.
func CleanCombatLogEntry(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	cleaned := collapseWhitespace(removeBlocks(text, findBlocks(text, true)))

	lines := strings.Split(cleaned, "\n")
	out := lines[:0]
	prev := ""
	for _, line := range lines {
		if line != "" && line == prev {
			continue
		}
		out = append(out, line)
		if line != "" {
			prev = line
		}
	}
	return collapseWhitespace(strings.Join(out, "\n"))
}

// ExtractSuggestedActions returns the first SUGGESTED_ACTIONS payload in text.
// Plain string entries are accepted as actions of type "basic".
func ExtractSuggestedActions(text string) []SuggestedAction {
	for _, b := range findBlocks(text, false) {
		if b.name != MarkerSuggestedActions {
			continue
		}
		var actions []SuggestedAction
		if err := json.Unmarshal([]byte(b.payload), &actions); err == nil {
			return filterActions(actions)
		}
		var plain []string
		if err := json.Unmarshal([]byte(b.payload), &plain); err == nil {
			actions = make([]SuggestedAction, 0, len(plain))
			for _, p := range plain {
				actions = append(actions, SuggestedAction{Text: p, Type: "basic"})
			}
			return filterActions(actions)
		}
	}
	return nil
}

func filterActions(actions []SuggestedAction) []SuggestedAction {
	out := actions[:0]
	for _, a := range actions {
		a.Text = strings.TrimSpace(a.Text)
		if a.Text != "" {
			out = append(out, a)
		}
	}
	return out
}

// ExtractStoryPoint returns the last STORY_POINT in text. The payload may be a
// JSON object or a plain line of prose.
func ExtractStoryPoint(text string) (StoryPoint, bool) {
	var found StoryPoint
	ok := false
	for _, b := range findBlocks(text, false) {
		if b.name != MarkerStoryPoint || b.payload == "" {
			continue
		}
		if strings.HasPrefix(b.payload, "{") {
			var sp StoryPoint
			if err := json.Unmarshal([]byte(b.payload), &sp); err != nil || strings.TrimSpace(sp.Description+sp.Title) == "" {
				continue
			}
			found, ok = sp, true
			continue
		}
		found, ok = StoryPoint{Description: b.payload}, true
	}
	return found, ok
}
