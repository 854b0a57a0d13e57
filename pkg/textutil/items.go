package textutil

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// ItemUpdates are the inventory changes mentioned in a piece of narration.
type ItemUpdates struct {
	Acquired []string `json:"acquired"`
	Removed  []string `json:"removed"`
}

var (
	// Player commands, one per line: "Take the rope", "> use bandages".
	commandRe = regexp.MustCompile(`(?im)^[ \t]*>?[ \t]*(take|grab|use)[ \t]+([^\n]+)$`)

	acquireRe = regexp.MustCompile(`(?i)\b(?:pick(?:s|ed)?\s+up|uncork(?:s|ed)?|you\s+(?:find|found|receive|received|obtain|obtained))\s+([^.,;:!?\n]+)`)
	removeRe  = regexp.MustCompile(`(?i)\b(?:lose|loses|lost|drop|drops|dropped|discard(?:s|ed)?|hand(?:s|ed)?\s+over|give\s+away|gave\s+away|use(?:s|d)?\s+up)\s+([^.,;:!?\n]+)`)
)

// Words that end an item phrase. Prepositions like "in" and "of" are kept so
// "liquid in the spittoon" stays one item.
var phraseStops = []string{" and ", " then ", " from ", " to ", " into ", " onto ", " before ", " while ", " as ", " because ", " but ", " so ", " with "}

var articles = []string{"the ", "a ", "an ", "some "}

var possessives = []string{"your ", "my ", "his ", "her ", "their ", "our "}

var nonItems = map[string]bool{
	"it": true, "them": true, "yourself": true, "himself": true, "herself": true,
	"this": true, "that": true, "look": true, "cover": true, "aim": true,
	"breath": true, "deep": true, "care": true, "time": true, "note": true,
	"seat": true, "step": true, "turn": true, "track": true, "sight": true,
}

const maxItemWords = 6

// ExtractItemUpdates reports which items the narration says were gained or
// lost. Explicit ACQUIRED_ITEMS/REMOVED_ITEMS markers win; without them the
// player's commands and the narrator's verbs are used. Items the player
// already owns ("your trusty six-shooter") are never counted as acquired.
func ExtractItemUpdates(text string) ItemUpdates {
	if upd, ok := explicitItemUpdates(text); ok {
		return upd
	}

	var acquired, removed []string
	for _, m := range commandRe.FindAllStringSubmatch(text, -1) {
		verb := strings.ToLower(m[1])
		if verb == "use" {
			if item, ok := itemPhrase(m[2], true); ok {
				removed = append(removed, item)
			}
			continue
		}
		if item, ok := itemPhrase(m[2], false); ok {
			acquired = append(acquired, item)
		}
	}

	for _, m := range acquireRe.FindAllStringSubmatch(text, -1) {
		if item, ok := itemPhrase(m[1], false); ok {
			acquired = append(acquired, item)
		}
	}
	for _, m := range removeRe.FindAllStringSubmatch(text, -1) {
		if item, ok := itemPhrase(m[1], true); ok {
			removed = append(removed, item)
		}
	}

	return ItemUpdates{Acquired: dedupe(acquired), Removed: dedupe(removed)}
}

func explicitItemUpdates(text string) (ItemUpdates, bool) {
	var upd ItemUpdates
	found := false
	for _, b := range findBlocks(text, false) {
		switch b.name {
		case MarkerAcquiredItems:
			upd.Acquired = append(upd.Acquired, parseItemList(b.payload)...)
			found = true
		case MarkerRemovedItems:
			upd.Removed = append(upd.Removed, parseItemList(b.payload)...)
			found = true
		}
	}
	if !found {
		return ItemUpdates{}, false
	}
	upd.Acquired = dedupe(upd.Acquired)
	upd.Removed = dedupe(upd.Removed)
	return upd, true
}

func parseItemList(payload string) []string {
	payload = strings.TrimSpace(payload)
	var raw []string
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			raw = strings.Split(strings.Trim(payload, "[]"), ",")
		}
	} else {
		raw = strings.Split(payload, ",")
	}

	items := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.Trim(strings.TrimSpace(r), `"'`)
		if r == "" || strings.EqualFold(r, "none") {
			continue
		}
		items = append(items, r)
	}
	return items
}

// itemPhrase trims a captured phrase down to the item it names.
func itemPhrase(raw string, allowPossessive bool) (string, bool) {
	phrase := " " + strings.TrimSpace(raw) + " "
	lower := strings.ToLower(phrase)
	cut := len(phrase)
	for _, stop := range phraseStops {
		if i := strings.Index(lower, stop); i >= 0 && i < cut {
			cut = i
		}
	}
	phrase = strings.TrimSpace(strings.TrimRight(phrase[:cut], ".,;:!? "))
	lower = strings.ToLower(phrase)

	for _, p := range possessives {
		if strings.HasPrefix(lower, p) {
			if !allowPossessive {
				return "", false
			}
			phrase = phrase[len(p):]
			lower = lower[len(p):]
			break
		}
	}
	for _, a := range articles {
		if strings.HasPrefix(lower, a) {
			phrase = phrase[len(a):]
			lower = lower[len(a):]
			break
		}
	}

	words := strings.Fields(phrase)
	if len(words) == 0 || nonItems[strings.ToLower(words[0])] {
		return "", false
	}
	if len(words) > maxItemWords {
		words = words[:maxItemWords]
	}
	return ToSentenceCase(strings.Join(words, " ")), true
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	fold := cases.Fold()
	for _, it := range items {
		key := fold.String(it)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}
