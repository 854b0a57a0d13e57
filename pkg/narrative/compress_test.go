package narrative

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const saloonScene = `Sheriff Wyatt pushed through the swinging doors of the Silver Spur saloon. ` +
	`The piano stopped and every head turned toward the tin star on his chest. ` +
	`At the back table, Black Bart shuffled a deck of cards without looking up. ` +
	`Wyatt crossed the room slowly, boots loud on the warped floorboards. ` +
	`Everyone in Dusty Gulch knew the reward on Bart's head had doubled since spring. ` +
	`Outside, the wind carried dust down the empty main street.`

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"howdy", 2},
		{"one two three", 4},
		{"one two three four five six", 8},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokenCount(tt.text), tt.text)
	}

	assert.Equal(t, 3, WordEstimator{WordsPerToken: 1}.EstimateTokens("a b c"))
	assert.Equal(t, 4, WordEstimator{}.EstimateTokens("a b c"))
}

func TestTiktokenEstimator(t *testing.T) {
	est, err := NewTiktokenEstimator("gpt-4o")
	if err != nil {
		// The BPE ranks are downloaded on first use.
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	assert.Equal(t, 0, est.EstimateTokens(""))
	assert.Equal(t, 0, est.EstimateTokens("  \n "))

	short := est.EstimateTokens("howdy partner")
	long := est.EstimateTokens(saloonScene)
	assert.Positive(t, short)
	assert.Greater(t, long, short)

	var _ TokenEstimator = est
}

func TestCompressNarrativeText_Ordering(t *testing.T) {
	inputs := map[string]string{
		"scene":        saloonScene,
		"no sentences": strings.Repeat("tumbleweeds roll across the prairie under a hot sun ", 8),
		"one word":     strings.Repeat("a", 40),
		"two sentences": "Sheriff Wyatt rode into Dusty Gulch at dawn with the posse behind him. " +
			"The town was quiet and the saloon doors swung in the wind all morning.",
	}

	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			low := CompressNarrativeText(text, LevelLow)
			medium := CompressNarrativeText(text, LevelMedium)
			high := CompressNarrativeText(text, LevelHigh)

			n := utf8.RuneCountInString
			assert.Less(t, n(low), n(text))
			assert.Less(t, n(medium), n(low))
			assert.Less(t, n(high), n(medium))
			assert.NotEmpty(t, high)
			assert.Equal(t, text, CompressNarrativeText(text, LevelNone))
		})
	}
}

func TestCompressNarrativeText_Blank(t *testing.T) {
	for _, text := range []string{"", " ", "\n\t  \n"} {
		for _, l := range []Level{LevelNone, LevelLow, LevelMedium, LevelHigh} {
			assert.Equal(t, "", CompressNarrativeText(text, l), "level %s input %q", l, text)
		}
	}
}

func TestCompressNarrativeText_KeepsSentencesAndNames(t *testing.T) {
	out := CompressNarrativeText(saloonScene, LevelMedium)

	assert.True(t, strings.HasPrefix(out, "Sheriff Wyatt pushed through"), out)
	assert.True(t, strings.HasSuffix(out, "."), out)
	assert.Contains(t, out, "Dusty Gulch")
	assert.LessOrEqual(t, utf8.RuneCountInString(out), int(0.8*float64(utf8.RuneCountInString(saloonScene))))
}

func TestCompressNarrativeText_LevelsBuildOnEachOther(t *testing.T) {
	inputs := map[string]string{
		"short": "The sheriff rode into Dusty Gulch. He was tired.",
		"scene": saloonScene,
	}

	for name, text := range inputs {
		t.Run(name, func(t *testing.T) {
			total := float64(utf8.RuneCountInString(text))
			prev := text
			for _, l := range []Level{LevelLow, LevelMedium, LevelHigh} {
				out := CompressNarrativeText(text, l)
				n := float64(utf8.RuneCountInString(out))
				target := DefaultRatios[l] * total

				assert.LessOrEqual(t, n, target, "level %s: %q", l, out)
				assert.GreaterOrEqual(t, n, target-0.1*total, "level %s: %q", l, out)
				assert.Contains(t, out, "Dusty Gulch", "level %s", l)
				assert.True(t, strings.HasSuffix(out, "."), "level %s: %q", l, out)
				assert.True(t, wordsWithin(out, prev), "level %s: %q is not drawn from %q", l, out, prev)
				prev = out
			}
		})
	}
}

func TestCompressNarrativeText_ShortScene(t *testing.T) {
	text := "The sheriff rode into Dusty Gulch. He was tired."

	assert.Equal(t, "The sheriff rode into Dusty Gulch. He was.", CompressNarrativeText(text, LevelLow))
	assert.Equal(t, "The sheriff rode Dusty Gulch. He was.", CompressNarrativeText(text, LevelMedium))
	assert.Equal(t, "The sheriff Dusty Gulch. He was.", CompressNarrativeText(text, LevelHigh))
}

// wordsWithin reports whether the words of sub appear in order in text,
// ignoring punctuation.
func wordsWithin(sub, text string) bool {
	clean := func(w string) string { return strings.Trim(w, `.,;:!?"'()`) }
	words := strings.Fields(text)
	i := 0
	for _, w := range strings.Fields(sub) {
		for i < len(words) && clean(words[i]) != clean(w) {
			i++
		}
		if i == len(words) {
			return false
		}
		i++
	}
	return true
}

func TestCompressor_CustomRatios(t *testing.T) {
	c := Compressor{Ratios: map[Level]float64{LevelLow: 0.5, LevelMedium: 0.4, LevelHigh: 0.3}}
	out := c.Compress(saloonScene, LevelLow)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), utf8.RuneCountInString(saloonScene)/2)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelHigh, ParseLevel("HIGH"))
	assert.Equal(t, LevelLow, ParseLevel(" low "))
	assert.Equal(t, LevelNone, ParseLevel("extreme"))
	assert.Equal(t, LevelNone, ParseLevel(""))
}

func TestCreateConciseSummary(t *testing.T) {
	text := "Sheriff Wyatt rode into Dusty Gulch at dawn. The town was quiet and the saloon doors swung in the wind. " +
		"Nobody greeted him on the dusty main street that morning. " +
		"Sheriff Wyatt tied his horse outside the jail and looked toward the Dusty Gulch bank."

	out := CreateConciseSummary(text, 80)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 80)
	assert.Contains(t, out, "Sheriff Wyatt")
	assert.Contains(t, out, "Dusty Gulch")

	assert.Equal(t, "Short and sweet.", CreateConciseSummary("Short and sweet.", 80))
	assert.Equal(t, "", CreateConciseSummary("", 80))
	assert.Equal(t, "", CreateConciseSummary(text, 0))
}

func TestCreateConciseSummary_NamesOutsideKeptSentences(t *testing.T) {
	text := "The long ride took most of the day and the horses were tired and thirsty by the time they stopped. " +
		"Calamity Jane waited at the ford."

	out := CreateConciseSummary(text, 110)
	assert.LessOrEqual(t, utf8.RuneCountInString(out), 110)
	assert.Contains(t, out, "Calamity Jane")
}

func TestCreateNarrativeSummaries(t *testing.T) {
	res := CreateNarrativeSummaries(saloonScene, 3)

	require.NotEmpty(t, res.Sections)
	assert.LessOrEqual(t, len(res.Sections), 3)
	assert.LessOrEqual(t, res.CoveredLength, res.OriginalLength)
	assert.Equal(t, utf8.RuneCountInString(saloonScene), res.OriginalLength)

	prevEnd := 0
	for i, s := range res.Sections {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, prevEnd, s.Start)
		assert.Greater(t, s.End, s.Start)
		assert.NotEmpty(t, s.Summary)
		prevEnd = s.End
		if i < len(res.Sections)-1 {
			assert.Equal(t, byte('.'), saloonScene[s.End-1], "section %d should end on a sentence", i)
		}
	}
	assert.Equal(t, len(saloonScene), prevEnd)
	assert.Greater(t, res.OriginalTokens, 0)

	empty := CreateNarrativeSummaries("  ", 3)
	assert.Empty(t, empty.Sections)
	assert.Equal(t, 0, empty.CoveredLength)

	single := CreateNarrativeSummaries("One sentence only.", 4)
	require.Len(t, single.Sections, 1)
	assert.Equal(t, "One sentence only.", single.Sections[0].Summary)
}
