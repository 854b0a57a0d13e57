package narrative

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultWordsPerToken is the English words-per-token ratio used by WordEstimator.
const DefaultWordsPerToken = 0.75

// TokenEstimator approximates how many model tokens a text costs.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// WordEstimator counts words and divides by WordsPerToken, rounding up.
type WordEstimator struct {
	WordsPerToken float64
}

// EstimateTokens implements TokenEstimator.
func (w WordEstimator) EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	ratio := w.WordsPerToken
	if ratio <= 0 {
		ratio = DefaultWordsPerToken
	}
	return int(math.Ceil(float64(words) / ratio))
}

// EstimateTokenCount estimates tokens with the default word ratio.
func EstimateTokenCount(text string) int {
	return WordEstimator{WordsPerToken: DefaultWordsPerToken}.EstimateTokens(text)
}

// TiktokenEstimator counts tokens with a real BPE encoding.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the encoding used by model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTiktokenEstimator(model string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("loading tiktoken encoding: %w", err)
		}
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// EstimateTokens implements TokenEstimator.
func (t *TiktokenEstimator) EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
