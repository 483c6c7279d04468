// Package tokens counts tokens in query and response text for export
// summaries.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens in a text. Estimated is true when the count comes
// from the character heuristic rather than a real tokenizer.
type Counter interface {
	CountText(text string) (count int, estimated bool)
}

// TiktokenCounter counts tokens with a tiktoken encoding. It falls back to
// the Estimator if the encoding cannot be loaded or encoding fails.
type TiktokenCounter struct {
	encoding tokenizer.Encoding
	fallback *Estimator

	once     sync.Once
	codec    tokenizer.Codec
	codecErr error
}

// NewTiktokenCounter creates a counter for encoding, for example
// "cl100k_base" or "o200k_base". An empty name selects cl100k_base.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	enc := tokenizer.Encoding(strings.ToLower(strings.TrimSpace(encoding)))
	if enc == "" {
		enc = tokenizer.Cl100kBase
	}
	return &TiktokenCounter{encoding: enc, fallback: NewEstimator()}
}

// Encoding returns the configured encoding name.
func (c *TiktokenCounter) Encoding() string {
	return string(c.encoding)
}

// Err reports why the encoding could not be loaded, if it could not.
func (c *TiktokenCounter) Err() error {
	c.load()
	return c.codecErr
}

func (c *TiktokenCounter) load() {
	c.once.Do(func() {
		codec, err := tokenizer.Get(c.encoding)
		if err != nil {
			c.codecErr = fmt.Errorf("failed to get tokenizer encoding %q: %w", c.encoding, err)
			return
		}
		c.codec = codec
	})
}

// CountText counts tokens in text.
func (c *TiktokenCounter) CountText(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	c.load()
	if c.codec == nil {
		return c.fallback.CountText(text)
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return c.fallback.CountText(text)
	}
	return len(ids), false
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// CountText estimates tokens in text, rounding up.
func (e *Estimator) CountText(text string) (int, bool) {
	if text == "" {
		return 0, true
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = 4.0
	}
	n := int(float64(len([]rune(text)))/per + 0.999)
	return max(n, 1), true
}
