// Package classifier maps agent responses to destination categories.
//
// Classification is a pure function of the response: rules are evaluated in
// a fixed order and the first match wins. Hint rules for every configured
// category come first, then pattern rules, then the general fallback.
package classifier

import (
	"fmt"
	"sync/atomic"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/config"
)

// Classifier holds an immutable rule table and the destination URL of each
// category.
type Classifier struct {
	rules   []Rule
	targets map[domain.Category]string
}

var _ ports.Classifier = (*Classifier)(nil)

// New creates a classifier from an ordered rule list. A FallbackRule is
// appended when the list does not already end with one.
func New(rules []Rule, targets map[domain.Category]string) *Classifier {
	out := append([]Rule(nil), rules...)
	if len(out) == 0 {
		out = append(out, FallbackRule{})
	} else if _, ok := out[len(out)-1].(FallbackRule); !ok {
		out = append(out, FallbackRule{})
	}

	t := make(map[domain.Category]string, len(targets))
	for k, v := range targets {
		t[k] = v
	}
	return &Classifier{rules: out, targets: t}
}

// FromConfig builds the rule table from destination config. Destination order
// is rule priority. Every destination, general included, gets a hint rule;
// general never gets pattern rules since the fallback covers it.
func FromConfig(dests []config.DestinationConfig) (*Classifier, error) {
	var hints, patterns []Rule
	targets := make(map[domain.Category]string, len(dests))

	for _, d := range dests {
		category := domain.Category(d.Category)
		targets[category] = d.URL
		hints = append(hints, NewHintRule(category, d.Hints...))
		if category != domain.CategoryGeneral && len(d.Patterns) > 0 {
			pr, err := NewPatternRule(category, d.Patterns...)
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, pr)
		}
	}
	if _, ok := targets[domain.CategoryGeneral]; !ok {
		return nil, fmt.Errorf("no destination configured for %q", domain.CategoryGeneral)
	}

	return New(append(hints, patterns...), targets), nil
}

// Classify returns the first matching rule's category.
func (c *Classifier) Classify(resp *domain.AgentResponse) domain.ClassificationResult {
	for _, rule := range c.rules {
		if ok, confidence := rule.Match(resp); ok {
			return domain.ClassificationResult{
				Category:   rule.Category(),
				Rule:       rule.Name(),
				Confidence: confidence,
			}
		}
	}
	// Unreachable while the table ends with FallbackRule.
	return domain.ClassificationResult{Category: domain.CategoryGeneral, Rule: "fallback", Confidence: domain.ConfidenceLow}
}

// TargetURL returns the destination webhook for category. Categories with no
// destination of their own fall back to the general destination.
func (c *Classifier) TargetURL(category domain.Category) (string, bool) {
	if url, ok := c.targets[category]; ok && url != "" {
		return url, true
	}
	url, ok := c.targets[domain.CategoryGeneral]
	return url, ok && url != ""
}

// Rules returns the ordered rule names.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name()
	}
	return names
}

// Holder publishes the current classifier so config reloads can swap the
// table without locking readers. Callers take one snapshot per conversation.
type Holder struct {
	p atomic.Pointer[Classifier]
}

// NewHolder creates a holder with an initial classifier.
func NewHolder(c *Classifier) *Holder {
	h := &Holder{}
	h.p.Store(c)
	return h
}

// Current returns the active classifier.
func (h *Holder) Current() *Classifier {
	return h.p.Load()
}

// Swap replaces the active classifier.
func (h *Holder) Swap(c *Classifier) {
	h.p.Store(c)
}
