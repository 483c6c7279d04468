package classifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
)

// Rule is one entry of the ordered classification table.
type Rule interface {
	// Name identifies the rule in records and logs.
	Name() string
	// Category is the destination category the rule assigns.
	Category() domain.Category
	// Match reports whether the rule applies and how confident the match is.
	Match(resp *domain.AgentResponse) (bool, domain.Confidence)
}

// HintRule matches when the response carries a structured category hint
// naming this category or one of its aliases.
type HintRule struct {
	category domain.Category
	values   map[string]struct{}
}

// NewHintRule builds a hint rule. The category name itself is always accepted.
func NewHintRule(category domain.Category, aliases ...string) *HintRule {
	values := map[string]struct{}{normalizeHint(string(category)): {}}
	for _, a := range aliases {
		if n := normalizeHint(a); n != "" {
			values[n] = struct{}{}
		}
	}
	return &HintRule{category: category, values: values}
}

func (r *HintRule) Name() string              { return "hint:" + string(r.category) }
func (r *HintRule) Category() domain.Category { return r.category }

func (r *HintRule) Match(resp *domain.AgentResponse) (bool, domain.Confidence) {
	for _, hint := range StructuredHints(resp) {
		if _, match := r.values[hint]; match {
			return true, domain.ConfidenceHigh
		}
	}
	return false, ""
}

// PatternRule matches when any of its case-insensitive patterns occurs in
// the response text. Pattern matches are low confidence.
type PatternRule struct {
	category domain.Category
	patterns []*regexp.Regexp
}

// NewPatternRule compiles patterns into a rule.
func NewPatternRule(category domain.Category, patterns ...string) (*PatternRule, error) {
	r := &PatternRule{category: category}
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q for %s: %w", p, category, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *PatternRule) Name() string              { return "pattern:" + string(r.category) }
func (r *PatternRule) Category() domain.Category { return r.category }

func (r *PatternRule) Match(resp *domain.AgentResponse) (bool, domain.Confidence) {
	if resp == nil {
		return false, ""
	}
	for _, re := range r.patterns {
		if re.MatchString(resp.Text) {
			return true, domain.ConfidenceLow
		}
	}
	return false, ""
}

// FallbackRule always matches with the general category.
type FallbackRule struct{}

func (FallbackRule) Name() string              { return "fallback" }
func (FallbackRule) Category() domain.Category { return domain.CategoryGeneral }

func (FallbackRule) Match(*domain.AgentResponse) (bool, domain.Confidence) {
	return true, domain.ConfidenceLow
}

var markerPattern = regexp.MustCompile(`(?im)^[ \t>*_#-]*(?:webhook_type|category)[*_]*[ \t]*[:=][*_ \t]*["'\x60]?([A-Za-z][A-Za-z_-]*)`)

// StructuredHints extracts every category hint a response carries, in
// order: the explicit Category field, the webhook_type and category keys of
// a JSON body, then each "webhook_type: x" or "category: x" marker line.
// Hints are normalized but not validated; rules ignore the ones they do not
// own, so an unknown hint never hides a later valid one.
func StructuredHints(resp *domain.AgentResponse) []string {
	if resp == nil {
		return nil
	}
	var hints []string
	add := func(v string) {
		if n := normalizeHint(v); n != "" {
			hints = append(hints, n)
		}
	}
	add(string(resp.Category))

	text := strings.TrimSpace(resp.Text)
	if strings.HasPrefix(text, "{") {
		var body map[string]json.RawMessage
		if json.Unmarshal([]byte(text), &body) == nil {
			for _, key := range []string{"webhook_type", "category"} {
				var v string
				if raw, ok := body[key]; ok && json.Unmarshal(raw, &v) == nil {
					add(v)
				}
			}
		}
	}

	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	return hints
}

func normalizeHint(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return strings.Trim(s, "_")
}
