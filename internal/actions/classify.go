package actions

import (
	"fmt"
	"regexp"

	"github.com/xkilldash9x/autodevops/internal/config"
)

// Rule classifies an error message. Rules are evaluated in order and the first
// match wins.
type Rule struct {
	Pattern        *regexp.Regexp
	Classification string
}

// DefaultRules are the built-in build error classifications.
var DefaultRules = []Rule{
	{Pattern: regexp.MustCompile(`(?i)import|module not found`), Classification: "Fixed import errors"},
	{Pattern: regexp.MustCompile(`(?i)syntax`), Classification: "Fixed syntax errors"},
	{Pattern: regexp.MustCompile(`(?i)indent`), Classification: "Fixed indentation"},
}

// Classifier maps error messages to the fix they call for.
type Classifier struct {
	rules []Rule
}

// NewClassifier compiles extra rules and appends them after DefaultRules.
func NewClassifier(extra []config.FixRule) (*Classifier, error) {
	rules := make([]Rule, 0, len(DefaultRules)+len(extra))
	rules = append(rules, DefaultRules...)
	for i, fr := range extra {
		re, err := regexp.Compile(fr.Pattern)
		if err != nil {
			return nil, fmt.Errorf("fix rule %d: invalid pattern %q: %w", i, fr.Pattern, err)
		}
		rules = append(rules, Rule{Pattern: re, Classification: fr.Classification})
	}
	return &Classifier{rules: rules}, nil
}

// Classify returns the classification of the first matching rule.
func (c *Classifier) Classify(message string) (string, bool) {
	for _, r := range c.rules {
		if r.Pattern.MatchString(message) {
			return r.Classification, true
		}
	}
	return "", false
}
