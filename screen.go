package trustkit

import (
	"fmt"
	"regexp"
	"strings"
)

// Violation categories known to the default rule set.
const (
	CategoryChildSafety = "child-safety"
	CategoryCruelty     = "cruelty"
	CategoryViolence    = "violence"
)

// ScreenMode selects how a category is attributed when several rules match.
type ScreenMode string

const (
	// ScreenModeMostSevere reports the highest-severity matching rule.
	ScreenModeMostSevere ScreenMode = "most-severe"
	// ScreenModeFirstMatch reports the first matching rule in list order.
	ScreenModeFirstMatch ScreenMode = "first-match"
)

// ParseScreenMode validates a mode name. Empty means most-severe.
func ParseScreenMode(s string) (ScreenMode, error) {
	switch ScreenMode(s) {
	case "", ScreenModeMostSevere:
		return ScreenModeMostSevere, nil
	case ScreenModeFirstMatch:
		return ScreenModeFirstMatch, nil
	}
	return "", NewError(ErrInvalidInput, fmt.Sprintf("unknown screen mode %q", s))
}

// Verdict is the outcome of screening one piece of content.
type Verdict struct {
	IsHarmful bool   `json:"is_harmful"`
	Category  string `json:"category,omitempty"`
	Severity  int    `json:"severity,omitempty"`
}

// Rule is one semantic rule: a category, a severity from 1 to 5 and the
// directional patterns that express it. A rule matches when any pattern does.
type Rule struct {
	Category string
	Severity int
	Patterns []*regexp.Regexp
}

// NewRule compiles a rule. Patterns are matched against lower-cased content.
func NewRule(category string, severity int, exprs ...string) Rule {
	patterns := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		patterns[i] = regexp.MustCompile(expr)
	}
	return Rule{Category: category, Severity: severity, Patterns: patterns}
}

// BothOrders returns the two directional patterns joining a and b with up to
// gap intervening words, so "a ... b" and "b ... a" both match.
func BothOrders(a, b string, gap int) []string {
	bridge := fmt.Sprintf(`\s+(?:\w+\s+){0,%d}`, gap)
	return []string{
		`\b` + a + bridge + b + `\b`,
		`\b` + b + bridge + a + `\b`,
	}
}

func (r Rule) matches(content string) bool {
	for _, p := range r.Patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

const (
	childTerms   = `(?:child|children|kids?|minors?|toddlers?|infants?|underage)`
	childHarm    = `(?:harm(?:ed|ing|s)?|hurt(?:ing|s)?|abus(?:e|ed|es|ing)|exploit(?:ed|ing|s)?|groom(?:ed|ing|s)?|molest(?:ed|ing|s)?)`
	animalTerms  = `(?:animals?|pets?|dogs?|puppies|puppy|cats?|kittens?|horses?)`
	crueltyVerbs = `(?:tortur(?:e|ed|es|ing)|torment(?:ed|ing|s)?|mutilat(?:e|ed|es|ing)|starv(?:e|ed|es|ing)|skin(?:ned|ning)?)`
	violentVerbs = `(?:kill(?:ed|ing|s)?|murder(?:ed|ing|s)?|stab(?:bed|bing|s)?|shoot|shot|behead(?:ed|ing)?|massacre(?:d)?|slaughter(?:ed|ing)?)`
	victimTerms  = `(?:you|him|her|them|everyone|everybody|people|someone|somebody|y'all)`
)

// DefaultRules returns the built-in rule list. Each semantic rule carries
// both word orders.
func DefaultRules() []Rule {
	return []Rule{
		NewRule(CategoryChildSafety, 5, BothOrders(childHarm, childTerms, 3)...),
		NewRule(CategoryViolence, 3, BothOrders(violentVerbs, victimTerms, 3)...),
		NewRule(CategoryCruelty, 4, BothOrders(crueltyVerbs, animalTerms, 3)...),
	}
}

// Screen is a deterministic pattern classifier. It performs no I/O.
type Screen struct {
	rules []Rule
	mode  ScreenMode
}

// NewScreen creates a screen over rules. Nil rules means DefaultRules.
func NewScreen(mode ScreenMode, rules []Rule) *Screen {
	if rules == nil {
		rules = DefaultRules()
	}
	if mode == "" {
		mode = ScreenModeMostSevere
	}
	return &Screen{rules: rules, mode: mode}
}

// Mode returns the attribution mode.
func (s *Screen) Mode() ScreenMode {
	return s.mode
}

// Screen classifies content.
//
// Example:
//
//	v := screen.Screen("I will hurt those kids")
//	// v.IsHarmful == true, v.Category == "child-safety", v.Severity == 5
func (s *Screen) Screen(content string) Verdict {
	lowered := strings.ToLower(content)

	var best *Rule
	for i := range s.rules {
		rule := &s.rules[i]
		if !rule.matches(lowered) {
			continue
		}
		if s.mode == ScreenModeFirstMatch {
			return Verdict{IsHarmful: true, Category: rule.Category, Severity: rule.Severity}
		}
		if best == nil || rule.Severity > best.Severity {
			best = rule
		}
	}
	if best == nil {
		return Verdict{}
	}
	return Verdict{IsHarmful: true, Category: best.Category, Severity: best.Severity}
}

var defaultScreen = NewScreen(ScreenModeMostSevere, nil)

// ScreenContent classifies content with the default rules in most-severe mode.
func ScreenContent(content string) Verdict {
	return defaultScreen.Screen(content)
}
