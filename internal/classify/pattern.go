package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// urlPattern matches http/https URLs, www. URLs, and bare domains on common
// TLDs. The bare-domain variant requires a trailing "/" to avoid false
// positives on version strings like "v2.0" or decimal numbers like "3.14".
var urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

// defaultKeywords covers the solicitation vocabulary seen in the investment
// spam waves this bot was built against. A keyword alone is not a verdict;
// the message must also carry a link.
var defaultKeywords = []string{
	`(?i)\binvest(?:ment|ing|or)?s?\b`,
	`(?i)\bstock(?:s)?\b`,
	`(?i)\bcrypto(?:currency)?\b`,
	`(?i)\bforex\b`,
	`(?i)\btrading\s+signals?\b`,
	`(?i)\bguaranteed\s+(?:returns?|profits?)\b`,
	`(?i)\bpassive\s+income\b`,
	`(?i)\bfree\s+bitcoin\b`,
}

// PatternPredicate is the local spam rule set: a message is spam when a
// solicitation keyword and a URL appear together, or when it floods the
// group with repeated characters or words.
type PatternPredicate struct {
	keywords []*regexp.Regexp
}

// NewPatternPredicate builds a predicate with the default keyword set.
func NewPatternPredicate() *PatternPredicate {
	p, err := NewPatternPredicateFrom(defaultKeywords)
	if err != nil {
		// The default set is compiled in tests; this cannot happen at runtime.
		panic(err)
	}
	return p
}

// NewPatternPredicateFrom builds a predicate from the given keyword regexes.
// Blank entries are ignored; an invalid pattern is an error.
func NewPatternPredicateFrom(patterns []string) (*PatternPredicate, error) {
	p := &PatternPredicate{}
	for _, raw := range patterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("classify: bad keyword pattern %q: %w", raw, err)
		}
		p.keywords = append(p.keywords, re)
	}
	return p, nil
}

// Classify implements Predicate. It never fails.
func (p *PatternPredicate) Classify(_ context.Context, text string) (bool, error) {
	spam, _ := p.Match(text)
	return spam, nil
}

// Match reports whether text is spam and which rule fired.
func (p *PatternPredicate) Match(text string) (bool, string) {
	if text == "" {
		return false, ""
	}
	if urlPattern.MatchString(text) {
		for _, kw := range p.keywords {
			if kw.MatchString(text) {
				return true, "keyword_url"
			}
		}
	}
	if hasCharFlood(text) {
		return true, "char_flood"
	}
	if hasWordFlood(text) {
		return true, "word_flood"
	}
	return false, ""
}

// hasCharFlood returns true if text contains 8 or more consecutive identical
// characters. Go's regexp package (RE2) has no backreferences, so this is a
// linear scan.
func hasCharFlood(text string) bool {
	const threshold = 8

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

// hasWordFlood returns true if the same word appears 5 or more times
// consecutively (case-insensitive), delimited by whitespace.
func hasWordFlood(text string) bool {
	const threshold = 5

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < threshold {
		return false
	}

	count := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = lower
		}
	}
	return false
}
