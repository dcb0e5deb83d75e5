package classify

import (
	"context"
	"strings"
	"testing"
)

func TestPattern_KeywordWithURL(t *testing.T) {
	p := NewPatternPredicate()

	tests := []struct {
		name string
		text string
		spam bool
		rule string
	}{
		{"keyword and http url", "invest now at http://quick-rich.xyz", true, "keyword_url"},
		{"keyword and www url", "guaranteed returns, see www.profits.biz", true, "keyword_url"},
		{"keyword and bare domain path", "crypto signals at pump.ru/join", true, "keyword_url"},
		{"keyword without url", "I might invest in a new couch", false, ""},
		{"url without keyword", "photos are at https://example.com/album", false, ""},
		{"case insensitive keyword", "FREE BITCOIN here https://grab.io/x", true, "keyword_url"},
		{"forex with link", "forex group invite www.fx-group.net", true, "keyword_url"},
		{"empty text", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spam, rule := p.Match(tt.text)
			if spam != tt.spam {
				t.Errorf("Match(%q) spam = %v, want %v", tt.text, spam, tt.spam)
			}
			if spam && rule != tt.rule {
				t.Errorf("Match(%q) rule = %q, want %q", tt.text, rule, tt.rule)
			}
		})
	}
}

func TestPattern_Flooding(t *testing.T) {
	p := NewPatternPredicate()

	tests := []struct {
		name string
		text string
		spam bool
		rule string
	}{
		{"char flood", "aaaaaaaaaa", true, "char_flood"},
		{"char flood in word", "hellooooooooo everyone", true, "char_flood"},
		{"seven chars ok", "hellooooooo", false, ""},
		{"word flood", "buy buy buy buy buy", true, "word_flood"},
		{"word flood case insensitive", "BUY buy Buy bUy buY", true, "word_flood"},
		{"four repeats ok", "go go go go", false, ""},
		{"normal excitement", "wow!!! that's great", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spam, rule := p.Match(tt.text)
			if spam != tt.spam {
				t.Errorf("Match(%q) spam = %v, want %v", tt.text, spam, tt.spam)
			}
			if spam && rule != tt.rule {
				t.Errorf("Match(%q) rule = %q, want %q", tt.text, rule, tt.rule)
			}
		})
	}
}

func TestPattern_CleanMessages(t *testing.T) {
	p := NewPatternPredicate()

	clean := []string{
		"hello, how is everyone?",
		"meeting moved to 3pm tomorrow",
		"upgrade to v2.0 when you can",
		"pi is about 3.14",
		"see you in 2026",
		"the stock of the soup needs more salt", // keyword without a link stays clean
		"yeah yeah whatever",
	}

	for _, text := range clean {
		spam, rule := p.Match(text)
		if spam {
			t.Errorf("Match(%q) flagged as spam (rule=%q), expected clean", text, rule)
		}
	}
}

func TestPattern_Classify(t *testing.T) {
	p := NewPatternPredicate()

	spam, err := p.Classify(context.Background(), "invest today http://x.ru/go")
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if !spam {
		t.Error("Classify() = false, want spam verdict")
	}
}

func TestNewPatternPredicateFrom(t *testing.T) {
	p, err := NewPatternPredicateFrom([]string{`(?i)\bwin\b`, "", "  "})
	if err != nil {
		t.Fatalf("NewPatternPredicateFrom() error: %v", err)
	}
	if spam, _ := p.Match("win big at www.casino.tk/now"); !spam {
		t.Error("custom keyword with url not flagged")
	}

	if _, err := NewPatternPredicateFrom([]string{"("}); err == nil {
		t.Error("invalid pattern accepted")
	}
}

func TestPattern_LongMessage(t *testing.T) {
	p := NewPatternPredicate()
	text := strings.Repeat("this is a perfectly normal sentence. ", 40)
	if spam, rule := p.Match(text); spam {
		t.Errorf("long clean message flagged (rule=%q)", rule)
	}
}
