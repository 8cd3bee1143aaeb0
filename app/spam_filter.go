package app

import (
	"regexp"

	"signal-scout/database"
)

// SpamFilter decides whether a signal item is promotional noise that
// should be dropped before extraction.
type SpamFilter interface {
	Name() string
	IsSpam(item *database.SignalItem) bool
}

// PatternSpamFilter flags items whose content matches any of a set of
// case-insensitive patterns.
type PatternSpamFilter struct {
	name     string
	patterns []*regexp.Regexp
}

func NewPatternSpamFilter(name string, exprs ...string) *PatternSpamFilter {
	patterns := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		patterns = append(patterns, regexp.MustCompile(`(?i)`+expr))
	}
	return &PatternSpamFilter{name: name, patterns: patterns}
}

func (f *PatternSpamFilter) Name() string {
	return f.name
}

func (f *PatternSpamFilter) IsSpam(item *database.SignalItem) bool {
	for _, p := range f.patterns {
		if p.MatchString(item.Content) {
			return true
		}
	}
	return false
}

// DefaultSpamFilters returns the standard filter chain for promotional
// and engagement-bait content.
func DefaultSpamFilters() []SpamFilter {
	return []SpamFilter{
		NewPatternSpamFilter("giveaway",
			`\bgiveaway\b`,
			`\bfree\s+(nft|crypto|tokens?)\b`,
		),
		NewPatternSpamFilter("airdrop",
			`\bairdrops?\b`,
			`\bclaim\s+your\b`,
		),
		NewPatternSpamFilter("engagement-bait",
			`\b(follow|rt)\s*(\+|and|&)\s*(rt|retweet|follow)\b`,
			`\blike\s*(\+|and|&)\s*retweet\b`,
			`\btag\s+\d+\s+friends\b`,
		),
		NewPatternSpamFilter("dm-solicitation",
			`\bdm\s+me\b`,
			`\bsend\s+me\s+a\s+(dm|message)\b`,
			`\blink\s+in\s+bio\b`,
		),
	}
}

func isSpam(filters []SpamFilter, item *database.SignalItem) (string, bool) {
	for _, f := range filters {
		if f.IsSpam(item) {
			return f.Name(), true
		}
	}
	return "", false
}
