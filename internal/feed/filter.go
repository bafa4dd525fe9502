package feed

import (
	"regexp"
	"strings"

	logx "feedpush/pkg/logx"
)

// FilterRules are per-subscription keyword rules evaluated over an entry's
// title and description. Blacklist wins over whitelist; when a whitelist is
// configured, only matching entries pass.
type FilterRules struct {
	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
	UseRegex  bool     `json:"use_regex,omitempty"`
}

func (r FilterRules) Empty() bool {
	return len(r.Whitelist) == 0 && len(r.Blacklist) == 0
}

// Filter is a compiled FilterRules. Invalid regex patterns are dropped at
// compile time (logged), never at match time.
type Filter struct {
	whitelist []matcher
	blacklist []matcher
}

type matcher struct {
	keyword string
	re      *regexp.Regexp
}

func NewFilter(rules FilterRules, log logx.Logger) *Filter {
	if rules.Empty() {
		return nil
	}
	compile := func(patterns []string) []matcher {
		out := make([]matcher, 0, len(patterns))
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if rules.UseRegex {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					log.Warn("invalid filter pattern skipped", logx.String("pattern", p), logx.Err(err))
					continue
				}
				out = append(out, matcher{re: re})
				continue
			}
			out = append(out, matcher{keyword: strings.ToLower(p)})
		}
		return out
	}
	return &Filter{
		whitelist: compile(rules.Whitelist),
		blacklist: compile(rules.Blacklist),
	}
}

// Allow reports whether the entry should be pushed. A nil filter allows
// everything.
func (f *Filter) Allow(e Entry) bool {
	if f == nil {
		return true
	}
	content := e.Title + " " + e.Description

	for _, m := range f.blacklist {
		if m.match(content) {
			return false
		}
	}
	if len(f.whitelist) == 0 {
		return true
	}
	for _, m := range f.whitelist {
		if m.match(content) {
			return true
		}
	}
	return false
}

func (m matcher) match(content string) bool {
	if m.re != nil {
		return m.re.MatchString(content)
	}
	return strings.Contains(strings.ToLower(content), m.keyword)
}
