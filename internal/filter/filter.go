package filter

import (
	"regexp"

	"astromech/internal/rules"
	"astromech/internal/utils"

	"go.uber.org/zap"
)

type compiledRule struct {
	name string
	re   *regexp.Regexp
}

// Filter evaluates message text against the named moderation patterns of one
// rules snapshot, in file order, plus the blocked-domain set. Evaluation is
// pure; compilation happens once at construction.
type Filter struct {
	rules   []compiledRule
	domains map[string]struct{}
}

func New(snap *rules.Snapshot, logger *zap.Logger) *Filter {
	f := &Filter{domains: snap.BlockedDomains}
	for _, pattern := range snap.Patterns {
		re, err := regexp.Compile("(?i)" + pattern.Regex)
		if err != nil {
			logger.Warn("pattern does not compile", zap.String("name", pattern.Name), zap.Error(err))
			continue
		}
		f.rules = append(f.rules, compiledRule{name: pattern.Name, re: re})
	}
	return f
}

// Evaluate returns the name of the first matching rule. Pattern rules are
// checked first, then URLs in the text against the blocked-domain set; a
// domain hit reports as "domain:<host>". No rules means no match.
func (f *Filter) Evaluate(text string) (bool, string) {
	for _, rule := range f.rules {
		if rule.re.MatchString(text) {
			return true, rule.name
		}
	}

	if len(f.domains) == 0 {
		return false, ""
	}
	for _, raw := range utils.ExtractURLs(text) {
		host, err := utils.HostOf(raw)
		if err != nil {
			continue
		}
		if utils.DomainBlocked(host, f.domains) {
			return true, "domain:" + host
		}
	}
	return false, ""
}
