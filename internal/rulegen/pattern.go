package rulegen

import "regexp"

// rulePatterns flags knowledge text that reads like a checkable rule.
// Only entries matching one of these trigger an LLM synthesis call.
var rulePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bnever\b`),
	regexp.MustCompile(`(?i)\balways\b`),
	regexp.MustCompile(`(?i)\bmust\b`),
	regexp.MustCompile(`(?i)\bdo not\b`),
	regexp.MustCompile(`(?i)\bdon't\b`),
	regexp.MustCompile(`(?i)\bshould not\b`),
	regexp.MustCompile(`(?i)\bshouldn't\b`),
	regexp.MustCompile(`(?i)\bprohibited\b`),
	regexp.MustCompile(`(?i)\bforbidden\b`),
	regexp.MustCompile(`(?i)\brequired\b`),
	regexp.MustCompile(`(?i)\bmandatory\b`),
	regexp.MustCompile(`(?i)\bcritical\b`),
	regexp.MustCompile(`(?i)\bimportant\b`),
	regexp.MustCompile(`(?i)\bensure\b`),
	regexp.MustCompile(`(?i)\bavoid\b`),
}

// ContainsRulePattern reports whether the text contains rule-like wording.
func ContainsRulePattern(text string) bool {
	for _, p := range rulePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
