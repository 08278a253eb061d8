// Package security holds security primitives: filesystem permission
// audits and the content redaction filter applied to memory fragments
// streamed to peers. Log lines and sandbox tool output are not redacted.
package security

import "regexp"

// DefaultRedactPatterns is the single definition of "looks like a secret"
// applied to mesh-exchanged memory content.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`,
}

const redactedPlaceholder = "[REDACTED]"

// Filter redacts sensitive substrings from text. The zero value has no
// patterns compiled; use NewFilter.
type Filter struct {
	patterns []*regexp.Regexp
}

// NewFilter compiles DefaultRedactPatterns plus any extra patterns supplied
// by configuration. Invalid patterns are skipped rather than failing
// construction, matching the logger's tolerance for bad config.
func NewFilter(extra ...string) *Filter {
	f := &Filter{}
	all := append(append([]string{}, DefaultRedactPatterns...), extra...)
	for _, p := range all {
		if re, err := regexp.Compile(p); err == nil {
			f.patterns = append(f.patterns, re)
		}
	}
	return f
}

// Redact returns the redacted text and the number of substrings replaced.
// Every memory fragment streamed to a peer (§4.6) passes through this
// before it leaves the node; sandbox stdout/stderr (§4.9) does not.
func (f *Filter) Redact(text string) (string, int) {
	if f == nil || text == "" {
		return text, 0
	}
	count := 0
	out := text
	for _, re := range f.patterns {
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			count++
			return redactedPlaceholder
		})
	}
	return out, count
}
