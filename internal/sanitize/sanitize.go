// Package sanitize strips markup from user text, keeping a small set of inline tags.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// InlineTags are the only elements that survive sanitizing.
var InlineTags = []string{"b", "i", "em", "strong", "u", "s", "br", "code"}

type Sanitizer struct {
	policy *bluemonday.Policy
}

func New() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(InlineTags...)
	return &Sanitizer{policy: p}
}

// Sanitize returns XSS-safe text; surrounding whitespace is trimmed.
func (s *Sanitizer) Sanitize(text string) string {
	return strings.TrimSpace(s.policy.Sanitize(text))
}
