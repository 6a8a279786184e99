package gate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Stripper removes mention markers that address the companion so only the
// user-directed text remains.
type Stripper struct {
	patterns []*regexp.Regexp
}

// NewStripper builds a stripper for the companion's user ID and display
// name. Either may be empty.
func NewStripper(userID, displayName string) *Stripper {
	var pats []*regexp.Regexp
	if userID != "" {
		q := regexp.QuoteMeta(userID)
		// Markdown pill, bare matrix.to link, then the raw MXID.
		pats = append(pats,
			regexp.MustCompile(`\[[^\]]*\]\(https://matrix\.to/#/`+q+`\)`),
			regexp.MustCompile(`https://matrix\.to/#/`+q),
			regexp.MustCompile(q),
		)
	}
	if displayName != "" {
		// Clients prefix replies with "Name: " when completing a mention.
		pats = append(pats, regexp.MustCompile(`(?i)^\s*@?`+regexp.QuoteMeta(displayName)+`\s*[:,]`))
	}
	return &Stripper{patterns: pats}
}

var collapseSpace = regexp.MustCompile(`\s+`)

// Strip returns content with companion mentions removed and whitespace
// collapsed.
func (s *Stripper) Strip(content string) string {
	out := content
	for _, p := range s.patterns {
		out = p.ReplaceAllString(out, " ")
	}
	return strings.TrimSpace(collapseSpace.ReplaceAllString(out, " "))
}

// ContentFilter applies content policy to the stripped text.
type ContentFilter struct {
	// MaxLength is the maximum length in characters; zero disables the check.
	MaxLength int
	// Blocked lists terms that block a message, matched case-insensitively.
	Blocked []string
}

// Check returns a BLOCK reason, or "" when the text passes.
func (f ContentFilter) Check(text string) string {
	if text == "" {
		return ReasonEmptyContent
	}
	if f.MaxLength > 0 && utf8.RuneCountInString(text) > f.MaxLength {
		return ReasonContentTooLong
	}
	lower := strings.ToLower(text)
	for _, term := range f.Blocked {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return ReasonBlockedContent
		}
	}
	return ""
}
