package quality

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Trailing boilerplate lines. Each pattern must match a whole trimmed line.
// None of them may match subscription or "read more" prompts, which are
// evidence of truncation.
var defaultBoilerplate = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:share this(?: article| story| post| page)?(?: on [\w ,&]{1,60})?|share on [\w ,&]{1,60}|follow us on [\w ,&]{1,60}|tweet this|pin it)[.!:]?$`),
	regexp.MustCompile(`(?i)^(?:©|\(c\)|copyright\b).*$`),
	regexp.MustCompile(`(?i)^.*\ball rights reserved\.?$`),
	regexp.MustCompile(`(?i)^(?:sign up for|subscribe to) (?:our|the)\b.*\bnewsletters?\b.*$`),
	regexp.MustCompile(`(?i)^(?:related articles|related stories|you may also like|recommended for you|more from [^:]+)(?:\s*:.*)?$`),
	regexp.MustCompile(`(?i)^(?:\d+\s+comments?|leave a comment|comments? \(\d+\)|view comments)$`),
	regexp.MustCompile(`(?i)^(?:advertisement|sponsored content|sponsored)$`),
	regexp.MustCompile(`(?i)^(?:tags?|filed under|categories|topics)\s*:.*$`),
}

// maxBoilerplateLine caps the length of a line that may be treated as
// boilerplate. Converted markup can flatten a whole article into one line.
const maxBoilerplateLine = 160

// Stripper removes trailing boilerplate lines until a fixed point is reached
// or the iteration ceiling is hit. Each sweep removes the whole trailing run
// of boilerplate, so one sweep already reaches the fixed point.
type Stripper struct {
	patterns      []*regexp.Regexp
	maxIterations int
}

// NewStripper builds a Stripper. A nil pattern list uses the defaults.
func NewStripper(patterns []*regexp.Regexp, maxIterations int) *Stripper {
	if patterns == nil {
		patterns = defaultBoilerplate
	}
	if maxIterations <= 0 {
		maxIterations = DefaultThresholds().StripMaxIterations
	}
	return &Stripper{patterns: patterns, maxIterations: maxIterations}
}

// Strip returns text without trailing boilerplate.
func (s *Stripper) Strip(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := 0; i < s.maxIterations; i++ {
		n := len(lines)
		for n > 0 && s.boilerplate(lines[n-1]) {
			n--
		}
		if n == len(lines) {
			break
		}
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (s *Stripper) boilerplate(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if utf8.RuneCountInString(line) > maxBoilerplateLine {
		return false
	}
	for _, p := range s.patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
