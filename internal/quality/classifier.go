package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Signal names a reason the text may be incomplete.
type Signal = string

// Severe signals force the truncated tier.
const (
	SignalEllipsisEnding     Signal = "ellipsis_ending"
	SignalTrailingPaywall    Signal = "trailing_paywall_phrase"
	SignalShorterThanExcerpt Signal = "shorter_than_excerpt"
)

// Weak signals block the full tier unless the ending is allowlisted.
const (
	SignalNoTerminalPunct Signal = "no_terminal_punctuation"
	SignalLowercaseCutoff Signal = "abrupt_lowercase_cutoff"
	SignalTrailingFooter  Signal = "trailing_footer_phrase"
)

var trailingPaywall = regexp.MustCompile(`\b(?:subscribe to continue|continue reading|read more|read the full|keep reading|subscribers only|sign in to read|log in to read|become a subscriber|unlock this article|full article)\b`)

var trailingFooter = regexp.MustCompile(`\b(?:click here|terms of use|terms of service|privacy policy|contact us|back to top|sign in|log in|skip to)\b`)

// Endings that legitimately lack terminal punctuation.
var legitimateEndings = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s+\w+(?:\s+\w+)*\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|way|place|pl|square|sq)\b`),
	regexp.MustCompile(`\(?\d{3}\)?[\s.-]?\d{3}[\s.-]\d{4}`),
	regexp.MustCompile(`\b(?:tickets?|box office|running time|runs through|performances?|through [a-z]+ \d{1,2})\b`),
	regexp.MustCompile(`\b(?:directed by|produced by|written by|choreographed by|photo(?:graph)?s? by|photography by|courtesy of|credit:)`),
}

var ellipsisEnding = regexp.MustCompile(`(?:\.\.\.|…|\[\.\.\.\]|\[…\])["'”’)]*$`)

// Classifier grades cleaned text into a quality tier.
type Classifier struct {
	t        Thresholds
	stripper *Stripper
}

// NewClassifier builds a Classifier.
func NewClassifier(t Thresholds) *Classifier {
	t = t.withDefaults()
	return &Classifier{t: t, stripper: NewStripper(nil, t.StripMaxIterations)}
}

// Classify strips boilerplate from text and grades it. topic is the keyword
// the text should mention; excerpt is the catalog's own excerpt, if any.
func (c *Classifier) Classify(text, topic, excerpt string) retrieval.QualityVerdict {
	if strings.TrimSpace(text) == "" {
		return retrieval.QualityVerdict{Tier: retrieval.TierMissing}
	}
	cleaned := c.stripper.Strip(text)
	if cleaned == "" {
		// Only boilerplate survived extraction; keep it as a weak excerpt so
		// missing stays reserved for empty text.
		return retrieval.QualityVerdict{Tier: retrieval.TierExcerpt, CleanedText: strings.TrimSpace(text)}
	}

	length := utf8.RuneCountInString(cleaned)
	tail := strings.ToLower(trailing(cleaned, c.t.TrailingWindow))
	final := strings.ToLower(lastLine(cleaned))

	var severe, weak []Signal
	if ellipsisEnding.MatchString(cleaned) {
		severe = append(severe, SignalEllipsisEnding)
	}
	if trailingPaywall.MatchString(tail) {
		severe = append(severe, SignalTrailingPaywall)
	}
	if ex := utf8.RuneCountInString(strings.TrimSpace(excerpt)); ex > 0 && float64(length) < c.t.ExcerptRatio*float64(ex) {
		severe = append(severe, SignalShorterThanExcerpt)
	}

	last, _ := utf8.DecodeLastRuneInString(cleaned)
	if !isTerminal(last) {
		weak = append(weak, SignalNoTerminalPunct)
	}
	if unicode.IsLower(last) {
		weak = append(weak, SignalLowercaseCutoff)
	}
	if trailingFooter.MatchString(final) {
		weak = append(weak, SignalTrailingFooter)
	}
	if allowlisted(final) {
		weak = nil
	}

	signals := append(severe, weak...)
	verdict := retrieval.QualityVerdict{Signals: signals, CleanedText: cleaned}
	switch {
	case len(severe) > 0:
		verdict.Tier = retrieval.TierTruncated
	case length < c.t.ExcerptMaxChars:
		verdict.Tier = retrieval.TierExcerpt
	case length >= c.t.FullMinChars &&
		len(strings.Fields(cleaned)) >= c.t.FullMinWords &&
		mentions(cleaned, topic) &&
		len(weak) == 0:
		verdict.Tier = retrieval.TierFull
	default:
		verdict.Tier = retrieval.TierPartial
	}
	return verdict
}

// Strip exposes the boilerplate stripper.
func (c *Classifier) Strip(text string) string {
	return c.stripper.Strip(text)
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', '”', '’', ')', '»', ']':
		return true
	}
	return false
}

func allowlisted(line string) bool {
	for _, p := range legitimateEndings {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// mentions reports whether text references topic. An empty topic is
// treated as satisfied.
func mentions(text, topic string) bool {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(topic))
}

func trailing(text string, window int) string {
	if utf8.RuneCountInString(text) <= window {
		return text
	}
	runes := []rune(text)
	return string(runes[len(runes)-window:])
}

func lastLine(text string) string {
	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return text
}
