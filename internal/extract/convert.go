package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// Converter turns a markup fragment into readable text. Markup is sanitized
// down to structural elements first, so links and media collapse to their
// visible text.
type Converter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewConverter builds the sanitizer and markdown converter.
func NewConverter() *Converter {
	policy := bluemonday.NewPolicy()
	policy.AllowElements(
		"p", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"blockquote", "ul", "ol", "li", "em", "strong", "b", "i",
		"table", "thead", "tbody", "tr", "th", "td", "pre", "code",
	)
	return &Converter{
		policy: policy,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Text sanitizes html and converts it to markdown-flavoured text.
func (c *Converter) Text(html, pageURL string) (string, error) {
	clean := c.policy.Sanitize(html)
	if strings.TrimSpace(clean) == "" {
		return "", nil
	}
	out, err := c.md.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", fmt.Errorf("convert markup: %w", err)
	}
	return Normalize(out), nil
}

// Normalize trims lines and collapses runs of blank lines.
func Normalize(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t ")
	}
	joined := strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(joined, "\n\n"))
}

// Extractor combines a Strategy with a Converter.
type Extractor struct {
	strategy  Strategy
	converter *Converter
}

// New builds an Extractor. A nil strategy uses the ranked default.
func New(strategy Strategy, conv *Converter) *Extractor {
	if strategy == nil {
		strategy = NewRanked(Config{})
	}
	if conv == nil {
		conv = NewConverter()
	}
	return &Extractor{strategy: strategy, converter: conv}
}

// Extract returns the article text found in a full page. A page that yields
// no text fails with ErrNoContent.
func (e *Extractor) Extract(raw []byte, pageURL string) (string, error) {
	fragment, err := e.strategy.ContentHTML(raw)
	if err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}
	text, err := e.converter.Text(fragment, pageURL)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}
