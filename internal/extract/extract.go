// Package extract isolates the article body in a rendered page and converts
// it to text. Content-area selection is pluggable through Strategy.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrNoContent is returned when no content area could be found.
var ErrNoContent = errors.New("no content area found")

// Strategy picks the markup fragment that holds the article body.
type Strategy interface {
	ContentHTML(raw []byte) (string, error)
}

// Config tunes the ranked content-area strategy.
type Config struct {
	// Selectors are tried in rank order; the longest qualifying block wins,
	// earlier selectors winning ties.
	Selectors []string `mapstructure:"selectors"`
	// OverlaySelectors are removed before any block is measured.
	OverlaySelectors []string `mapstructure:"overlay_selectors"`
	// MinBlockChars is the shortest text a block may have to qualify.
	MinBlockChars int `mapstructure:"min_block_chars"`
}

// DefaultSelectors are common article containers, most specific first.
var DefaultSelectors = []string{
	"[itemprop='articleBody']",
	"article .article-body",
	"article .entry-content",
	".article-body",
	".story-body",
	".post-content",
	".entry-content",
	"article",
	"main",
	"[role='main']",
	"#content",
}

// DefaultOverlaySelectors match paywall, consent and newsletter overlays.
var DefaultOverlaySelectors = []string{
	"script", "style", "noscript", "template", "iframe", "svg",
	"nav", "header", "footer", "aside", "form",
	"[class*='paywall']", "[id*='paywall']",
	"[class*='subscribe']", "[class*='newsletter']",
	"[class*='cookie']", "[id*='cookie']",
	"[class*='consent']", "[class*='modal']", "[class*='overlay']",
	"[class*='related']", "[class*='share']", "[class*='social']",
	"[aria-hidden='true']",
}

// Ranked is the default Strategy: strip overlays, then take the longest
// block among the configured selectors.
type Ranked struct {
	cfg Config
}

// NewRanked builds a Ranked strategy, filling unset fields with defaults.
func NewRanked(cfg Config) *Ranked {
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	if len(cfg.OverlaySelectors) == 0 {
		cfg.OverlaySelectors = DefaultOverlaySelectors
	}
	if cfg.MinBlockChars <= 0 {
		cfg.MinBlockChars = 200
	}
	return &Ranked{cfg: cfg}
}

// ContentHTML returns the inner markup of the winning block. When no selector
// qualifies the whole body is used, and ErrNoContent is returned only if the
// body has no text at all.
func (r *Ranked) ContentHTML(raw []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	StripOverlays(doc.Selection, r.cfg.OverlaySelectors)

	var (
		best    *goquery.Selection
		bestLen int
	)
	for _, sel := range r.cfg.Selectors {
		doc.Find(sel).Each(func(_ int, block *goquery.Selection) {
			n := len(strings.TrimSpace(block.Text()))
			if n >= r.cfg.MinBlockChars && n > bestLen {
				best, bestLen = block, n
			}
		})
	}
	if best == nil {
		best = doc.Find("body")
		if strings.TrimSpace(best.Text()) == "" {
			return "", ErrNoContent
		}
	}
	html, err := best.Html()
	if err != nil {
		return "", fmt.Errorf("render content area: %w", err)
	}
	return html, nil
}

// StripOverlays removes every node matching selectors. Running it twice has
// the same effect as running it once.
func StripOverlays(root *goquery.Selection, selectors []string) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		root.Find(sel).Remove()
	}
}
