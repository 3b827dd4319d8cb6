package retrieval

import (
	"net/url"
	"strings"
)

// SiteRule is one configuration row mapping a host pattern to hints. Patterns
// are exact hosts or suffix wildcards ("*.example.com" or ".example.com").
type SiteRule struct {
	Pattern          string `mapstructure:"pattern"`
	Paywalled        bool   `mapstructure:"paywalled"`
	KnownBlocked     bool   `mapstructure:"known_blocked"`
	ArchivePreferred bool   `mapstructure:"archive_preferred"`
	Realm            string `mapstructure:"realm"`
}

// Hints returns the rule's hint flags.
func (r SiteRule) Hints() SiteHints {
	return SiteHints{
		Paywalled:        r.Paywalled,
		KnownBlocked:     r.KnownBlocked,
		ArchivePreferred: r.ArchivePreferred,
	}
}

type siteEntry struct {
	hints SiteHints
	realm string
}

// SiteTable is a lookup precomputed once from configuration.
type SiteTable struct {
	exact    map[string]siteEntry
	suffixes []string
	bySuffix map[string]siteEntry
}

// NewSiteTable builds the lookup. Later rules for the same pattern win.
func NewSiteTable(rules []SiteRule) *SiteTable {
	table := &SiteTable{
		exact:    make(map[string]siteEntry),
		bySuffix: make(map[string]siteEntry),
	}
	for _, rule := range rules {
		value := strings.TrimSpace(strings.ToLower(rule.Pattern))
		if value == "" {
			continue
		}
		entry := siteEntry{hints: rule.Hints(), realm: rule.Realm}
		switch {
		case strings.HasPrefix(value, "*."):
			table.addSuffix(strings.TrimPrefix(value, "*."), entry)
		case strings.HasPrefix(value, "."):
			table.addSuffix(strings.TrimPrefix(value, "."), entry)
		default:
			table.exact[strings.TrimPrefix(value, "www.")] = entry
		}
	}
	return table
}

func (t *SiteTable) addSuffix(suffix string, entry siteEntry) {
	if suffix == "" {
		return
	}
	if _, ok := t.bySuffix[suffix]; !ok {
		t.suffixes = append(t.suffixes, suffix)
	}
	t.bySuffix[suffix] = entry
}

func (t *SiteTable) lookup(host string) (siteEntry, bool) {
	if t == nil {
		return siteEntry{}, false
	}
	host = strings.TrimPrefix(strings.TrimSpace(strings.ToLower(host)), "www.")
	if host == "" {
		return siteEntry{}, false
	}
	if entry, ok := t.exact[host]; ok {
		return entry, true
	}
	for _, suffix := range t.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return t.bySuffix[suffix], true
		}
	}
	return siteEntry{}, false
}

// Hints returns the configured hints for the URL's host.
func (t *SiteTable) Hints(rawURL string) SiteHints {
	entry, _ := t.lookup(HostOf(rawURL))
	return entry.hints
}

// Realm returns the authentication realm for the URL's host, if any.
func (t *SiteTable) Realm(rawURL string) (string, bool) {
	entry, ok := t.lookup(HostOf(rawURL))
	if !ok || entry.realm == "" {
		return "", false
	}
	return entry.realm, true
}

// HostOf returns the lowercase hostname of rawURL, or "" when it cannot be parsed.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
