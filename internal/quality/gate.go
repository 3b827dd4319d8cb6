package quality

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

// Markup fingerprints of bot-challenge and CAPTCHA interstitials.
var defaultChallengeMarkers = []string{
	"cf-challenge", "cf_chl_", "challenge-platform", "cf-turnstile",
	"g-recaptcha", "recaptcha/api.js", "h-captcha", "hcaptcha.com",
	"captcha-delivery.com", "px-captcha", "_incapsula_resource",
	"perimeterx", "distil_r_captcha",
}

// Visible phrases shown by challenge pages.
var defaultChallengePhrases = []string{
	"verify you are human", "are you a robot", "checking your browser",
	"just a moment", "attention required", "unusual traffic from your computer",
	"please enable js and disable any ad blocker", "press and hold",
	"access to this page has been denied",
}

// Subscription-gate phrases.
var defaultGatePhrases = []string{
	"subscribe to continue reading", "subscribe to read", "subscribers only",
	"this article is for subscribers", "already a subscriber", "sign in to continue",
	"log in to keep reading", "become a member to read", "to continue reading",
	"you have reached your limit", "free articles remaining", "create a free account to continue",
}

var scriptResidue = regexp.MustCompile(`function\s*\(|\bvar\s+\w+\s*=|\bconst\s+\w+\s*=|window\.\w+|document\.\w+|=>\s*\{|\}\);`)

// GateConfig extends the shared thresholds with optional phrase lists.
type GateConfig struct {
	Thresholds       Thresholds `mapstructure:",squash"`
	ChallengeMarkers []string   `mapstructure:"challenge_markers"`
	ChallengePhrases []string   `mapstructure:"challenge_phrases"`
	GatePhrases      []string   `mapstructure:"gate_phrases"`
}

// Gate implements retrieval.Gate.
type Gate struct {
	t                Thresholds
	challengeMarkers []string
	challengePhrases []string
	gatePhrases      []string
}

// NewGate builds a Gate, falling back to the built-in phrase lists.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{
		t:                cfg.Thresholds.withDefaults(),
		challengeMarkers: lowerAll(orDefault(cfg.ChallengeMarkers, defaultChallengeMarkers)),
		challengePhrases: lowerAll(orDefault(cfg.ChallengePhrases, defaultChallengePhrases)),
		gatePhrases:      lowerAll(orDefault(cfg.GatePhrases, defaultGatePhrases)),
	}
}

// Check rejects challenge pages as blocked, short gated text as paywalled and
// empty or implausible text as blocked or garbage so escalation continues.
func (g *Gate) Check(channel retrieval.ChannelID, raw []byte, text string) error {
	text = strings.TrimSpace(text)
	lowerText := strings.ToLower(text)
	short := utf8.RuneCountInString(text) < g.t.PaywallGateMaxChars

	if marker, ok := containsAny(strings.ToLower(string(raw)), g.challengeMarkers); ok && short {
		return retrieval.Failf(retrieval.KindBlocked, channel, "challenge marker %q", marker)
	}
	if phrase, ok := containsAny(lowerText, g.challengePhrases); ok && short {
		return retrieval.Failf(retrieval.KindBlocked, channel, "challenge phrase %q", phrase)
	}
	if phrase, ok := containsAny(lowerText, g.gatePhrases); ok && short {
		return retrieval.Failf(retrieval.KindPaywalled, channel, "subscription gate %q", phrase)
	}
	if text == "" {
		return retrieval.Failf(retrieval.KindBlocked, channel, "no extractable content")
	}
	if reason := g.implausible(text); reason != "" {
		return retrieval.Failf(retrieval.KindGarbage, channel, "implausible text: %s", reason)
	}
	return nil
}

// implausible returns a reason when text is not prose.
func (g *Gate) implausible(text string) string {
	var letters, visible int
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		visible++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if visible > 0 && float64(letters)/float64(visible) < g.t.MinLetterRatio {
		return "low letter ratio"
	}
	if n := len(scriptResidue.FindAllStringIndex(text, -1)); n >= g.t.MaxScriptResidue {
		return "script residue"
	}
	if repeatedLine(text) {
		return "single repeated line"
	}
	return ""
}

func repeatedLine(text string) bool {
	var (
		first string
		count int
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if count == 0 {
			first = line
		} else if line != first {
			return false
		}
		count++
	}
	return count >= 3
}

func containsAny(haystack string, needles []string) (string, bool) {
	for _, n := range needles {
		if n != "" && strings.Contains(haystack, n) {
			return n, true
		}
	}
	return "", false
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
