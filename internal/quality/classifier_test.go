package quality

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

func review(sentence string, n int) string {
	return strings.TrimSpace(strings.Repeat(sentence+" ", n))
}

func TestClassifySubscribePromptIsTruncated(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("Hamlet")
	for i := 1; i < 306; i++ {
		b.WriteString(" stage")
	}
	b.WriteString(" ...Subscribe to continue reading.")
	text := b.String()
	require.GreaterOrEqual(t, utf8.RuneCountInString(text), 1800)
	require.Len(t, strings.Fields(text), 310)

	verdict := NewClassifier(Thresholds{}).Classify(text, "Hamlet", "")
	require.Equal(t, retrieval.TierTruncated, verdict.Tier)
	require.Contains(t, verdict.Signals, SignalTrailingPaywall)
}

func TestClassifyTiers(t *testing.T) {
	t.Parallel()

	full := review("The cast of Hamlet was superb tonight.", 40)
	cases := []struct {
		name    string
		text    string
		topic   string
		excerpt string
		tier    retrieval.Tier
		signal  string
	}{
		{name: "empty", text: "", tier: retrieval.TierMissing},
		{name: "only boilerplate", text: "Share this on Facebook\nAll rights reserved", tier: retrieval.TierExcerpt},
		{name: "full", text: full, topic: "hamlet", tier: retrieval.TierFull},
		{name: "missing keyword", text: full, topic: "Macbeth", tier: retrieval.TierPartial},
		{name: "short", text: "A brief note on Hamlet.", topic: "Hamlet", tier: retrieval.TierExcerpt},
		{name: "ellipsis", text: full + " And then the…", topic: "Hamlet", tier: retrieval.TierTruncated, signal: SignalEllipsisEnding},
		{name: "lowercase cutoff", text: full + " The second act was", topic: "Hamlet", tier: retrieval.TierPartial, signal: SignalLowercaseCutoff},
		{name: "footer", text: full + "\nContact us for details.", topic: "Hamlet", tier: retrieval.TierPartial, signal: SignalTrailingFooter},
		{
			name:    "shorter than excerpt",
			text:    review("Hamlet returns to the stage.", 20),
			topic:   "Hamlet",
			excerpt: review("An excerpt that is rather long.", 13),
			tier:    retrieval.TierTruncated,
			signal:  SignalShorterThanExcerpt,
		},
	}

	c := NewClassifier(Thresholds{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			verdict := c.Classify(tc.text, tc.topic, tc.excerpt)
			require.Equal(t, tc.tier, verdict.Tier)
			if tc.signal != "" {
				require.Contains(t, verdict.Signals, tc.signal)
			}
			require.Equal(t, verdict.Tier == retrieval.TierMissing, verdict.CleanedText == "")
		})
	}
}

func TestClassifyAllowlistSuppressesWeakSignalsOnly(t *testing.T) {
	t.Parallel()

	c := NewClassifier(Thresholds{})
	full := review("The cast of Hamlet was superb tonight.", 40)

	verdict := c.Classify(full+"\nBox office (212) 555-0100", "Hamlet", "")
	require.Equal(t, retrieval.TierFull, verdict.Tier)
	require.Empty(t, verdict.Signals)

	verdict = c.Classify(full+"\nDirected by Jane Roe", "Hamlet", "")
	require.Equal(t, retrieval.TierFull, verdict.Tier)

	verdict = c.Classify(full+"\nTickets and more at the box office…", "Hamlet", "")
	require.Equal(t, retrieval.TierTruncated, verdict.Tier)
	require.Equal(t, []string{SignalEllipsisEnding}, verdict.Signals)
}

func TestStripRemovesTrailingBoilerplate(t *testing.T) {
	t.Parallel()

	body := review("The cast of Hamlet was superb tonight.", 5)
	text := body + "\nTags: theatre, review\n\nAdvertisement\nSign up for our newsletter\n© 2024 Example Media. All rights reserved.\n12 comments"

	s := NewStripper(nil, 8)
	once := s.Strip(text)
	require.Equal(t, body, once)
	require.Equal(t, once, s.Strip(once))
}

func TestStripIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStripper(nil, 0)
	inputs := []string{
		"",
		"Plain prose with a proper ending.",
		"Body.\nShare this article\nRelated stories: more",
		"Body text here ...Subscribe to continue reading.",
		"Body\nFiled under: reviews\nSponsored",
	}
	for _, in := range inputs {
		once := s.Strip(in)
		require.Equal(t, once, s.Strip(once), in)
	}
}

func TestStripKeepsLongParagraphMentioningNewsletter(t *testing.T) {
	t.Parallel()

	// Flattened markup: the whole review is one line.
	text := review("The Hamlet revival is tense and beautifully lit, and the cast never lets the verse go slack.", 22) +
		" The director said in her newsletter that the run may extend. © credits to the designers are deserved."
	require.Equal(t, strings.TrimSpace(text), NewStripper(nil, 0).Strip(text))

	verdict := NewClassifier(DefaultThresholds()).Classify(text, "Hamlet", "")
	require.NotEqual(t, retrieval.TierMissing, verdict.Tier)
	require.Equal(t, strings.TrimSpace(text), verdict.CleanedText)
}

func TestStripIdempotentBeyondIterationCeiling(t *testing.T) {
	t.Parallel()

	body := review("The final scene lingers.", 4)
	text := body + strings.Repeat("\nAdvertisement\nShare this article", 10)

	s := NewStripper(nil, 2)
	once := s.Strip(text)
	require.Equal(t, body, once)
	require.Equal(t, once, s.Strip(once))
}

func TestStripKeepsSubscriptionPrompt(t *testing.T) {
	t.Parallel()

	text := "The final scene lingers.\nSubscribe to continue reading."
	require.Equal(t, text, NewStripper(nil, 0).Strip(text))
}
