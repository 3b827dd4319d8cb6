package quality

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/retrieval"
)

func TestGateCheck(t *testing.T) {
	t.Parallel()

	long := review("The cast of Hamlet was superb tonight.", 40)
	cases := []struct {
		name string
		raw  string
		text string
		kind retrieval.ErrorKind
	}{
		{name: "clean", raw: "<p>ok</p>", text: long},
		{name: "empty", raw: "<html></html>", text: "", kind: retrieval.KindBlocked},
		{name: "whitespace only", raw: "<html><body> </body></html>", text: " \n ", kind: retrieval.KindBlocked},
		{name: "challenge markup", raw: `<div id="cf-challenge-running"></div>`, text: "Please wait.", kind: retrieval.KindBlocked},
		{name: "captcha", raw: `<div class="g-recaptcha"></div>`, text: "", kind: retrieval.KindBlocked},
		{name: "challenge phrase", text: "Checking your browser before accessing example.com.", kind: retrieval.KindBlocked},
		{name: "subscription gate", text: "The opening night was... Subscribe to continue reading.", kind: retrieval.KindPaywalled},
		{name: "long text mentioning gate", text: long + " Already a subscriber? Thanks.", kind: ""},
		{name: "long page with captcha widget", raw: `<div class="g-recaptcha"></div>`, text: long},
		{name: "symbols", text: strings.Repeat("{} [] == -- 12 ", 30), kind: retrieval.KindGarbage},
		{name: "script residue", text: "var a = 1; window.dataLayer = []; document.cookie = x; function (e) { return e }", kind: retrieval.KindGarbage},
		{name: "repeated line", text: "Loading\nLoading\nLoading\nLoading", kind: retrieval.KindGarbage},
	}

	gate := NewGate(GateConfig{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := gate.Check(retrieval.ChannelRenderingProxy, []byte(tc.raw), tc.text)
			if tc.kind == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.kind, retrieval.KindOf(err))
		})
	}
}

func TestGateCustomPhrases(t *testing.T) {
	t.Parallel()

	gate := NewGate(GateConfig{GatePhrases: []string{"Members Only"}})
	err := gate.Check(retrieval.ChannelSnapshot, nil, "This story is for members only.")
	require.Equal(t, retrieval.KindPaywalled, retrieval.KindOf(err))

	var f *retrieval.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, retrieval.ChannelSnapshot, f.Channel)
}
