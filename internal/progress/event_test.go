package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"run start", Event{RunID: "r", TS: now, Stage: StageRunStart}, false},
		{"missing run id", Event{TS: now, Stage: StageRunStart}, true},
		{"missing timestamp", Event{RunID: "r", Stage: StageRunDone}, true},
		{"attempt without channel", Event{RunID: "r", TS: now, Stage: StageAttempt, TargetID: "t", Outcome: "success"}, true},
		{"target without status", Event{RunID: "r", TS: now, Stage: StageTargetDone, TargetID: "t"}, true},
		{"negative duration", Event{RunID: "r", TS: now, Stage: StageRunDone, Dur: -time.Second}, true},
		{"unknown stage", Event{RunID: "r", TS: now, Stage: "BOGUS"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
