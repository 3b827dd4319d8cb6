package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageAttempt    Stage = "ATTEMPT"
	StageTargetDone Stage = "TARGET_DONE"
	StageRunDone    Stage = "RUN_DONE"
)

// Event captures a single milestone of a harvest run.
type Event struct {
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// TargetID and Site scope attempt and target events.
	TargetID string
	Site     string
	// Channel, Outcome and Kind describe an attempt.
	Channel string
	Outcome string
	Kind    string
	// Status and Tier describe a finished target.
	Status string
	Tier   string
	// Dur is the attempt latency or the run's wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as a stop reason.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageAttempt:
		if e.TargetID == "" || e.Channel == "" || e.Outcome == "" {
			return errors.New("attempt requires target, channel and outcome")
		}
	case StageTargetDone:
		if e.TargetID == "" || e.Status == "" {
			return errors.New("target done requires target and status")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
