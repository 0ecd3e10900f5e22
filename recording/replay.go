package recording

import (
	"fmt"

	"github.com/randalmurphal/medflow/state"
)

// Replayer reconstructs a prior run step-by-step from its sealed recording.
// Replay is a pure read of captured state transitions: node functions and
// provider calls are never re-invoked. Replayer and the live dispatcher
// share the StepRecord/Recording data types but no execution code, so no
// node ever needs to ask whether it is being replayed.
type Replayer struct {
	rec *Recording
	pos int
}

// NewReplayer opens a sealed recording for replay. Replaying a recording
// that still has a live session is a programming error, not a retryable
// condition, and fails immediately with ErrReplayActive.
func NewReplayer(store Store, recordingID string) (*Replayer, error) {
	if store.Active(recordingID) {
		return nil, fmt.Errorf("%w: %s", ErrReplayActive, recordingID)
	}

	rec, err := store.Load(recordingID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusRunning {
		return nil, fmt.Errorf("%w: %s is not sealed", ErrReplayActive, recordingID)
	}

	return &Replayer{rec: rec}, nil
}

// Recording returns the underlying sealed recording.
func (r *Replayer) Recording() *Recording { return r.rec }

// ExecuteNextStep returns the next step record in original order, or nil
// when the recording is exhausted.
func (r *Replayer) ExecuteNextStep() *StepRecord {
	if r.pos >= len(r.rec.Steps) {
		return nil
	}
	step := r.rec.Steps[r.pos]
	r.pos++
	return &step
}

// Remaining returns how many steps have not been replayed yet.
func (r *Replayer) Remaining() int {
	return len(r.rec.Steps) - r.pos
}

// ReconstructState replays every remaining step's output diff over a fresh
// state, yielding the channel state the original run ended with.
func (r *Replayer) ReconstructState(schema *state.Schema) (*state.State, error) {
	st := state.New(schema)
	for step := r.ExecuteNextStep(); step != nil; step = r.ExecuteNextStep() {
		if len(step.OutputDiff) == 0 {
			continue
		}
		if err := st.Apply(state.Update(step.OutputDiff)); err != nil {
			return nil, fmt.Errorf("replay step %s: %w", step.NodeName, err)
		}
	}
	return st, nil
}

// FinalResult returns the recorded final aggregated result. Replay must
// reproduce this object exactly; callers verify with a deep comparison.
func (r *Replayer) FinalResult() map[string]any {
	return r.rec.FinalResult
}
