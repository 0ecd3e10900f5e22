package recording

import (
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Recorder appends step records to one live recording. It is safe for
// concurrent use: nodes in the same execution group record as they complete.
type Recorder struct {
	store Store

	mu     sync.Mutex
	rec    *Recording
	sealed bool
}

// StartRecording opens a new recording for one run and registers it as a
// live session, so replay attempts against the same id fail fast until the
// recording is sealed.
func (s *FileStore) StartRecording(phase string, input map[string]any) (*Recorder, error) {
	id, err := nanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate recording id: %w", err)
	}

	rec := &Recording{
		RecordingID: id,
		Phase:       phase,
		Input:       input,
		StartedAt:   time.Now(),
		Status:      StatusRunning,
		Steps:       make([]StepRecord, 0),
	}

	if err := s.create(rec); err != nil {
		return nil, err
	}

	return &Recorder{store: s, rec: rec}, nil
}

// ID returns the recording id.
func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.RecordingID
}

// RecordStep appends one step. Called by the dispatcher after every node and
// by the pipeline driver after every stage.
func (r *Recorder) RecordStep(step StepRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRecordingSealed
	}
	r.rec.Steps = append(r.rec.Steps, step)
	return nil
}

// AddTokenUsage accumulates provider token consumption into the recording
// metadata.
func (r *Recorder) AddTokenUsage(in, out int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.TotalTokenUsage.In += in
	r.rec.TotalTokenUsage.Out += out
}

// Finish seals the recording with the final aggregated result and persists
// it. After Finish the recording id becomes replayable.
func (r *Recorder) Finish(status Status, finalResult map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRecordingSealed
	}
	r.sealed = true
	r.rec.Status = status
	r.rec.FinalResult = finalResult
	r.rec.EndedAt = time.Now()

	return r.store.Seal(r.rec)
}
