package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/medflow/node"
	"github.com/randalmurphal/medflow/recording"
	"github.com/randalmurphal/medflow/state"
)

// NoSpecializedProcessing is the summary marker set when feature detection
// selects zero nodes. This is a valid outcome, not an error.
const NoSpecializedProcessing = "no specialized processing required"

// NodeError is the structured entry appended to the errors channel when a
// node fails. The failure never aborts sibling nodes or later groups.
type NodeError struct {
	Node    string `json:"node"`
	Message string `json:"message"`
}

func (e NodeError) Error() string {
	return fmt.Sprintf("node %s: %s", e.Node, e.Message)
}

// ProgressFunc receives completedNodes/totalNodes after each node resolves,
// regardless of group boundaries.
type ProgressFunc func(completed, total int, nodeName string)

// Outcome records one node's execution for the run summary.
type Outcome struct {
	Node     string        `json:"node"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Result collects per-node outcomes of one dispatch.
type Result struct {
	Outcomes []Outcome
	Excluded []node.Exclusion
}

// Failed returns the names of nodes that returned an error.
func (r *Result) Failed() []string {
	var failed []string
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o.Node)
		}
	}
	return failed
}

// Processed returns the names of nodes that completed without error.
func (r *Result) Processed() []string {
	var ok []string
	for _, o := range r.Outcomes {
		if o.Err == nil {
			ok = append(ok, o.Node)
		}
	}
	return ok
}

// Errors returns all node errors in completion order.
func (r *Result) Errors() []error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errs
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher runs an execution plan against shared workflow state. Groups
// run strictly in order; nodes within a group run concurrently against a
// read-only snapshot of the state merged so far. The dispatcher is the only
// writer: node updates are merged through channel reducers as each node
// completes, so "last writer" on replace/merge-object channels means
// completion order within the group.
type Dispatcher struct {
	recorder *recording.Recorder
	log      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder makes the dispatcher append a step record after every node.
func WithRecorder(rec *recording.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = rec }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = log }
}

// New creates a dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type nodeResult struct {
	def      node.Definition
	update   state.Update
	err      error
	started  time.Time
	duration time.Duration
}

// Execute runs the plan. A node failure becomes one errors-channel entry and
// does not stop siblings or later groups. On context cancellation no new
// group is dispatched; state merged so far is preserved and returned.
func (d *Dispatcher) Execute(ctx context.Context, plan node.Plan, st *state.State, onProgress ProgressFunc) (*state.State, *Result) {
	result := &Result{Excluded: plan.Excluded}

	for _, ex := range plan.Excluded {
		d.log.Warn("node excluded from plan", "node", ex.Node, "reason", ex.Reason)
	}

	total := plan.TotalNodes()
	if total == 0 {
		return st, result
	}

	completed := 0
	for _, group := range plan.Groups {
		if ctx.Err() != nil {
			d.log.Warn("dispatch canceled, skipping remaining groups", "completed", completed, "total", total)
			break
		}

		results := make(chan nodeResult, len(group))
		snapshot := st.Snapshot()

		g, groupCtx := errgroup.WithContext(ctx)
		for _, def := range group {
			g.Go(func() error {
				results <- runNode(groupCtx, def, snapshot)
				return nil
			})
		}

		// Merge in completion order. Each received update goes through
		// the channel reducers before the next one, keeping a single
		// writer per group boundary.
		written := make(map[string]string)
		for range group {
			res := <-results
			completed++

			d.mergeResult(st, res, written)
			result.Outcomes = append(result.Outcomes, Outcome{
				Node:     res.def.Name,
				Duration: res.duration,
				Err:      res.err,
			})
			d.recordStep(res)

			if onProgress != nil {
				onProgress(completed, total, res.def.Name)
			}
		}
		g.Wait()
	}

	return st, result
}

func (d *Dispatcher) mergeResult(st *state.State, res nodeResult, written map[string]string) {
	if res.err != nil {
		d.log.Warn("node failed", "node", res.def.Name, "error", res.err)
		if err := st.Apply(failureUpdate(res)); err != nil {
			d.log.Error("failed to append node error", "node", res.def.Name, "error", err)
		}
		return
	}

	d.warnScalarConflicts(st, res, written)

	if err := st.Apply(res.update); err != nil {
		// A malformed update is a node bug; degrade it to a node error
		// so the run keeps its partial-failure semantics.
		d.log.Error("node update rejected", "node", res.def.Name, "error", err)
		entry := state.Update{state.ChannelErrors: NodeError{
			Node:    res.def.Name,
			Message: fmt.Sprintf("update rejected: %v", err),
		}}
		if applyErr := st.Apply(entry); applyErr != nil {
			d.log.Error("failed to append node error", "node", res.def.Name, "error", applyErr)
		}
	}
}

// warnScalarConflicts logs when two nodes in the same group write the same
// replace channel. The winner is completion order, which is not
// deterministic; keeping the fields in separate priority tiers avoids this.
func (d *Dispatcher) warnScalarConflicts(st *state.State, res nodeResult, written map[string]string) {
	for name := range res.update {
		policy, ok := st.Schema().Policy(name)
		if !ok || policy != state.PolicyReplace {
			continue
		}
		if prev, conflicting := written[name]; conflicting {
			d.log.Warn("concurrent writers on replace channel",
				"channel", name, "first", prev, "second", res.def.Name)
		}
		written[name] = res.def.Name
	}
}

// failureUpdate is what a failed node contributes to the state: its error
// entry, plus any provider token usage from the failed call. Content channels
// from a failed result are never merged.
func failureUpdate(res nodeResult) state.Update {
	entry := state.Update{state.ChannelErrors: NodeError{
		Node:    res.def.Name,
		Message: res.err.Error(),
	}}
	for _, name := range []string{state.ChannelTokensIn, state.ChannelTokensOut} {
		if v, ok := res.update[name]; ok {
			entry[name] = v
		}
	}
	return entry
}

func (d *Dispatcher) recordStep(res nodeResult) {
	if d.recorder == nil {
		return
	}
	// The recorded diff is exactly what was merged, so replay stays faithful
	// on degraded runs too.
	var diff map[string]any
	if res.err == nil {
		diff = map[string]any(res.update)
	} else {
		diff = map[string]any(failureUpdate(res))
	}
	step := recording.NewStepRecord(res.def.Name, res.started, res.duration, diff, res.err)
	if err := d.recorder.RecordStep(step); err != nil {
		d.log.Error("failed to record step", "node", res.def.Name, "error", err)
	}
}

// runNode executes one node against the snapshot, converting panics into
// node errors so a crashing node cannot take down the group.
func runNode(ctx context.Context, def node.Definition, snapshot *state.State) (res nodeResult) {
	res.def = def
	res.started = time.Now()

	defer func() {
		res.duration = time.Since(res.started)
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
			res.update = nil
		}
	}()

	res.update, res.err = def.Func(ctx, snapshot)
	return res
}
