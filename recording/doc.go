// Package recording durably logs every step of a document analysis run and
// replays sealed recordings without re-executing any side-effecting work.
//
// A Recorder is opened at pipeline start, receives one StepRecord per node
// and per stage, and is sealed with the final aggregated result at pipeline
// end. A Replayer walks a sealed recording step-by-step; it shares the data
// types with live execution but none of the execution paths, and refuses to
// open a recording that still has a live session.
//
// Recordings persist as one JSON file per run under <base>/runs/<id>/, with
// retention and tar.gz archival handled by LifecycleManager.
package recording
