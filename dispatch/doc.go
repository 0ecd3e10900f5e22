// Package dispatch fans a document analysis out to dynamically selected
// processing nodes and merges their partial results into shared state.
//
// Execution follows the plan's priority groups: groups run strictly in
// sequence, nodes within a group run concurrently against a snapshot of the
// state merged so far. Node failures are contained — each becomes one entry
// on the errors channel while siblings and later groups continue — so a run
// degrades to partial coverage instead of aborting.
package dispatch
