// Package state implements the shared workflow state threaded through a
// document analysis run.
//
// State is a mapping of named channels to values. Every channel carries
// exactly one merge policy, fixed when the schema is declared:
//
//   - replace: newest non-empty write wins (scalar fields)
//   - accumulate: concatenate values from all writers (lists)
//   - merge-object: shallow key union, later writer wins per key
//   - sum: numeric addition across writers (token counters)
//
// Nodes never mutate state in place. They return partial Updates, and the
// dispatcher applies them through Apply, which routes each key through the
// channel's reducer. Reducers are associative, so goroutine completion order
// changes accumulate ordering but never the set of accumulated values.
package state
