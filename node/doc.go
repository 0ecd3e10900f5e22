// Package node defines processing-node definitions, the immutable registry
// they live in, and execution-plan construction.
//
// A node is selected when any of its trigger flags is true in the
// feature-detection output. Selected nodes are grouped by priority into an
// execution plan: groups run strictly in order, nodes within a group run
// concurrently.
package node
