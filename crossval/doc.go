// Package crossval reconciles disagreeing feature-flag refinements from
// processing nodes into one authoritative value per flag.
//
// Every node that reports a refinement contributes a (value, confidence)
// vote; the original feature-detection output always votes with confidence
// 0.8. Single votes pass through, unanimous votes get an agreement boost,
// and disagreements are settled by confidence-weighted voting with a full
// audit trail. Schema-dependency checks between related report sections
// then raise or lower the resulting confidence scores.
package crossval
