// Package fusion turns observation batches into canonical assets.
//
// The engine groups each batch by identity key (MAC when known,
// otherwise IP), stores every observation durably, and folds the new
// evidence into the matching asset: confidence deltas accumulate,
// identity fields resolve conflicts by source authority weight, and
// the classifier and lifecycle manager run as part of the same fuse.
// Batches replay safely; duplicates are detected in the store and
// contribute nothing.
package fusion
