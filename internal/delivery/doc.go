// Package delivery moves observation batches from sensor to
// orchestrator with at-least-once semantics. Failed batches land in
// a durable jsonl spool and are flushed, oldest first, before the
// next delivery. Permanent rejections (validation failures, unknown
// client) are dropped rather than retried forever.
package delivery
