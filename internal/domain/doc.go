// Package domain defines the core data model for Vigilarium.
//
// The model separates evidence from identity:
//
// Observation is an immutable, append-only evidence record produced
// by one probe source at one moment. Its payload is a tagged union
// keyed by source, so downstream consumers can match on concrete
// payload types instead of poking at loose maps.
//
// NetworkAsset is the canonical, mutable record a device's
// observations fuse into. Identity is keyed by MAC when known,
// falling back to IP, scoped per client. Mutable fields carry the
// authority weight of the source that set them, which is how the
// fusion engine keeps a weak passive guess from clobbering a
// router-derived fact.
//
// AssetHistory is the append-only log of lifecycle transitions
// (new -> stable -> gone, with an at_risk branch from stable).
package domain
