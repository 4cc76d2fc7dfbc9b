// Package classify maps raw observation evidence to device identity.
//
// Classification is a pure function of one observation plus the
// current asset: an ordered rule table proposes a device type, an OS
// guess, and tags, and the proposals are folded into the asset under
// the same authority-weighted conflict resolution the fusion engine
// uses for every other field. Service advertisements (mDNS, SSDP)
// outrank software banners, which outrank OUI manufacturer prefixes.
package classify
