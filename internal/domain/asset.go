package domain

import (
	"net/netip"
	"sort"
	"strings"
	"time"
)

// AssetStatus is the presence lifecycle state of an asset
type AssetStatus string

const (
	AssetStatusNew    AssetStatus = "new"     // First detection, not yet trusted
	AssetStatusStable AssetStatus = "stable"  // Seen across multiple fusion cycles
	AssetStatusAtRisk AssetStatus = "at_risk" // Stable but risky evidence attached
	AssetStatusGone   AssetStatus = "gone"    // No recent evidence; retained, never deleted
)

// OriginType classifies where an asset's address places it
type OriginType string

const (
	OriginLAN            OriginType = "lan"
	OriginLocalInterface OriginType = "local_interface" // docker bridges etc.
	OriginLoopback       OriginType = "loopback"
	OriginLinkLocal      OriginType = "link_local"
	OriginWAN            OriginType = "wan"
	OriginUnknown        OriginType = "unknown"
)

// Synthetic reports whether assets of this origin are noise for the
// default lan-scoped asset listing.
func (o OriginType) Synthetic() bool {
	switch o {
	case OriginLocalInterface, OriginLoopback, OriginLinkLocal:
		return true
	}
	return false
}

// ClassifyOrigin derives the origin type from an IPv4 address.
// The 172.16/12 range is treated as container bridge territory.
func ClassifyOrigin(ip string) OriginType {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return OriginUnknown
	}
	switch {
	case addr.IsLoopback():
		return OriginLoopback
	case addr.IsLinkLocalUnicast():
		return OriginLinkLocal
	case !addr.Is4():
		return OriginUnknown
	}
	b := addr.As4()
	switch {
	case b[0] == 172 && b[1] >= 16 && b[1] <= 31:
		return OriginLocalInterface
	case b[0] == 10, b[0] == 192 && b[1] == 168:
		return OriginLAN
	}
	return OriginWAN
}

// Mutable identity fields subject to authority-weighted conflict
// resolution during fusion.
const (
	FieldHostname   = "hostname"
	FieldOSGuess    = "os_guess"
	FieldDeviceType = "device_type"
)

// NetworkAsset is the canonical, fused record of a device's identity
// and attributes. At most one live asset exists per identity key per
// client.
type NetworkAsset struct {
	ID              string      `json:"id"`
	ClientID        string      `json:"client_id"`
	IP              string      `json:"ip"`
	MAC             string      `json:"mac,omitempty"`
	Hostname        string      `json:"hostname,omitempty"`
	MACVendor       string      `json:"mac_vendor,omitempty"`
	DeviceType      string      `json:"device_type"`
	OSGuess         string      `json:"os_guess"`
	Tags            []string    `json:"tags,omitempty"`
	OriginType      OriginType  `json:"origin_type"`
	ConfidenceScore int         `json:"confidence_score"`
	Status          AssetStatus `json:"status"`
	TimesSeen       int         `json:"times_seen"`
	FirstSeen       time.Time   `json:"first_seen"`
	LastSeen        time.Time   `json:"last_seen"`

	// OpenPorts is the last known open-port set, replaced whenever a
	// batch carries port evidence. Risk flagging reads this, so a
	// portless passive batch cannot clear an earlier finding.
	OpenPorts []int `json:"open_ports,omitempty"`

	// FieldAuthority remembers the authority weight of the source
	// that last set each mutable field, so weaker evidence cannot
	// clobber it later.
	FieldAuthority map[string]int `json:"field_authority,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAsset creates an asset for a first-time identity key
func NewAsset(clientID, ip, mac string) *NetworkAsset {
	now := time.Now().UTC()
	origin := OriginUnknown
	if ip != "" {
		origin = ClassifyOrigin(ip)
	}
	return &NetworkAsset{
		ClientID:       clientID,
		IP:             ip,
		MAC:            NormalizeMAC(mac),
		DeviceType:     "unknown",
		OSGuess:        "unknown",
		OriginType:     origin,
		Status:         AssetStatusNew,
		TimesSeen:      0,
		FirstSeen:      now,
		LastSeen:       now,
		FieldAuthority: make(map[string]int),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IdentityKey returns the MAC when bound, otherwise the IP
func (a *NetworkAsset) IdentityKey() string {
	if a.MAC != "" {
		return NormalizeMAC(a.MAC)
	}
	return a.IP
}

// SetField applies authority-weighted conflict resolution for a
// mutable field. The new value wins when its source weight is at
// least the weight that last set the field (ties prefer the most
// recent value). Reports whether the field changed.
func (a *NetworkAsset) SetField(field, value string, weight int) bool {
	if value == "" || value == "unknown" {
		return false
	}
	if a.FieldAuthority == nil {
		a.FieldAuthority = make(map[string]int)
	}
	if weight < a.FieldAuthority[field] {
		return false
	}

	var target *string
	switch field {
	case FieldHostname:
		target = &a.Hostname
	case FieldOSGuess:
		target = &a.OSGuess
	case FieldDeviceType:
		target = &a.DeviceType
	default:
		return false
	}

	changed := *target != value
	*target = value
	a.FieldAuthority[field] = weight
	return changed
}

// AddTags unions tags into the asset's tag set. Tags accumulate and
// are never overwritten.
func (a *NetworkAsset) AddTags(tags ...string) {
	if len(tags) == 0 {
		return
	}
	seen := make(map[string]bool, len(a.Tags)+len(tags))
	for _, t := range a.Tags {
		seen[t] = true
	}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		a.Tags = append(a.Tags, t)
	}
	sort.Strings(a.Tags)
}

// SetOpenPorts replaces the last known open-port set with a sorted,
// deduplicated copy. Call only when a batch actually carried port
// evidence.
func (a *NetworkAsset) SetOpenPorts(ports []int) {
	seen := make(map[int]bool, len(ports))
	out := make([]int, 0, len(ports))
	for _, p := range ports {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	a.OpenPorts = out
}

// AddConfidence accumulates a signed confidence contribution,
// clamped to [0,100].
func (a *NetworkAsset) AddConfidence(delta int) {
	a.ConfidenceScore = ClampConfidence(a.ConfidenceScore + delta)
}

// ClampConfidence bounds a confidence score to [0,100]
func ClampConfidence(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
