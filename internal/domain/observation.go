package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source identifies the probe method that produced an observation.
type Source string

const (
	SourceActiveScan   Source = "active_scan"      // TCP sweep / ping discovery
	SourceARPBroadcast Source = "arp_broadcast"    // local ARP/neighbour table
	SourceDHCP         Source = "dhcp"             // passive DHCP sniffing
	SourceMDNS         Source = "mdns"             // multicast DNS service names
	SourceSSDP         Source = "ssdp"             // UPnP M-SEARCH responses
	SourceGatewayARP   Source = "gateway_snmp_arp" // router ARP table via SNMP
	SourceHTTPBanner   Source = "banner_http"      // HTTP response headers
	SourceOUI          Source = "oui_lookup"       // MAC vendor prefix
)

// KnownSources lists every valid observation source.
var KnownSources = []Source{
	SourceActiveScan,
	SourceARPBroadcast,
	SourceDHCP,
	SourceMDNS,
	SourceSSDP,
	SourceGatewayARP,
	SourceHTTPBanner,
	SourceOUI,
}

// Valid reports whether s is a known observation source
func (s Source) Valid() bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// AuthorityWeights maps each source to its relative trust when
// resolving field conflicts. Higher wins.
type AuthorityWeights map[Source]int

// DefaultAuthorityWeights returns the built-in trust ordering.
// Gateway ARP reflects router-level ground truth and outranks
// everything; OUI vendor matching is the weakest fallback.
func DefaultAuthorityWeights() AuthorityWeights {
	return AuthorityWeights{
		SourceGatewayARP:   60,
		SourceDHCP:         40,
		SourceARPBroadcast: 40,
		SourceMDNS:         30,
		SourceSSDP:         25,
		SourceActiveScan:   20,
		SourceHTTPBanner:   20,
		SourceOUI:          10,
	}
}

// Weight returns the authority weight for a source (0 if unknown)
func (w AuthorityWeights) Weight(s Source) int {
	return w[s]
}

// Payload carries source-specific evidence. Exactly one concrete
// payload type exists per Source so the classifier can match
// exhaustively instead of digging through loose maps.
type Payload interface {
	payloadSource() Source
}

// PortService is one open port with the service detected on it
type PortService struct {
	Port    int    `json:"port"`
	Service string `json:"service,omitempty"`
}

// ActiveScanPayload holds results of an active host probe
type ActiveScanPayload struct {
	OpenPorts []PortService `json:"open_ports,omitempty"`
}

// ARPPayload holds evidence from an ARP/neighbour table entry
type ARPPayload struct {
	Vendor string `json:"vendor,omitempty"`
	State  string `json:"state,omitempty"`
}

// DHCPPayload holds fields sniffed from a DHCP request
type DHCPPayload struct {
	Hostname    string `json:"hostname,omitempty"`
	VendorClass string `json:"vendor_class,omitempty"`
	MessageType int    `json:"message_type,omitempty"`
}

// MDNSPayload holds service identifiers heard via multicast DNS
type MDNSPayload struct {
	Names    []string `json:"names,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
}

// SSDPPayload holds headers from a UPnP M-SEARCH response
type SSDPPayload struct {
	Server   string `json:"server,omitempty"`
	Location string `json:"location,omitempty"`
	USN      string `json:"usn,omitempty"`
	ST       string `json:"st,omitempty"`
}

// GatewayARPPayload holds an address-translation entry read from
// the gateway's SNMP ARP table
type GatewayARPPayload struct {
	IfIndex int `json:"if_index,omitempty"`
}

// PortBanner is the interesting headers from one HTTP endpoint
type PortBanner struct {
	Port      int    `json:"port"`
	Server    string `json:"server,omitempty"`
	PoweredBy string `json:"powered_by,omitempty"`
}

// BannerPayload holds HTTP banners grabbed from a host
type BannerPayload struct {
	Banners []PortBanner `json:"banners,omitempty"`
}

// OUIPayload holds the vendor resolved from a MAC prefix
type OUIPayload struct {
	Vendor string `json:"vendor"`
}

func (ActiveScanPayload) payloadSource() Source { return SourceActiveScan }
func (ARPPayload) payloadSource() Source        { return SourceARPBroadcast }
func (DHCPPayload) payloadSource() Source       { return SourceDHCP }
func (MDNSPayload) payloadSource() Source       { return SourceMDNS }
func (SSDPPayload) payloadSource() Source       { return SourceSSDP }
func (GatewayARPPayload) payloadSource() Source { return SourceGatewayARP }
func (BannerPayload) payloadSource() Source     { return SourceHTTPBanner }
func (OUIPayload) payloadSource() Source        { return SourceOUI }

// Observation is one immutable piece of evidence about a device,
// from one source, at one time. It is created once by a probe
// source (or timestamp-backfilled at ingestion) and never mutated.
type Observation struct {
	ID              string    `json:"id,omitempty"`
	ClientID        string    `json:"client_id,omitempty"`
	Source          Source    `json:"source"`
	IP              string    `json:"ip,omitempty"`
	MAC             string    `json:"mac,omitempty"`
	Hostname        string    `json:"hostname,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitzero"`
	ConfidenceDelta int       `json:"confidence_delta"`
	Payload         Payload   `json:"payload,omitempty"`
	RawText         string    `json:"raw_text,omitempty"`
}

// Validate checks the invariants the ingestion boundary enforces:
// a known source and at least one of IP or MAC.
func (o *Observation) Validate() error {
	if !o.Source.Valid() {
		return fmt.Errorf("unknown observation source %q", o.Source)
	}
	if o.IP == "" && o.MAC == "" {
		return fmt.Errorf("observation from %s has neither ip nor mac", o.Source)
	}
	return nil
}

// IdentityKey returns the key observations about this device group
// under: the MAC when known, otherwise the IP.
func (o *Observation) IdentityKey() string {
	if o.MAC != "" {
		return NormalizeMAC(o.MAC)
	}
	return o.IP
}

// DedupKey identifies this observation for idempotent re-ingestion.
// Replaying a batch produces the same keys and is discarded.
func (o *Observation) DedupKey() string {
	return fmt.Sprintf("%s|%s|%s|%s", o.Source, o.Timestamp.UTC().Format(time.RFC3339Nano), NormalizeMAC(o.MAC), o.IP)
}

// observationJSON mirrors Observation with the payload still raw,
// so UnmarshalJSON can dispatch on source.
type observationJSON struct {
	ID              string          `json:"id,omitempty"`
	ClientID        string          `json:"client_id,omitempty"`
	Source          Source          `json:"source"`
	IP              string          `json:"ip,omitempty"`
	MAC             string          `json:"mac,omitempty"`
	Hostname        string          `json:"hostname,omitempty"`
	Timestamp       time.Time       `json:"timestamp,omitzero"`
	ConfidenceDelta int             `json:"confidence_delta"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RawText         string          `json:"raw_text,omitempty"`
}

// UnmarshalJSON decodes an observation, selecting the concrete
// payload type from the source tag.
func (o *Observation) UnmarshalJSON(data []byte) error {
	var raw observationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	o.ID = raw.ID
	o.ClientID = raw.ClientID
	o.Source = raw.Source
	o.IP = raw.IP
	o.MAC = raw.MAC
	o.Hostname = raw.Hostname
	o.Timestamp = raw.Timestamp
	o.ConfidenceDelta = raw.ConfidenceDelta
	o.RawText = raw.RawText
	o.Payload = nil

	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}

	payload, err := UnmarshalPayload(raw.Source, raw.Payload)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Source, err)
	}
	o.Payload = payload
	return nil
}

// UnmarshalPayload decodes raw payload JSON into the concrete type
// for the given source.
func UnmarshalPayload(source Source, data []byte) (Payload, error) {
	switch source {
	case SourceActiveScan:
		var p ActiveScanPayload
		return &p, json.Unmarshal(data, &p)
	case SourceARPBroadcast:
		var p ARPPayload
		return &p, json.Unmarshal(data, &p)
	case SourceDHCP:
		var p DHCPPayload
		return &p, json.Unmarshal(data, &p)
	case SourceMDNS:
		var p MDNSPayload
		return &p, json.Unmarshal(data, &p)
	case SourceSSDP:
		var p SSDPPayload
		return &p, json.Unmarshal(data, &p)
	case SourceGatewayARP:
		var p GatewayARPPayload
		return &p, json.Unmarshal(data, &p)
	case SourceHTTPBanner:
		var p BannerPayload
		return &p, json.Unmarshal(data, &p)
	case SourceOUI:
		var p OUIPayload
		return &p, json.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// NormalizeMAC converts a MAC address to upper-case colon-separated
// form so identity keys compare reliably across probe sources.
func NormalizeMAC(mac string) string {
	if mac == "" {
		return ""
	}
	mac = strings.ReplaceAll(mac, "-", ":")
	return strings.ToUpper(mac)
}
