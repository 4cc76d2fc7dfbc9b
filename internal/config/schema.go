package config

import (
	"time"

	"vigilarium/internal/domain"
)

// ServerConfig configures the central orchestrator: store, HTTP
// surface, fusion tuning, and the lifecycle sweeper.
type ServerConfig struct {
	Version   int             `yaml:"version"`
	Listen    string          `yaml:"listen"`
	APIKey    string          `yaml:"api_key,omitempty"`
	Database  DatabaseConfig  `yaml:"database"`
	Clients   []ClientEntry   `yaml:"clients,omitempty"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
}

// ClientEntry declares a known tenant; it is ensured in the store at
// startup. Client CRUD lives outside this system.
type ClientEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// DatabaseConfig locates the SQLite store
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FusionConfig tunes evidence fusion. Authority weights are
// configuration, not baked-in literals: the ordering beyond
// "gateway ARP is strongest" is deployment policy.
type FusionConfig struct {
	AuthorityWeights map[domain.Source]int `yaml:"authority_weights,omitempty"`
	EvidenceLimit    int                   `yaml:"evidence_limit"`
}

// Weights returns the configured authority weights merged over the
// defaults.
func (f FusionConfig) Weights() domain.AuthorityWeights {
	w := domain.DefaultAuthorityWeights()
	for src, weight := range f.AuthorityWeights {
		w[src] = weight
	}
	return w
}

// LifecycleConfig tunes the presence state machine thresholds
type LifecycleConfig struct {
	// PromoteAfterSeen is how many distinct fusion cycles an asset
	// must be observed across before new -> stable (anti-flap).
	PromoteAfterSeen int `yaml:"promote_after_seen"`
	// StalenessWindow is how long without evidence before stable -> gone.
	StalenessWindow Duration `yaml:"staleness_window"`
	// SweepInterval is how often the staleness sweeper runs.
	SweepInterval Duration `yaml:"sweep_interval"`
	// RiskyPorts flag an asset at_risk when seen open.
	RiskyPorts []int `yaml:"risky_ports,omitempty"`
}

// SensorConfig configures an edge sensor: who it reports as, where
// it reports to, what it probes, and how often.
type SensorConfig struct {
	Version  int    `yaml:"version"`
	Listen   string `yaml:"listen"`
	ClientID string `yaml:"client_id"`

	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Scan         ScanConfig         `yaml:"scan"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
}

// OrchestratorConfig points the delivery client at the central API
type OrchestratorConfig struct {
	URL       string   `yaml:"url"`
	APIKey    string   `yaml:"api_key,omitempty"`
	Timeout   Duration `yaml:"timeout"`
	SpoolPath string   `yaml:"spool_path"`
}

// ScanConfig tunes the probe sources
type ScanConfig struct {
	CIDR             string                `yaml:"cidr,omitempty"` // empty = autodetect primary LAN
	Gateway          string                `yaml:"gateway,omitempty"`
	SNMPCommunity    string                `yaml:"snmp_community"`
	ProbeTimeout     Duration              `yaml:"probe_timeout"`
	PassiveWindow    Duration              `yaml:"passive_window"`
	DiscoveryPorts   []int                 `yaml:"discovery_ports,omitempty"`
	MaxConcurrent    int                   `yaml:"max_concurrent"`
	ConfidenceDeltas map[domain.Source]int `yaml:"confidence_deltas,omitempty"`
}

// Deltas returns per-source confidence contributions, defaulting to
// the authority weights when not overridden.
func (s ScanConfig) Deltas() domain.AuthorityWeights {
	w := domain.DefaultAuthorityWeights()
	for src, d := range s.ConfidenceDeltas {
		w[src] = d
	}
	return w
}

// ScheduleConfig sets the recurring scan cadence
type ScheduleConfig struct {
	FastInterval Duration `yaml:"fast_interval"`
	FullInterval Duration `yaml:"full_interval"`
}

// Duration wraps time.Duration for YAML "10m"-style values
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
