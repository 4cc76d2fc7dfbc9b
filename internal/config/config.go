// Package config provides YAML configuration for the Vigilarium
// server and sensor binaries.
//
// Config file locations (priority order):
//  1. $VIGILARIUM_CONFIG
//  2. ./vigilarium.yaml (server) or ./vigilarium-sensor.yaml (sensor)
//  3. /etc/vigilarium/<name>
//
// All lifecycle thresholds and source authority weights are tunable
// here; defaults are applied for anything omitted.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath is the environment variable for an explicit config path
	EnvConfigPath = "VIGILARIUM_CONFIG"
	// ServerConfigName is the default server config file name
	ServerConfigName = "vigilarium.yaml"
	// SensorConfigName is the default sensor config file name
	SensorConfigName = "vigilarium-sensor.yaml"
)

// LoadServer finds and loads the server config, or returns defaults
// if no file is found.
func LoadServer() (*ServerConfig, string, error) {
	path := findConfigPath(ServerConfigName)
	if path == "" {
		return DefaultServerConfig(), "", nil
	}
	return LoadServerFromPath(path)
}

// LoadServerFromPath loads server config from a specific path
func LoadServerFromPath(path string) (*ServerConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// LoadSensor finds and loads the sensor config, or returns defaults
// if no file is found.
func LoadSensor() (*SensorConfig, string, error) {
	path := findConfigPath(SensorConfigName)
	if path == "" {
		return DefaultSensorConfig(), "", nil
	}
	return LoadSensorFromPath(path)
}

// LoadSensorFromPath loads sensor config from a specific path
func LoadSensorFromPath(path string) (*SensorConfig, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg SensorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, path, nil
}

// DefaultServerConfig returns sensible defaults for a new installation
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{
		Version:  1,
		Listen:   ":18001",
		Database: DatabaseConfig{Path: "./vigilarium.db"},
	}
	cfg.applyDefaults()
	return cfg
}

// DefaultSensorConfig returns sensible defaults for a new sensor
func DefaultSensorConfig() *SensorConfig {
	cfg := &SensorConfig{
		Version: 1,
		Listen:  ":18080",
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing server values
func (c *ServerConfig) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = ":18001"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./vigilarium.db"
	}
	if c.Fusion.EvidenceLimit == 0 {
		c.Fusion.EvidenceLimit = 50
	}
	if c.Lifecycle.PromoteAfterSeen == 0 {
		c.Lifecycle.PromoteAfterSeen = 2
	}
	if c.Lifecycle.StalenessWindow == 0 {
		c.Lifecycle.StalenessWindow = Duration(168 * time.Hour)
	}
	if c.Lifecycle.SweepInterval == 0 {
		c.Lifecycle.SweepInterval = Duration(time.Hour)
	}
	if len(c.Lifecycle.RiskyPorts) == 0 {
		c.Lifecycle.RiskyPorts = []int{23, 445, 3389}
	}
}

// applyDefaults fills in missing sensor values
func (c *SensorConfig) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Listen == "" {
		c.Listen = ":18080"
	}
	if c.Orchestrator.URL == "" {
		c.Orchestrator.URL = "http://localhost:18001"
	}
	if c.Orchestrator.Timeout == 0 {
		c.Orchestrator.Timeout = Duration(10 * time.Second)
	}
	if c.Orchestrator.SpoolPath == "" {
		c.Orchestrator.SpoolPath = "./pending_observations.jsonl"
	}
	if c.Scan.SNMPCommunity == "" {
		c.Scan.SNMPCommunity = "public"
	}
	if c.Scan.ProbeTimeout == 0 {
		c.Scan.ProbeTimeout = Duration(5 * time.Second)
	}
	if c.Scan.PassiveWindow == 0 {
		c.Scan.PassiveWindow = Duration(30 * time.Second)
	}
	if len(c.Scan.DiscoveryPorts) == 0 {
		c.Scan.DiscoveryPorts = []int{22, 80, 443, 445, 3389, 5900, 8080}
	}
	if c.Scan.MaxConcurrent == 0 {
		c.Scan.MaxConcurrent = 200
	}
	if c.Schedule.FastInterval == 0 {
		c.Schedule.FastInterval = Duration(10 * time.Minute)
	}
	if c.Schedule.FullInterval == 0 {
		c.Schedule.FullInterval = Duration(60 * time.Minute)
	}
}

// Save writes server config to the specified path
func (c *ServerConfig) Save(path string) error {
	return saveYAML(path, c)
}

// Save writes sensor config to the specified path
func (c *SensorConfig) Save(path string) error {
	return saveYAML(path, c)
}

func saveYAML(path string, v interface{}) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// findConfigPath searches for the named config file in priority order.
// Returns empty string if none found.
func findConfigPath(name string) string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	if fileExists(name) {
		if abs, err := filepath.Abs(name); err == nil {
			return abs
		}
		return name
	}

	systemPath := filepath.Join("/etc", "vigilarium", name)
	if fileExists(systemPath) {
		return systemPath
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
