package probe

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"

	"vigilarium/internal/domain"
)

// NmapConfig holds configuration for the deep nmap pass
type NmapConfig struct {
	// CIDR to scan; autodetected from the LAN interface when empty
	CIDR string
	// PortRange in nmap syntax
	PortRange string
	// Deltas maps sources to their confidence contribution
	Deltas map[domain.Source]int
}

// NmapProbe runs nmap with service detection. It is the slow probe
// used by full runs; when the nmap binary is missing Collect returns
// empty results so the rest of the run proceeds.
type NmapProbe struct {
	cfg NmapConfig
}

// NewNmapProbe creates the deep scan probe
func NewNmapProbe(cfg NmapConfig) *NmapProbe {
	if cfg.PortRange == "" {
		cfg.PortRange = "21-23,25,53,80,110,143,443,445,631,993,995,3306,3389,5432,5900,8080,8443,9100"
	}
	return &NmapProbe{cfg: cfg}
}

// Name returns the probe identifier
func (p *NmapProbe) Name() string { return "nmap" }

// Collect runs a service-detection scan over the configured CIDR
func (p *NmapProbe) Collect(ctx context.Context) ([]domain.Observation, error) {
	cidr := p.cfg.CIDR
	if cidr == "" {
		detected, err := DetectLANCIDR()
		if err != nil {
			return nil, fmt.Errorf("no scan CIDR configured and autodetect failed: %w", err)
		}
		cidr = detected
	}

	scanner, err := nmap.NewScanner(
		ctx,
		nmap.WithTargets(cidr),
		nmap.WithPorts(p.cfg.PortRange),
		nmap.WithServiceInfo(),
	)
	if err != nil {
		log.Printf("nmap unavailable, skipping deep scan: %v", err)
		return nil, nil
	}

	log.Printf("nmap scan: %s (ports %s)", cidr, p.cfg.PortRange)
	result, warnings, err := scanner.Run()
	if err != nil {
		log.Printf("nmap scan failed, skipping: %v", err)
		return nil, nil
	}
	if warnings != nil && len(*warnings) > 0 {
		log.Printf("nmap warnings: %v", *warnings)
	}

	return p.observationsFromRun(result), nil
}

func (p *NmapProbe) observationsFromRun(result *nmap.Run) []domain.Observation {
	if result == nil {
		return nil
	}
	now := time.Now().UTC()

	var observations []domain.Observation
	for _, host := range result.Hosts {
		if host.Status.State != "up" || len(host.Addresses) == 0 {
			continue
		}

		var ip, mac string
		for _, addr := range host.Addresses {
			switch addr.AddrType {
			case "ipv4":
				ip = addr.Addr
			case "mac":
				mac = addr.Addr
			}
		}
		if ip == "" {
			continue
		}

		var hostname string
		for _, name := range host.Hostnames {
			if name.Name != "" {
				hostname = strings.TrimSuffix(name.Name, ".")
				break
			}
		}

		var openPorts []domain.PortService
		for _, port := range host.Ports {
			if port.State.State != "open" {
				continue
			}
			service := port.Service.Name
			if service == "" {
				service = serviceName(int(port.ID))
			}
			openPorts = append(openPorts, domain.PortService{Port: int(port.ID), Service: service})
		}

		observations = append(observations, domain.Observation{
			Source:          domain.SourceActiveScan,
			IP:              ip,
			MAC:             mac,
			Hostname:        hostname,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceActiveScan],
			Payload:         &domain.ActiveScanPayload{OpenPorts: openPorts},
		})
	}
	return observations
}
