package probe

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"vigilarium/internal/domain"
)

// ipNetToMediaPhysAddress: the router's ARP table. Each entry's OID
// suffix carries <ifIndex>.<ip octets> and the value is the MAC.
const oidIPNetToMediaPhysAddress = "1.3.6.1.2.1.4.22.1.2"

// GatewayConfig holds configuration for the gateway ARP probe
type GatewayConfig struct {
	// Gateway is the router's address
	Gateway string
	// Community is the SNMP v2c community string
	Community string
	// Timeout per SNMP request
	Timeout time.Duration
	// Deltas maps sources to their confidence contribution
	Deltas map[domain.Source]int
}

// GatewayProbe walks the router's ARP table over SNMP. The router
// sees every device that has passed traffic recently, which makes
// this the most authoritative IP-to-MAC source available.
type GatewayProbe struct {
	cfg GatewayConfig
}

// NewGatewayProbe creates the gateway ARP probe
func NewGatewayProbe(cfg GatewayConfig) *GatewayProbe {
	if cfg.Community == "" {
		cfg.Community = "public"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &GatewayProbe{cfg: cfg}
}

// Name returns the probe identifier
func (p *GatewayProbe) Name() string { return "gateway" }

// Collect walks the gateway's ARP table and returns one observation
// per translation entry.
func (p *GatewayProbe) Collect(ctx context.Context) ([]domain.Observation, error) {
	if p.cfg.Gateway == "" {
		return nil, nil
	}

	snmp := &gosnmp.GoSNMP{
		Target:    p.cfg.Gateway,
		Port:      161,
		Community: p.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   p.cfg.Timeout,
		Retries:   1,
		Context:   ctx,
	}

	if err := snmp.Connect(); err != nil {
		log.Printf("gateway snmp connect failed for %s: %v", p.cfg.Gateway, err)
		return nil, nil
	}
	defer snmp.Conn.Close()

	now := time.Now().UTC()
	var observations []domain.Observation
	err := snmp.BulkWalk(oidIPNetToMediaPhysAddress, func(pdu gosnmp.SnmpPDU) error {
		ifIndex, ip, err := parseARPEntryOID(pdu.Name)
		if err != nil {
			return nil
		}
		raw, ok := pdu.Value.([]byte)
		if !ok || len(raw) != 6 {
			return nil
		}
		mac := domain.NormalizeMAC(net.HardwareAddr(raw).String())

		observations = append(observations, domain.Observation{
			Source:          domain.SourceGatewayARP,
			IP:              ip,
			MAC:             mac,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceGatewayARP],
			Payload:         &domain.GatewayARPPayload{IfIndex: ifIndex},
		})
		return nil
	})
	if err != nil {
		log.Printf("gateway snmp walk failed for %s: %v", p.cfg.Gateway, err)
		return nil, nil
	}

	log.Printf("gateway arp walk: %d entries from %s", len(observations), p.cfg.Gateway)
	return observations, nil
}

// parseARPEntryOID extracts the interface index and IP from an
// ipNetToMediaPhysAddress instance OID, whose last five components
// are <ifIndex>.<a>.<b>.<c>.<d>.
func parseARPEntryOID(oid string) (int, string, error) {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) < 5 {
		return 0, "", fmt.Errorf("oid too short: %s", oid)
	}
	tail := parts[len(parts)-5:]

	ifIndex, err := strconv.Atoi(tail[0])
	if err != nil {
		return 0, "", fmt.Errorf("bad ifIndex in %s: %w", oid, err)
	}

	octets := make([]byte, 4)
	for i, part := range tail[1:] {
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 || v > 255 {
			return 0, "", fmt.Errorf("bad IP octet in %s", oid)
		}
		octets[i] = byte(v)
	}
	return ifIndex, net.IPv4(octets[0], octets[1], octets[2], octets[3]).String(), nil
}
