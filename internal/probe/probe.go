package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"vigilarium/internal/domain"
)

// Source collects observations from one probe method. Collect is
// best-effort: unreachable networks or missing privileges produce an
// empty result, not an error; errors are reserved for misconfiguration.
type Source interface {
	Name() string
	Collect(ctx context.Context) ([]domain.Observation, error)
}

// wellKnownPorts names common services for scan payloads
var wellKnownPorts = map[int]string{
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	80:   "http",
	110:  "pop3",
	143:  "imap",
	443:  "https",
	445:  "smb",
	631:  "ipp",
	993:  "imaps",
	995:  "pop3s",
	3306: "mysql",
	3389: "rdp",
	5432: "postgres",
	5900: "vnc",
	8080: "http-alt",
	8443: "https-alt",
	9100: "jetdirect",
}

// serviceName returns the well-known service for a port
func serviceName(port int) string {
	if name, ok := wellKnownPorts[port]; ok {
		return name
	}
	return fmt.Sprintf("unknown-%d", port)
}

// expandCIDR converts a CIDR (or single IP) into a host list.
// Network and broadcast addresses are dropped for /24 and larger.
func expandCIDR(cidr string) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		if ip := net.ParseIP(cidr); ip != nil {
			return []string{ip.String()}, nil
		}
		return nil, err
	}

	ip := ipNet.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("only IPv4 supported")
	}

	networkInt := binary.BigEndian.Uint32(ip)
	maskInt := binary.BigEndian.Uint32(ipNet.Mask)
	firstIP := networkInt & maskInt
	lastIP := firstIP | ^maskInt

	ones, bits := ipNet.Mask.Size()
	if ones <= 24 && bits == 32 {
		firstIP++
		lastIP--
	}

	if lastIP-firstIP > 1024 {
		return nil, fmt.Errorf("CIDR range too large (max 1024 IPs)")
	}

	var ips []string
	for i := firstIP; i <= lastIP; i++ {
		ipBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(ipBytes, i)
		ips = append(ips, net.IP(ipBytes).String())
	}
	return ips, nil
}

// DetectLANCIDR finds the first non-loopback IPv4 interface and
// returns its network in CIDR form. Used when no scan CIDR is
// configured.
func DetectLANCIDR() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if domain.ClassifyOrigin(ip.String()) != domain.OriginLAN {
			continue
		}
		return ipNet.String(), nil
	}
	return "", fmt.Errorf("no LAN interface found")
}
