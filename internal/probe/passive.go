package probe

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/dns/dnsmessage"
	"golang.org/x/sync/errgroup"

	"vigilarium/internal/domain"
)

// PassiveConfig holds configuration for the passive listeners
type PassiveConfig struct {
	// Window is how long to listen for traffic
	Window time.Duration
	// Deltas maps sources to their confidence contribution
	Deltas map[domain.Source]int
}

// PassiveProbe listens to chatter devices emit on their own: mDNS
// service advertisements, SSDP discovery responses, and DHCP
// broadcasts. Each listener is best-effort; a socket that cannot be
// opened (no privileges, port taken) is logged and skipped.
type PassiveProbe struct {
	cfg PassiveConfig
}

// NewPassiveProbe creates the passive listener probe
func NewPassiveProbe(cfg PassiveConfig) *PassiveProbe {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}
	return &PassiveProbe{cfg: cfg}
}

// Name returns the probe identifier
func (p *PassiveProbe) Name() string { return "passive" }

// Collect runs all listeners for the window and merges the results
func (p *PassiveProbe) Collect(ctx context.Context) ([]domain.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Window+2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var observations []domain.Observation
	add := func(obs []domain.Observation) {
		mu.Lock()
		observations = append(observations, obs...)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		add(p.listenMDNS(ctx))
		return nil
	})
	g.Go(func() error {
		add(p.listenSSDP(ctx))
		return nil
	})
	g.Go(func() error {
		add(p.listenDHCP(ctx))
		return nil
	})
	if err := g.Wait(); err != nil {
		return observations, err
	}

	log.Printf("passive window closed: %d observations", len(observations))
	return observations, nil
}

// ============================================================================
// mDNS
// ============================================================================

var mdnsGroup = &net.UDPAddr{IP: net.IPv4(224, 0, 0, 251), Port: 5353}

// listenMDNS joins the mDNS multicast group, nudges the network with
// a service enumeration query, and records what responders advertise.
func (p *PassiveProbe) listenMDNS(ctx context.Context) []domain.Observation {
	conn, err := net.ListenMulticastUDP("udp4", nil, mdnsGroup)
	if err != nil {
		log.Printf("mdns listener unavailable: %v", err)
		return nil
	}
	defer conn.Close()

	// Trigger responses rather than only waiting for gratuitous
	// announcements.
	if query, err := buildMDNSQuery(); err == nil {
		if out, err := net.DialUDP("udp4", nil, mdnsGroup); err == nil {
			out.Write(query)
			out.Close()
		}
	}

	type mdnsHost struct {
		names    map[string]bool
		hostname string
	}
	hosts := make(map[string]*mdnsHost)

	deadline := time.Now().Add(p.cfg.Window)
	conn.SetReadDeadline(deadline)
	buf := make([]byte, 9000)
	for ctx.Err() == nil {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		names, hostname := parseMDNSMessage(buf[:n])
		if len(names) == 0 && hostname == "" {
			continue
		}
		ip := src.IP.String()
		h := hosts[ip]
		if h == nil {
			h = &mdnsHost{names: make(map[string]bool)}
			hosts[ip] = h
		}
		for _, name := range names {
			h.names[name] = true
		}
		if hostname != "" {
			h.hostname = hostname
		}
	}

	now := time.Now().UTC()
	var observations []domain.Observation
	for ip, h := range hosts {
		names := make([]string, 0, len(h.names))
		for name := range h.names {
			names = append(names, name)
		}
		sort.Strings(names)
		observations = append(observations, domain.Observation{
			Source:          domain.SourceMDNS,
			IP:              ip,
			Hostname:        h.hostname,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceMDNS],
			Payload:         &domain.MDNSPayload{Names: names, Hostname: h.hostname},
		})
	}
	return observations
}

// buildMDNSQuery encodes a PTR query for the service enumerator name
func buildMDNSQuery() ([]byte, error) {
	name, err := dnsmessage.NewName("_services._dns-sd._udp.local.")
	if err != nil {
		return nil, err
	}
	msg := dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}
	return msg.Pack()
}

// parseMDNSMessage extracts advertised service names and the
// responder's hostname from one mDNS packet.
func parseMDNSMessage(packet []byte) (names []string, hostname string) {
	var parser dnsmessage.Parser
	if _, err := parser.Start(packet); err != nil {
		return nil, ""
	}
	parser.SkipAllQuestions()

	for {
		header, err := parser.AnswerHeader()
		if err != nil {
			break
		}
		switch header.Type {
		case dnsmessage.TypePTR:
			r, err := parser.PTRResource()
			if err != nil {
				return names, hostname
			}
			if name := strings.TrimSuffix(r.PTR.String(), "."); isServiceName(name) {
				names = append(names, name)
			}
		case dnsmessage.TypeSRV:
			r, err := parser.SRVResource()
			if err != nil {
				return names, hostname
			}
			target := strings.TrimSuffix(r.Target.String(), ".")
			if target != "" {
				hostname = strings.TrimSuffix(target, ".local")
			}
		case dnsmessage.TypeA:
			if _, err := parser.AResource(); err != nil {
				return names, hostname
			}
			if name := strings.TrimSuffix(header.Name.String(), "."); strings.HasSuffix(name, ".local") && hostname == "" {
				hostname = strings.TrimSuffix(name, ".local")
			}
		default:
			if err := parser.SkipAnswer(); err != nil {
				return names, hostname
			}
		}
	}
	return names, hostname
}

func isServiceName(name string) bool {
	return strings.Contains(name, "._tcp.") || strings.Contains(name, "._udp.") ||
		strings.HasSuffix(name, "._tcp.local") || strings.HasSuffix(name, "._udp.local")
}

// ============================================================================
// SSDP
// ============================================================================

var ssdpGroup = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}

const ssdpSearch = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1900\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"MX: 2\r\n" +
	"ST: ssdp:all\r\n\r\n"

// listenSSDP broadcasts an M-SEARCH and collects UPnP responses
func (p *PassiveProbe) listenSSDP(ctx context.Context) []domain.Observation {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		log.Printf("ssdp listener unavailable: %v", err)
		return nil
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP([]byte(ssdpSearch), ssdpGroup); err != nil {
		log.Printf("ssdp search failed: %v", err)
		return nil
	}

	seen := make(map[string]*domain.SSDPPayload)
	deadline := time.Now().Add(p.cfg.Window)
	conn.SetReadDeadline(deadline)
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		payload := parseSSDPResponse(string(buf[:n]))
		if payload == nil {
			continue
		}
		// First response per host wins; later ones repeat the same
		// device description.
		ip := src.IP.String()
		if _, ok := seen[ip]; !ok {
			seen[ip] = payload
		}
	}

	now := time.Now().UTC()
	var observations []domain.Observation
	for ip, payload := range seen {
		observations = append(observations, domain.Observation{
			Source:          domain.SourceSSDP,
			IP:              ip,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceSSDP],
			Payload:         payload,
		})
	}
	return observations
}

// parseSSDPResponse extracts the interesting headers from an SSDP
// response or NOTIFY. Returns nil when nothing useful was present.
func parseSSDPResponse(text string) *domain.SSDPPayload {
	payload := &domain.SSDPPayload{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])
		switch key {
		case "server":
			payload.Server = value
		case "location":
			payload.Location = value
		case "usn":
			payload.USN = value
		case "st", "nt":
			payload.ST = value
		}
	}
	if payload.Server == "" && payload.Location == "" && payload.USN == "" && payload.ST == "" {
		return nil
	}
	return payload
}

// ============================================================================
// DHCP
// ============================================================================

// dhcpInfo is the parsed result of one BOOTP/DHCP broadcast
type dhcpInfo struct {
	MAC         string
	IP          string
	Hostname    string
	VendorClass string
	MessageType int
}

// listenDHCP captures DHCP broadcasts on the server port. Binding
// port 67 usually needs elevated privileges; without them the
// listener just reports unavailable.
func (p *PassiveProbe) listenDHCP(ctx context.Context) []domain.Observation {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 67})
	if err != nil {
		log.Printf("dhcp listener unavailable: %v", err)
		return nil
	}
	defer conn.Close()

	var observations []domain.Observation
	deadline := time.Now().Add(p.cfg.Window)
	conn.SetReadDeadline(deadline)
	buf := make([]byte, 1500)
	now := time.Now().UTC()
	for ctx.Err() == nil {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}
		info, err := parseDHCPPacket(buf[:n])
		if err != nil {
			continue
		}
		observations = append(observations, domain.Observation{
			Source:          domain.SourceDHCP,
			IP:              info.IP,
			MAC:             info.MAC,
			Hostname:        info.Hostname,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceDHCP],
			Payload: &domain.DHCPPayload{
				Hostname:    info.Hostname,
				VendorClass: info.VendorClass,
				MessageType: info.MessageType,
			},
		})
	}
	return observations
}

const dhcpOptionsOffset = 240 // fixed BOOTP header + magic cookie

var dhcpMagicCookie = []byte{0x63, 0x82, 0x53, 0x63}

// parseDHCPPacket decodes the BOOTP fixed header (client MAC and
// address) and walks the option list for hostname (12), vendor class
// (60), and message type (53).
func parseDHCPPacket(packet []byte) (*dhcpInfo, error) {
	if len(packet) < dhcpOptionsOffset {
		return nil, fmt.Errorf("packet too short: %d bytes", len(packet))
	}

	hlen := int(packet[2])
	if hlen != 6 {
		return nil, fmt.Errorf("unexpected hardware address length %d", hlen)
	}

	info := &dhcpInfo{}

	chaddr := packet[28 : 28+6]
	info.MAC = domain.NormalizeMAC(net.HardwareAddr(chaddr).String())

	// ciaddr is only set on renewals; requests during initial lease
	// acquisition leave it zero.
	ciaddr := binary.BigEndian.Uint32(packet[12:16])
	if ciaddr != 0 {
		info.IP = net.IPv4(packet[12], packet[13], packet[14], packet[15]).String()
	}

	cookie := packet[236:240]
	if string(cookie) != string(dhcpMagicCookie) {
		return nil, fmt.Errorf("missing DHCP magic cookie")
	}

	options := packet[dhcpOptionsOffset:]
	for i := 0; i < len(options); {
		code := options[i]
		if code == 0 { // pad
			i++
			continue
		}
		if code == 255 { // end
			break
		}
		if i+1 >= len(options) {
			break
		}
		length := int(options[i+1])
		if i+2+length > len(options) {
			break
		}
		value := options[i+2 : i+2+length]
		switch code {
		case 12:
			info.Hostname = string(value)
		case 60:
			info.VendorClass = string(value)
		case 53:
			if length >= 1 {
				info.MessageType = int(value[0])
			}
		}
		i += 2 + length
	}

	if info.MAC == "" {
		return nil, fmt.Errorf("packet has no client MAC")
	}
	return info, nil
}
