package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"vigilarium/internal/domain"
)

// ActiveConfig holds configuration for the fast active sweep
type ActiveConfig struct {
	// CIDR to sweep; autodetected from the LAN interface when empty
	CIDR string
	// DiscoveryPorts are probed to find live hosts
	DiscoveryPorts []int
	// Timeout for individual connection attempts
	Timeout time.Duration
	// MaxConcurrent limits parallel probe operations
	MaxConcurrent int
	// Deltas maps sources to their confidence contribution
	Deltas map[domain.Source]int
}

// ActiveProbe sweeps the LAN with TCP connect probes, enriches live
// hosts from the local ARP cache and OUI table, and grabs HTTP
// banners where a web port answers.
type ActiveProbe struct {
	cfg     ActiveConfig
	arpPath string
}

// NewActiveProbe creates the fast sweep probe
func NewActiveProbe(cfg ActiveConfig) *ActiveProbe {
	if len(cfg.DiscoveryPorts) == 0 {
		cfg.DiscoveryPorts = []int{22, 80, 443, 445, 3389, 5900, 8080}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 200
	}
	return &ActiveProbe{cfg: cfg, arpPath: "/proc/net/arp"}
}

// Name returns the probe identifier
func (p *ActiveProbe) Name() string { return "active" }

// Collect sweeps the configured CIDR and returns observations for
// every live host found.
func (p *ActiveProbe) Collect(ctx context.Context) ([]domain.Observation, error) {
	cidr := p.cfg.CIDR
	if cidr == "" {
		detected, err := DetectLANCIDR()
		if err != nil {
			return nil, fmt.Errorf("no scan CIDR configured and autodetect failed: %w", err)
		}
		cidr = detected
	}

	ips, err := expandCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
	}

	log.Printf("active sweep: %s (%d addresses, ports %v)", cidr, len(ips), p.cfg.DiscoveryPorts)
	live := p.discoverHosts(ctx, ips)
	if len(live) == 0 {
		return nil, nil
	}

	arp := p.readARPCache()
	now := time.Now().UTC()

	var observations []domain.Observation
	hosts := make([]string, 0, len(live))
	for ip := range live {
		hosts = append(hosts, ip)
	}
	sort.Strings(hosts)

	for _, ip := range hosts {
		ports := live[ip]
		sort.Ints(ports)
		mac := arp[ip]

		scan := domain.Observation{
			Source:          domain.SourceActiveScan,
			IP:              ip,
			MAC:             mac,
			Timestamp:       now,
			ConfidenceDelta: p.cfg.Deltas[domain.SourceActiveScan],
			Payload:         &domain.ActiveScanPayload{OpenPorts: portServices(ports)},
		}
		observations = append(observations, scan)

		if mac != "" {
			vendor := LookupVendor(mac)
			observations = append(observations, domain.Observation{
				Source:          domain.SourceARPBroadcast,
				IP:              ip,
				MAC:             mac,
				Timestamp:       now,
				ConfidenceDelta: p.cfg.Deltas[domain.SourceARPBroadcast],
				Payload:         &domain.ARPPayload{Vendor: vendor, State: "reachable"},
			})
			if vendor != "" {
				observations = append(observations, domain.Observation{
					Source:          domain.SourceOUI,
					IP:              ip,
					MAC:             mac,
					Timestamp:       now,
					ConfidenceDelta: p.cfg.Deltas[domain.SourceOUI],
					Payload:         &domain.OUIPayload{Vendor: vendor},
				})
			}
		}

		if banner := p.grabBanners(ctx, ip, ports); banner != nil {
			observations = append(observations, domain.Observation{
				Source:          domain.SourceHTTPBanner,
				IP:              ip,
				MAC:             mac,
				Timestamp:       now,
				ConfidenceDelta: p.cfg.Deltas[domain.SourceHTTPBanner],
				Payload:         banner,
			})
		}
	}

	log.Printf("active sweep: %d live hosts, %d observations", len(hosts), len(observations))
	return observations, nil
}

// discoverHosts probes discovery ports across a worker pool and
// returns the open ports found per live host.
func (p *ActiveProbe) discoverHosts(ctx context.Context, ips []string) map[string][]int {
	live := make(map[string][]int)
	var mu sync.Mutex

	type probeJob struct {
		ip   string
		port int
	}
	jobs := make(chan probeJob, len(ips)*len(p.cfg.DiscoveryPorts))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.MaxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
					if p.probePort(ctx, job.ip, job.port) {
						mu.Lock()
						live[job.ip] = append(live[job.ip], job.port)
						mu.Unlock()
					}
				}
			}
		}()
	}

	for _, ip := range ips {
		for _, port := range p.cfg.DiscoveryPorts {
			jobs <- probeJob{ip: ip, port: port}
		}
	}
	close(jobs)
	wg.Wait()

	return live
}

// probePort attempts to connect to a TCP port
func (p *ActiveProbe) probePort(ctx context.Context, ip string, port int) bool {
	addr := fmt.Sprintf("%s:%d", ip, port)
	dialer := net.Dialer{Timeout: p.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// readARPCache maps IPs to MACs from the kernel neighbour table.
// Best-effort: containers without host networking see nothing.
func (p *ActiveProbe) readARPCache() map[string]string {
	f, err := os.Open(p.arpPath)
	if err != nil {
		return nil
	}
	defer f.Close()
	return parseARPTable(f)
}

// parseARPTable reads /proc/net/arp format: header line, then
// "IP address  HW type  Flags  HW address  Mask  Device" rows.
// Only complete entries (flags 0x2) with a real MAC are kept.
func parseARPTable(r io.Reader) map[string]string {
	table := make(map[string]string)
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		ip, flags, mac := fields[0], fields[2], fields[3]
		if flags != "0x2" || mac == "00:00:00:00:00:00" {
			continue
		}
		table[ip] = domain.NormalizeMAC(mac)
	}
	return table
}

// grabBanners fetches HTTP headers from any open web ports
func (p *ActiveProbe) grabBanners(ctx context.Context, ip string, openPorts []int) *domain.BannerPayload {
	client := &http.Client{
		Timeout: p.cfg.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var banners []domain.PortBanner
	for _, port := range openPorts {
		if port != 80 && port != 8080 {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, fmt.Sprintf("http://%s:%d/", ip, port), nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()

		banner := domain.PortBanner{
			Port:      port,
			Server:    resp.Header.Get("Server"),
			PoweredBy: resp.Header.Get("X-Powered-By"),
		}
		if banner.Server != "" || banner.PoweredBy != "" {
			banners = append(banners, banner)
		}
	}

	if len(banners) == 0 {
		return nil
	}
	return &domain.BannerPayload{Banners: banners}
}

func portServices(ports []int) []domain.PortService {
	services := make([]domain.PortService, 0, len(ports))
	for _, port := range ports {
		services = append(services, domain.PortService{Port: port, Service: serviceName(port)})
	}
	return services
}
