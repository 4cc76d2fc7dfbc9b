package classify

import (
	"strings"

	"vigilarium/internal/domain"
)

// rule proposes identity attributes when an observation matches.
// Rules are ordered strongest-signal first; within one observation
// the first matching rule wins each category, while tags from every
// matching rule accumulate.
type rule struct {
	match           func(obs *domain.Observation) bool
	deviceType      string
	osGuess         string
	tags            []string
	confidenceFloor int
}

// Classifier derives device type, OS guess, and tags from raw
// observation evidence. The rule table is built once and never
// mutated after construction.
type Classifier struct {
	rules []rule
}

// New builds a classifier with the default rule table
func New() *Classifier {
	return &Classifier{rules: defaultRules()}
}

// Apply runs the rule table against one observation and folds the
// results into the asset. Field writes go through authority-weighted
// conflict resolution using the observation source's weight.
func (c *Classifier) Apply(asset *domain.NetworkAsset, obs *domain.Observation, weight int) {
	var typeSet, osSet bool
	for _, r := range c.rules {
		if !r.match(obs) {
			continue
		}
		if r.deviceType != "" && !typeSet {
			asset.SetField(domain.FieldDeviceType, r.deviceType, weight)
			typeSet = true
		}
		if r.osGuess != "" && !osSet {
			asset.SetField(domain.FieldOSGuess, r.osGuess, weight)
			osSet = true
		}
		asset.AddTags(r.tags...)
		if r.confidenceFloor > asset.ConfidenceScore {
			asset.ConfidenceScore = domain.ClampConfidence(r.confidenceFloor)
		}
	}
}

// defaultRules is ordered by signal strength: service advertisements
// name the device directly, SSDP and banners name the software, and
// OUI vendor prefixes only hint at the manufacturer.
func defaultRules() []rule {
	return []rule{
		// mDNS service types are the strongest evidence we see.
		{
			match:           mdnsName("_googlecast"),
			deviceType:      "media_player",
			osGuess:         "android_tv",
			tags:            []string{"chromecast", "google"},
			confidenceFloor: 90,
		},
		{
			match:           anyOf(mdnsName("_airplay"), mdnsName("_raop")),
			deviceType:      "media_player",
			osGuess:         "tvos_or_ios",
			tags:            []string{"apple", "airplay"},
			confidenceFloor: 85,
		},
		{
			match:           anyOf(mdnsName("_printer"), mdnsName("_ipp")),
			deviceType:      "printer",
			tags:            []string{"printer"},
			confidenceFloor: 80,
		},
		{
			match:           mdnsName("_hap"),
			deviceType:      "iot_device",
			tags:            []string{"homekit"},
			confidenceFloor: 75,
		},

		// SSDP server strings identify media gear by name.
		{
			match:           ssdpServer("sonos"),
			deviceType:      "speaker",
			tags:            []string{"sonos"},
			confidenceFloor: 85,
		},
		{
			match:           ssdpServer("roku"),
			deviceType:      "media_player",
			osGuess:         "roku_os",
			tags:            []string{"roku"},
			confidenceFloor: 85,
		},

		// DHCP vendor class leaks the OS family.
		{
			match:   dhcpVendorClass("msft"),
			osGuess: "windows",
			tags:    []string{"windows"},
		},
		{
			match:   dhcpVendorClass("android"),
			osGuess: "android",
			tags:    []string{"android"},
		},

		// HTTP banners name embedded management software.
		{
			match:      bannerServer("routeros"),
			deviceType: "router",
			osGuess:    "routeros",
			tags:       []string{"mikrotik"},
		},
		{
			match:      bannerServer("hikvision"),
			deviceType: "camera",
			tags:       []string{"hikvision"},
		},

		// OUI vendor prefixes are the weakest tier: manufacturer only.
		{
			match: ouiVendor("apple"),
			tags:  []string{"apple_device"},
		},
		{
			match:      anyOf(ouiVendor("synology"), ouiVendor("qnap")),
			deviceType: "nas",
			tags:       []string{"nas"},
		},
		{
			match:      anyOf(ouiVendor("hikvision"), ouiVendor("dahua")),
			deviceType: "camera",
			tags:       []string{"camera"},
		},
		{
			match:      anyOf(ouiVendor("epson"), ouiVendor("hewlett"), ouiVendor("brother"), ouiVendor("canon")),
			deviceType: "printer",
			tags:       []string{"printer"},
		},
		{
			match:      ouiVendor("raspberry"),
			deviceType: "single_board_computer",
			osGuess:    "linux",
			tags:       []string{"raspberry_pi"},
		},
		{
			match:      ouiVendor("espressif"),
			deviceType: "iot_device",
			tags:       []string{"esp"},
		},
		{
			match: anyOf(ouiVendor("ubiquiti"), ouiVendor("tp-link"), ouiVendor("netgear"), ouiVendor("mikrotik")),
			tags:  []string{"network_gear"},
		},
	}
}

// ============================================================================
// Matchers
// ============================================================================

func anyOf(matchers ...func(*domain.Observation) bool) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		for _, m := range matchers {
			if m(obs) {
				return true
			}
		}
		return false
	}
}

func mdnsName(fragment string) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		p, ok := obs.Payload.(*domain.MDNSPayload)
		if !ok {
			return false
		}
		for _, name := range p.Names {
			if strings.Contains(strings.ToLower(name), fragment) {
				return true
			}
		}
		return false
	}
}

func ssdpServer(fragment string) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		p, ok := obs.Payload.(*domain.SSDPPayload)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(p.Server), fragment) ||
			strings.Contains(strings.ToLower(p.ST), fragment)
	}
}

func dhcpVendorClass(fragment string) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		p, ok := obs.Payload.(*domain.DHCPPayload)
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(p.VendorClass), fragment)
	}
}

func bannerServer(fragment string) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		p, ok := obs.Payload.(*domain.BannerPayload)
		if !ok {
			return false
		}
		for _, b := range p.Banners {
			if strings.Contains(strings.ToLower(b.Server), fragment) ||
				strings.Contains(strings.ToLower(b.PoweredBy), fragment) {
				return true
			}
		}
		return false
	}
}

func ouiVendor(fragment string) func(*domain.Observation) bool {
	return func(obs *domain.Observation) bool {
		switch p := obs.Payload.(type) {
		case *domain.OUIPayload:
			return strings.Contains(strings.ToLower(p.Vendor), fragment)
		case *domain.ARPPayload:
			return strings.Contains(strings.ToLower(p.Vendor), fragment)
		}
		return false
	}
}
