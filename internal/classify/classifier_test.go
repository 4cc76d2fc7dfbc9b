package classify

import (
	"testing"

	"vigilarium/internal/domain"
)

func newObs(source domain.Source, payload domain.Payload) *domain.Observation {
	return &domain.Observation{
		ClientID: "c1",
		Source:   source,
		IP:       "192.168.1.20",
		Payload:  payload,
	}
}

func TestClassifyGooglecast(t *testing.T) {
	c := New()
	asset := domain.NewAsset("c1", "192.168.1.20", "")
	obs := newObs(domain.SourceMDNS, &domain.MDNSPayload{
		Names: []string{"Living-Room._googlecast._tcp.local"},
	})

	c.Apply(asset, obs, 30)

	if asset.DeviceType != "media_player" {
		t.Errorf("expected media_player, got %s", asset.DeviceType)
	}
	if asset.OSGuess != "android_tv" {
		t.Errorf("expected android_tv, got %s", asset.OSGuess)
	}
	hasTag := false
	for _, tag := range asset.Tags {
		if tag == "chromecast" {
			hasTag = true
		}
	}
	if !hasTag {
		t.Errorf("expected chromecast tag, got %v", asset.Tags)
	}
	if asset.ConfidenceScore < 90 {
		t.Errorf("expected confidence floor 90, got %d", asset.ConfidenceScore)
	}
}

func TestClassifyFirstMatchWinsPerCategory(t *testing.T) {
	c := New()
	asset := domain.NewAsset("c1", "192.168.1.20", "")
	// Advertises both AirPlay and a printer service; AirPlay is
	// ordered first and must win the device type.
	obs := newObs(domain.SourceMDNS, &domain.MDNSPayload{
		Names: []string{"tv._airplay._tcp.local", "tv._ipp._tcp.local"},
	})

	c.Apply(asset, obs, 30)

	if asset.DeviceType != "media_player" {
		t.Errorf("expected media_player from first rule, got %s", asset.DeviceType)
	}
	// Tags still accumulate from both rules.
	want := map[string]bool{"apple": false, "airplay": false, "printer": false}
	for _, tag := range asset.Tags {
		if _, ok := want[tag]; ok {
			want[tag] = true
		}
	}
	for tag, found := range want {
		if !found {
			t.Errorf("missing tag %s in %v", tag, asset.Tags)
		}
	}
}

func TestClassifyOUIVendorTiers(t *testing.T) {
	tests := []struct {
		name       string
		vendor     string
		deviceType string
		tag        string
	}{
		{"synology nas", "Synology Incorporated", "nas", "nas"},
		{"raspberry pi", "Raspberry Pi Foundation", "single_board_computer", "raspberry_pi"},
		{"apple tag only", "Apple, Inc.", "unknown", "apple_device"},
		{"hp printer", "Hewlett Packard", "printer", "printer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			asset := domain.NewAsset("c1", "192.168.1.20", "aa:bb:cc:00:11:22")
			obs := newObs(domain.SourceOUI, &domain.OUIPayload{Vendor: tt.vendor})
			c.Apply(asset, obs, 10)

			if asset.DeviceType != tt.deviceType {
				t.Errorf("expected device type %s, got %s", tt.deviceType, asset.DeviceType)
			}
			found := false
			for _, tag := range asset.Tags {
				if tag == tt.tag {
					found = true
				}
			}
			if !found {
				t.Errorf("missing tag %s in %v", tt.tag, asset.Tags)
			}
		})
	}
}

func TestClassifyWeakSourceCannotClobberStrongField(t *testing.T) {
	c := New()
	asset := domain.NewAsset("c1", "192.168.1.20", "aa:bb:cc:00:11:22")

	// Strong mDNS evidence sets the device type at weight 30.
	c.Apply(asset, newObs(domain.SourceMDNS, &domain.MDNSPayload{
		Names: []string{"cast._googlecast._tcp.local"},
	}), 30)

	// A later OUI hint at weight 10 must not rewrite it.
	c.Apply(asset, newObs(domain.SourceOUI, &domain.OUIPayload{
		Vendor: "Synology Incorporated",
	}), 10)

	if asset.DeviceType != "media_player" {
		t.Errorf("weak OUI evidence clobbered device type: %s", asset.DeviceType)
	}
	// The manufacturer tag still lands.
	found := false
	for _, tag := range asset.Tags {
		if tag == "nas" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected nas tag to accumulate, got %v", asset.Tags)
	}
}

func TestClassifyDHCPVendorClass(t *testing.T) {
	c := New()
	asset := domain.NewAsset("c1", "192.168.1.20", "aa:bb:cc:00:11:22")
	obs := newObs(domain.SourceDHCP, &domain.DHCPPayload{
		Hostname:    "DESKTOP-ABC123",
		VendorClass: "MSFT 5.0",
	})

	c.Apply(asset, obs, 40)

	if asset.OSGuess != "windows" {
		t.Errorf("expected windows, got %s", asset.OSGuess)
	}
}

func TestClassifyNonMatchingObservationLeavesAssetAlone(t *testing.T) {
	c := New()
	asset := domain.NewAsset("c1", "192.168.1.20", "")
	obs := newObs(domain.SourceActiveScan, &domain.ActiveScanPayload{
		OpenPorts: []domain.PortService{{Port: 22}},
	})

	c.Apply(asset, obs, 20)

	if asset.DeviceType != "unknown" || asset.OSGuess != "unknown" || len(asset.Tags) != 0 {
		t.Errorf("expected no classification: %+v", asset)
	}
}
