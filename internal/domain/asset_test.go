package domain

import (
	"reflect"
	"testing"
)

func TestClassifyOrigin(t *testing.T) {
	tests := []struct {
		ip   string
		want OriginType
	}{
		{"192.168.1.10", OriginLAN},
		{"10.0.4.2", OriginLAN},
		{"172.17.0.2", OriginLocalInterface},
		{"172.31.255.1", OriginLocalInterface},
		{"127.0.0.1", OriginLoopback},
		{"169.254.10.10", OriginLinkLocal},
		{"8.8.8.8", OriginWAN},
		{"not-an-ip", OriginUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := ClassifyOrigin(tt.ip); got != tt.want {
				t.Errorf("ClassifyOrigin(%s) = %s, want %s", tt.ip, got, tt.want)
			}
		})
	}
}

func TestOriginSynthetic(t *testing.T) {
	for origin, want := range map[OriginType]bool{
		OriginLAN:            false,
		OriginWAN:            false,
		OriginUnknown:        false,
		OriginLoopback:       true,
		OriginLinkLocal:      true,
		OriginLocalInterface: true,
	} {
		if got := origin.Synthetic(); got != want {
			t.Errorf("%s.Synthetic() = %v, want %v", origin, got, want)
		}
	}
}

func TestSetFieldAuthority(t *testing.T) {
	weights := DefaultAuthorityWeights()
	asset := NewAsset("client-1", "192.168.1.50", "aa:bb:cc:dd:ee:ff")

	// A strong source sets the hostname first.
	if !asset.SetField(FieldHostname, "router-claimed", weights.Weight(SourceGatewayARP)) {
		t.Fatal("expected initial set to succeed")
	}

	// A weaker source must not clobber it.
	if asset.SetField(FieldHostname, "weak-guess", weights.Weight(SourceOUI)) {
		t.Error("weak source overwrote a stronger field")
	}
	if asset.Hostname != "router-claimed" {
		t.Errorf("hostname clobbered: %s", asset.Hostname)
	}

	// An equal-authority source wins the tie (most recent preferred).
	if !asset.SetField(FieldHostname, "fresh-claim", weights.Weight(SourceGatewayARP)) {
		t.Error("equal-authority update should win the tie")
	}
	if asset.Hostname != "fresh-claim" {
		t.Errorf("tie not resolved to newest value: %s", asset.Hostname)
	}

	// Unknown/empty values never land.
	if asset.SetField(FieldOSGuess, "unknown", weights.Weight(SourceGatewayARP)) {
		t.Error("\"unknown\" should never be applied")
	}
	if asset.SetField(FieldOSGuess, "", weights.Weight(SourceGatewayARP)) {
		t.Error("empty value should never be applied")
	}
}

func TestAddTagsAccumulates(t *testing.T) {
	asset := NewAsset("client-1", "192.168.1.60", "")
	asset.AddTags("chromecast", "apple")
	asset.AddTags("apple", "sonos", "")

	want := []string{"apple", "chromecast", "sonos"}
	if !reflect.DeepEqual(asset.Tags, want) {
		t.Errorf("tags = %v, want %v", asset.Tags, want)
	}
}

func TestAddConfidenceClamps(t *testing.T) {
	asset := NewAsset("client-1", "192.168.1.61", "")

	asset.AddConfidence(60)
	asset.AddConfidence(60)
	if asset.ConfidenceScore != 100 {
		t.Errorf("expected clamp to 100, got %d", asset.ConfidenceScore)
	}

	asset.AddConfidence(-500)
	if asset.ConfidenceScore != 0 {
		t.Errorf("expected clamp to 0, got %d", asset.ConfidenceScore)
	}
}

func TestNewAssetDefaults(t *testing.T) {
	asset := NewAsset("client-1", "192.168.1.9", "aa-bb-cc-00-11-22")
	if asset.Status != AssetStatusNew {
		t.Errorf("expected new status, got %s", asset.Status)
	}
	if asset.DeviceType != "unknown" || asset.OSGuess != "unknown" {
		t.Errorf("expected unknown classification defaults, got %s/%s", asset.DeviceType, asset.OSGuess)
	}
	if asset.MAC != "AA:BB:CC:00:11:22" {
		t.Errorf("MAC not normalized: %s", asset.MAC)
	}
	if asset.OriginType != OriginLAN {
		t.Errorf("expected lan origin, got %s", asset.OriginType)
	}
	if asset.IdentityKey() != "AA:BB:CC:00:11:22" {
		t.Errorf("unexpected identity key: %s", asset.IdentityKey())
	}
}
