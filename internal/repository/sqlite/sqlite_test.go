package sqlite

import (
	"context"
	"testing"
	"time"

	"vigilarium/internal/domain"
	"vigilarium/internal/repository"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestRepo creates an in-memory SQLite repository for testing
func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})
	return repo
}

// seedClient ensures a client exists for foreign keys
func seedClient(t *testing.T, repo *Repository, id string) {
	t.Helper()
	if err := repo.EnsureClient(context.Background(), &domain.Client{ID: id, Name: "Test Client"}); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
}

// assertNoError fails the test if err is not nil
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ============================================================================
// Client Tests
// ============================================================================

func TestEnsureClientIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	assertNoError(t, repo.EnsureClient(ctx, &domain.Client{ID: "c1", Name: "First"}))
	assertNoError(t, repo.EnsureClient(ctx, &domain.Client{ID: "c1", Name: "Renamed"}))

	client, err := repo.GetClient(ctx, "c1")
	assertNoError(t, err)
	if client.Name != "Renamed" {
		t.Errorf("expected renamed client, got %s", client.Name)
	}
}

func TestGetClientNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetClient(context.Background(), "ghost")
	if err != repository.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================================
// Observation Tests
// ============================================================================

func TestInsertObservationDedup(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	obs := domain.Observation{
		ClientID:        "c1",
		Source:          domain.SourceMDNS,
		IP:              "192.168.1.20",
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ConfidenceDelta: 30,
		Payload:         &domain.MDNSPayload{Names: []string{"_googlecast._tcp"}},
	}

	inserted, err := repo.InsertObservation(ctx, &obs)
	assertNoError(t, err)
	if !inserted {
		t.Fatal("first insert should succeed")
	}

	// Replaying the same observation must be suppressed.
	replay := obs
	replay.ID = ""
	inserted, err = repo.InsertObservation(ctx, &replay)
	assertNoError(t, err)
	if inserted {
		t.Error("replayed observation should be dedup-suppressed")
	}
}

func TestListEvidenceMatchesMACOrIP(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []domain.Observation{
		{ClientID: "c1", Source: domain.SourceGatewayARP, IP: "192.168.1.50", MAC: "AA:BB:CC:00:11:22", Timestamp: base, ConfidenceDelta: 60},
		{ClientID: "c1", Source: domain.SourceMDNS, MAC: "aa:bb:cc:00:11:22", Timestamp: base.Add(time.Minute), ConfidenceDelta: 30,
			Payload: &domain.MDNSPayload{Hostname: "tv"}},
		{ClientID: "c1", Source: domain.SourceSSDP, IP: "192.168.1.50", Timestamp: base.Add(2 * time.Minute), ConfidenceDelta: 25},
		{ClientID: "c1", Source: domain.SourceActiveScan, IP: "192.168.1.99", Timestamp: base, ConfidenceDelta: 20},
	}
	for i := range seed {
		_, err := repo.InsertObservation(ctx, &seed[i])
		assertNoError(t, err)
	}

	evidence, err := repo.ListEvidence(ctx, "c1", "AA:BB:CC:00:11:22", "192.168.1.50", 10)
	assertNoError(t, err)
	if len(evidence) != 3 {
		t.Fatalf("expected 3 matching observations, got %d", len(evidence))
	}
	// Newest first.
	if evidence[0].Source != domain.SourceSSDP {
		t.Errorf("expected newest observation first, got %s", evidence[0].Source)
	}
	// Payloads survive the round trip as concrete types.
	for _, e := range evidence {
		if e.Source == domain.SourceMDNS {
			p, ok := e.Payload.(*domain.MDNSPayload)
			if !ok || p.Hostname != "tv" {
				t.Errorf("mdns payload lost: %#v", e.Payload)
			}
		}
	}

	// Limit applies.
	limited, err := repo.ListEvidence(ctx, "c1", "AA:BB:CC:00:11:22", "192.168.1.50", 1)
	assertNoError(t, err)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

// ============================================================================
// Asset Tests
// ============================================================================

func TestUpsertAssetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	asset := domain.NewAsset("c1", "192.168.1.50", "AA:BB:CC:00:11:22")
	asset.Hostname = "printer"
	asset.Tags = []string{"hp", "printer"}
	asset.FieldAuthority = map[string]int{domain.FieldHostname: 30}
	asset.ConfidenceScore = 42
	asset.TimesSeen = 3
	asset.SetOpenPorts([]int{443, 80, 9100})

	assertNoError(t, repo.UpsertAsset(ctx, asset))
	if asset.ID == "" {
		t.Fatal("upsert should assign an ID")
	}

	got, err := repo.GetAsset(ctx, "c1", asset.ID)
	assertNoError(t, err)
	if got.Hostname != "printer" || got.ConfidenceScore != 42 || got.TimesSeen != 3 {
		t.Errorf("asset fields lost: %+v", got)
	}
	if got.FieldAuthority[domain.FieldHostname] != 30 {
		t.Errorf("field authority lost: %+v", got.FieldAuthority)
	}
	if len(got.Tags) != 2 {
		t.Errorf("tags lost: %v", got.Tags)
	}
	if len(got.OpenPorts) != 3 || got.OpenPorts[0] != 80 {
		t.Errorf("open ports lost or unsorted: %v", got.OpenPorts)
	}
}

func TestUpsertAssetIdentityConflictUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	first := domain.NewAsset("c1", "192.168.1.60", "AA:BB:CC:DD:EE:FF")
	assertNoError(t, repo.UpsertAsset(ctx, first))

	// A second record for the same identity key must update, not duplicate.
	second := domain.NewAsset("c1", "192.168.1.61", "AA:BB:CC:DD:EE:FF")
	second.ID = first.ID
	second.TimesSeen = 5
	assertNoError(t, repo.UpsertAsset(ctx, second))

	assets, err := repo.ListAssets(ctx, "c1", true)
	assertNoError(t, err)
	if len(assets) != 1 {
		t.Fatalf("expected single asset row, got %d", len(assets))
	}
	if assets[0].IP != "192.168.1.61" || assets[0].TimesSeen != 5 {
		t.Errorf("conflict update lost fields: %+v", assets[0])
	}
}

func TestGetAssetByIdentityPrefersMAC(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	withMAC := domain.NewAsset("c1", "192.168.1.70", "11:22:33:44:55:66")
	assertNoError(t, repo.UpsertAsset(ctx, withMAC))
	ipOnly := domain.NewAsset("c1", "192.168.1.71", "")
	assertNoError(t, repo.UpsertAsset(ctx, ipOnly))

	got, err := repo.GetAssetByIdentity(ctx, "c1", "11-22-33-44-55-66", "192.168.1.71")
	assertNoError(t, err)
	if got.ID != withMAC.ID {
		t.Errorf("expected MAC match to win, got asset %s", got.ID)
	}

	got, err = repo.GetAssetByIdentity(ctx, "c1", "", "192.168.1.71")
	assertNoError(t, err)
	if got.ID != ipOnly.ID {
		t.Errorf("expected IP fallback, got asset %s", got.ID)
	}

	_, err = repo.GetAssetByIdentity(ctx, "c1", "FF:FF:FF:FF:FF:FF", "10.9.9.9")
	if err != repository.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIdentityIPFallbackSkipsOtherMAC(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	// 192.168.1.80 is bound to one MAC. A lookup holding a different
	// MAC must not fall back onto it, so a DHCP lease reassignment
	// yields a new asset instead of merging two devices.
	bound := domain.NewAsset("c1", "192.168.1.80", "11:22:33:44:55:66")
	assertNoError(t, repo.UpsertAsset(ctx, bound))

	_, err := repo.GetAssetByIdentity(ctx, "c1", "AA:BB:CC:DD:EE:FF", "192.168.1.80")
	if err != repository.ErrNotFound {
		t.Errorf("expected ErrNotFound for foreign MAC, got %v", err)
	}

	// A MAC-less lookup still fuses into the MAC-bearing asset.
	got, err := repo.GetAssetByIdentity(ctx, "c1", "", "192.168.1.80")
	assertNoError(t, err)
	if got.ID != bound.ID {
		t.Errorf("expected IP fallback without MAC, got asset %s", got.ID)
	}

	// A MAC-bearing lookup can still claim a MAC-less asset for the
	// same address.
	ipOnly := domain.NewAsset("c1", "192.168.1.81", "")
	assertNoError(t, repo.UpsertAsset(ctx, ipOnly))
	got, err = repo.GetAssetByIdentity(ctx, "c1", "AA:BB:CC:DD:EE:FF", "192.168.1.81")
	assertNoError(t, err)
	if got.ID != ipOnly.ID {
		t.Errorf("expected MAC-less asset via IP, got asset %s", got.ID)
	}
}

func TestListAssetsLanScopeFiltersSynthetic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	lan := domain.NewAsset("c1", "192.168.1.80", "")
	docker := domain.NewAsset("c1", "172.17.0.5", "")
	loop := domain.NewAsset("c1", "127.0.0.1", "")
	for _, a := range []*domain.NetworkAsset{lan, docker, loop} {
		assertNoError(t, repo.UpsertAsset(ctx, a))
	}

	all, err := repo.ListAssets(ctx, "c1", true)
	assertNoError(t, err)
	if len(all) != 3 {
		t.Errorf("expected 3 assets in all scope, got %d", len(all))
	}

	lanOnly, err := repo.ListAssets(ctx, "c1", false)
	assertNoError(t, err)
	if len(lanOnly) != 1 || lanOnly[0].IP != "192.168.1.80" {
		t.Errorf("lan scope should exclude synthetic origins: %+v", lanOnly)
	}
}

func TestListStaleAssets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	now := time.Now().UTC()

	fresh := domain.NewAsset("c1", "192.168.1.90", "")
	fresh.Status = domain.AssetStatusStable
	fresh.LastSeen = now
	assertNoError(t, repo.UpsertAsset(ctx, fresh))

	stale := domain.NewAsset("c1", "192.168.1.91", "")
	stale.Status = domain.AssetStatusStable
	stale.LastSeen = now.Add(-10 * 24 * time.Hour)
	assertNoError(t, repo.UpsertAsset(ctx, stale))

	gone := domain.NewAsset("c1", "192.168.1.92", "")
	gone.Status = domain.AssetStatusGone
	gone.LastSeen = now.Add(-30 * 24 * time.Hour)
	assertNoError(t, repo.UpsertAsset(ctx, gone))

	got, err := repo.ListStaleAssets(ctx, now.Add(-7*24*time.Hour))
	assertNoError(t, err)
	if len(got) != 1 || got[0].IP != "192.168.1.91" {
		t.Errorf("expected only the stale non-gone asset: %+v", got)
	}
}

// ============================================================================
// History Tests
// ============================================================================

func TestHistoryAppendAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedClient(t, repo, "c1")

	asset := domain.NewAsset("c1", "192.168.1.95", "")
	assertNoError(t, repo.UpsertAsset(ctx, asset))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assertNoError(t, repo.AppendHistory(ctx, &domain.AssetHistory{
		AssetID: asset.ID, PreviousStatus: "", NewStatus: domain.AssetStatusNew,
		Reason: "first detection", ChangedAt: base,
	}))
	assertNoError(t, repo.AppendHistory(ctx, &domain.AssetHistory{
		AssetID: asset.ID, PreviousStatus: domain.AssetStatusNew, NewStatus: domain.AssetStatusStable,
		Reason: "promoted from new to stable", ChangedAt: base.Add(time.Hour),
	}))

	history, err := repo.ListHistory(ctx, asset.ID)
	assertNoError(t, err)
	if len(history) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(history))
	}
	if history[0].NewStatus != domain.AssetStatusStable {
		t.Errorf("expected newest transition first, got %s", history[0].NewStatus)
	}
}
