package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vigilarium/internal/classify"
	"vigilarium/internal/domain"
	"vigilarium/internal/fusion"
	"vigilarium/internal/lifecycle"
	"vigilarium/internal/repository/sqlite"
)

func newTestServer(t *testing.T) (*httptest.Server, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	if err := repo.EnsureClient(context.Background(), &domain.Client{ID: "c1", Name: "Test"}); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	lc := lifecycle.NewManager(repo, lifecycle.Config{PromoteAfterSeen: 2, RiskyPorts: []int{23, 445, 3389}}, logger)
	engine := fusion.NewEngine(repo, classify.New(), lc, domain.DefaultAuthorityWeights(), logger)

	mux := http.NewServeMux()
	NewNetworkHandler(repo, engine, 50).Routes(mux)
	srv := httptest.NewServer(Chain(mux, Recover))
	t.Cleanup(srv.Close)
	return srv, repo
}

func postObservations(t *testing.T, srv *httptest.Server, clientID string, batch ObservationBatch) *http.Response {
	t.Helper()
	body, err := json.Marshal(batch)
	if err != nil {
		t.Fatalf("failed to marshal batch: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/network/clients/"+clientID+"/observations", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func testBatch() ObservationBatch {
	return ObservationBatch{Observations: []domain.Observation{
		{
			Source:          domain.SourceMDNS,
			IP:              "192.168.1.20",
			MAC:             "aa:bb:cc:00:11:22",
			Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			ConfidenceDelta: 30,
			Payload:         &domain.MDNSPayload{Names: []string{"tv._googlecast._tcp.local"}, Hostname: "living-room"},
		},
		{
			Source:          domain.SourceActiveScan,
			IP:              "192.168.1.21",
			Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			ConfidenceDelta: 20,
			Payload:         &domain.ActiveScanPayload{OpenPorts: []domain.PortService{{Port: 22, Service: "ssh"}}},
		},
	}}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIngestObservations(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postObservations(t, srv, "c1", testBatch())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var result struct {
		Status    string `json:"status"`
		Processed int    `json:"processed"`
	}
	decodeBody(t, resp, &result)
	if result.Status != "ok" || result.Processed != 2 {
		t.Errorf("unexpected result: %+v", result)
	}

	// Replay returns 202 with processed 0.
	resp = postObservations(t, srv, "c1", testBatch())
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 on replay, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &result)
	if result.Processed != 0 {
		t.Errorf("replay should process 0, got %d", result.Processed)
	}
}

func TestIngestBareArrayBody(t *testing.T) {
	srv, _ := newTestServer(t)

	body, err := json.Marshal(testBatch().Observations)
	if err != nil {
		t.Fatalf("failed to marshal observations: %v", err)
	}
	resp, err := http.Post(srv.URL+"/api/network/clients/c1/observations", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	var result struct {
		Processed int `json:"processed"`
	}
	decodeBody(t, resp, &result)
	if result.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", result.Processed)
	}
}

func TestIngestUnknownClientReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postObservations(t, srv, "ghost", testBatch())
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestIngestInvalidBatchReturns400(t *testing.T) {
	srv, repo := newTestServer(t)

	resp := postObservations(t, srv, "c1", ObservationBatch{Observations: []domain.Observation{
		{Source: domain.SourceMDNS, IP: "192.168.1.20", Timestamp: time.Now()},
		{Source: domain.SourceMDNS, Timestamp: time.Now()}, // neither ip nor mac
	}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	// All-or-nothing: the valid observation must not have landed.
	assets, err := repo.ListAssets(context.Background(), "c1", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(assets) != 0 {
		t.Errorf("rejected batch leaked %d assets", len(assets))
	}
}

func TestListAssetsScopes(t *testing.T) {
	srv, _ := newTestServer(t)

	batch := ObservationBatch{Observations: []domain.Observation{
		{Source: domain.SourceActiveScan, IP: "192.168.1.21", Timestamp: time.Now().UTC(), ConfidenceDelta: 20},
		{Source: domain.SourceActiveScan, IP: "172.17.0.2", Timestamp: time.Now().UTC(), ConfidenceDelta: 20},
	}}
	if resp := postObservations(t, srv, "c1", batch); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("seed ingest failed: %d", resp.StatusCode)
	}

	for _, tt := range []struct {
		scope string
		want  int
	}{
		{"", 1}, // default lan
		{"?scope=lan", 1},
		{"?scope=all", 2},
	} {
		resp, err := http.Get(srv.URL + "/api/network/clients/c1/network-assets" + tt.scope)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		var assets []domain.NetworkAsset
		decodeBody(t, resp, &assets)
		resp.Body.Close()
		if len(assets) != tt.want {
			t.Errorf("scope %q: expected %d assets, got %d", tt.scope, tt.want, len(assets))
		}
	}

	resp, err := http.Get(srv.URL + "/api/network/clients/c1/network-assets?scope=bogus")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bogus scope, got %d", resp.StatusCode)
	}
}

func TestEvidenceAndHistoryEndpoints(t *testing.T) {
	srv, repo := newTestServer(t)

	if resp := postObservations(t, srv, "c1", testBatch()); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("seed ingest failed: %d", resp.StatusCode)
	}

	asset, err := repo.GetAssetByIdentity(context.Background(), "c1", "aa:bb:cc:00:11:22", "")
	if err != nil {
		t.Fatalf("asset not created: %v", err)
	}

	base := fmt.Sprintf("%s/api/network/clients/c1/network-assets/%s", srv.URL, asset.ID)

	resp, err := http.Get(base + "/evidence")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var evidence []domain.Observation
	decodeBody(t, resp, &evidence)
	resp.Body.Close()
	if len(evidence) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(evidence))
	}
	if _, ok := evidence[0].Payload.(*domain.MDNSPayload); !ok {
		t.Errorf("payload type lost over the wire: %#v", evidence[0].Payload)
	}

	resp, err = http.Get(base + "/history")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var history []domain.AssetHistory
	decodeBody(t, resp, &history)
	resp.Body.Close()
	if len(history) != 1 || history[0].NewStatus != domain.AssetStatusNew {
		t.Errorf("expected birth history row, got %+v", history)
	}

	resp, err = http.Get(srv.URL + "/api/network/clients/c1/network-assets/nope/evidence")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown asset, got %d", resp.StatusCode)
	}
}

func TestSummary(t *testing.T) {
	srv, _ := newTestServer(t)

	if resp := postObservations(t, srv, "c1", testBatch()); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("seed ingest failed: %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/api/network/clients/c1/network-assets/summary")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var summary SummaryResponse
	decodeBody(t, resp, &summary)
	if summary.TotalAssets != 2 {
		t.Errorf("expected 2 assets, got %d", summary.TotalAssets)
	}
	if summary.ByStatus["new"] != 2 {
		t.Errorf("expected 2 new assets, got %+v", summary.ByStatus)
	}
	if summary.ByDeviceType["media_player"] != 1 {
		t.Errorf("expected classified media_player, got %+v", summary.ByDeviceType)
	}
	// The seed batch carries old timestamps, so nothing is active.
	if summary.Active != 0 {
		t.Errorf("expected 0 active assets, got %d", summary.Active)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	mux.HandleFunc("GET /api/thing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})
	srv := httptest.NewServer(Chain(mux, APIKey("secret")))
	defer srv.Close()

	// Health stays open.
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should bypass key check: %d", resp.StatusCode)
	}

	// No key.
	resp, err = http.Get(srv.URL + "/api/thing")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without key, got %d", resp.StatusCode)
	}

	// Correct key.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/thing", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with key, got %d", resp.StatusCode)
	}
}
