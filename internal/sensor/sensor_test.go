package sensor

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vigilarium/internal/delivery"
	"vigilarium/internal/domain"
	"vigilarium/internal/probe"
)

type fakeSource struct {
	name         string
	observations []domain.Observation
	err          error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Collect(ctx context.Context) ([]domain.Observation, error) {
	return f.observations, f.err
}

type fakeDeliverer struct {
	mu      sync.Mutex
	batches [][]domain.Observation
	fired   chan struct{}
}

func newFakeDeliverer() *fakeDeliverer {
	return &fakeDeliverer{fired: make(chan struct{}, 16)}
}

func (f *fakeDeliverer) Deliver(ctx context.Context, observations []domain.Observation) (delivery.Result, error) {
	f.mu.Lock()
	f.batches = append(f.batches, observations)
	f.mu.Unlock()
	f.fired <- struct{}{}
	return delivery.Delivered, nil
}

func (f *fakeDeliverer) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func obs(source domain.Source, ip string) domain.Observation {
	return domain.Observation{
		Source:    source,
		Timestamp: time.Now().UTC(),
		IP:        ip,
	}
}

func TestRunSetMergesSourcesAndDelivers(t *testing.T) {
	dlv := newFakeDeliverer()
	fast := []probe.Source{
		&fakeSource{name: "a", observations: []domain.Observation{obs(domain.SourceActiveScan, "192.168.1.10")}},
		&fakeSource{name: "b", observations: []domain.Observation{obs(domain.SourceARPBroadcast, "192.168.1.11")}},
	}
	s := New(fast, nil, nil, dlv, 0, 0, testLogger())

	s.runSet(context.Background(), JobFastScan, s.fast)

	if dlv.batchCount() != 1 {
		t.Fatalf("expected one delivered batch, got %d", dlv.batchCount())
	}
	if got := len(dlv.batches[0]); got != 2 {
		t.Errorf("expected merged batch of 2 observations, got %d", got)
	}
}

func TestRunSetToleratesFailingProbe(t *testing.T) {
	dlv := newFakeDeliverer()
	fast := []probe.Source{
		&fakeSource{name: "broken", err: errors.New("interface down")},
		&fakeSource{name: "ok", observations: []domain.Observation{obs(domain.SourceActiveScan, "192.168.1.10")}},
	}
	s := New(fast, nil, nil, dlv, 0, 0, testLogger())

	s.runSet(context.Background(), JobFastScan, s.fast)

	if dlv.batchCount() != 1 {
		t.Fatalf("expected delivery despite failing probe, got %d batches", dlv.batchCount())
	}
	if got := len(dlv.batches[0]); got != 1 {
		t.Errorf("expected 1 observation from the healthy probe, got %d", got)
	}
}

func TestRunSetSkipsEmptyBatch(t *testing.T) {
	dlv := newFakeDeliverer()
	s := New([]probe.Source{&fakeSource{name: "quiet"}}, nil, nil, dlv, 0, 0, testLogger())

	s.runSet(context.Background(), JobFastScan, s.fast)

	if dlv.batchCount() != 0 {
		t.Errorf("expected no delivery for an empty batch, got %d", dlv.batchCount())
	}
}

func TestTriggerEndpoints(t *testing.T) {
	dlv := newFakeDeliverer()
	fast := []probe.Source{
		&fakeSource{name: "a", observations: []domain.Observation{obs(domain.SourceActiveScan, "192.168.1.10")}},
	}
	s := New(fast, fast, fast, dlv, 0, 0, testLogger())

	mux := http.NewServeMux()
	s.Routes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/scan/active", "/scan/passive", "/scan/run"} {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("POST %s: expected 202, got %d", path, resp.StatusCode)
		}
		select {
		case <-dlv.fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("POST %s: job never delivered", path)
		}
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health: expected 200, got %d", resp.StatusCode)
	}
}

func TestTriggerUnknownJobName(t *testing.T) {
	s := New(nil, nil, nil, newFakeDeliverer(), 0, 0, testLogger())
	if s.Trigger(context.Background(), "no-such-job") {
		t.Error("expected Trigger to report false for an unknown job")
	}
}
