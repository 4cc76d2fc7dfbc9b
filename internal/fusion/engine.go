package fusion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"vigilarium/internal/classify"
	"vigilarium/internal/domain"
	"vigilarium/internal/lifecycle"
	"vigilarium/internal/repository"
)

// ErrInvalidBatch marks a batch rejected at validation. No
// observation from a rejected batch is stored.
var ErrInvalidBatch = errors.New("invalid observation batch")

// Engine fuses observation batches into canonical assets. One engine
// serves all clients; concurrent batches touching the same identity
// key are serialized so at most one asset row exists per key.
type Engine struct {
	repo       repository.Repository
	classifier *classify.Classifier
	lifecycle  *lifecycle.Manager
	weights    domain.AuthorityWeights
	logger     *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a fusion engine
func NewEngine(repo repository.Repository, classifier *classify.Classifier, lc *lifecycle.Manager, weights domain.AuthorityWeights, logger *log.Logger) *Engine {
	if weights == nil {
		weights = domain.DefaultAuthorityWeights()
	}
	return &Engine{
		repo:       repo,
		classifier: classifier,
		lifecycle:  lc,
		weights:    weights,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Ingest validates, stores, and fuses one observation batch for a
// client. Validation is all-or-nothing: a single bad observation
// rejects the whole batch with ErrInvalidBatch. Returns how many
// observations were newly stored; replayed duplicates are dropped
// silently so delivery retries are safe.
func (e *Engine) Ingest(ctx context.Context, clientID string, observations []domain.Observation) (int, error) {
	if _, err := e.repo.GetClient(ctx, clientID); err != nil {
		return 0, fmt.Errorf("client %s: %w", clientID, err)
	}

	now := time.Now().UTC()
	for i := range observations {
		if err := observations[i].Validate(); err != nil {
			return 0, fmt.Errorf("%w: observation %d: %v", ErrInvalidBatch, i, err)
		}
		observations[i].ClientID = clientID
		if observations[i].Timestamp.IsZero() {
			observations[i].Timestamp = now
		}
	}

	groups := groupByIdentity(observations)
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	processed := 0
	for _, key := range keys {
		n, err := e.fuseGroup(ctx, clientID, key, groups[key])
		if err != nil {
			return processed, err
		}
		processed += n
	}
	return processed, nil
}

// fuseGroup stores and applies one identity key's observations under
// that key's lock. Observations are applied oldest first so the
// newest evidence ends up winning ties.
func (e *Engine) fuseGroup(ctx context.Context, clientID, key string, group []*domain.Observation) (int, error) {
	unlock := e.lock(clientID + "|" + key)
	defer unlock()

	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Timestamp.Before(group[j].Timestamp)
	})

	var fresh []*domain.Observation
	for _, obs := range group {
		inserted, err := e.repo.InsertObservation(ctx, obs)
		if err != nil {
			return 0, fmt.Errorf("store observation: %w", err)
		}
		if inserted {
			fresh = append(fresh, obs)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	asset, created, err := e.getOrCreateAsset(ctx, clientID, fresh[0])
	if err != nil {
		return 0, err
	}
	if created {
		// Seen times come from the evidence, not the wall clock, so
		// replayed history does not look freshly active.
		asset.FirstSeen = fresh[0].Timestamp
		asset.LastSeen = fresh[0].Timestamp
	}

	var openPorts []int
	portEvidence := false
	for _, obs := range fresh {
		ports, scanned := e.apply(asset, obs)
		openPorts = append(openPorts, ports...)
		portEvidence = portEvidence || scanned
	}
	if portEvidence {
		asset.SetOpenPorts(openPorts)
	}

	// One fusion cycle per batch regardless of how many
	// observations it carried.
	asset.TimesSeen++
	asset.UpdatedAt = time.Now().UTC()

	if created {
		if err := e.repo.UpsertAsset(ctx, asset); err != nil {
			return 0, fmt.Errorf("create asset: %w", err)
		}
		if err := e.lifecycle.OnCreated(ctx, asset); err != nil {
			return 0, err
		}
	}
	if err := e.lifecycle.OnEvidence(ctx, asset); err != nil {
		return 0, err
	}
	if err := e.repo.UpsertAsset(ctx, asset); err != nil {
		return 0, fmt.Errorf("persist asset: %w", err)
	}

	e.logger.Printf("fused %d observations into asset %s (%s, confidence %d, status %s)",
		len(fresh), asset.ID, asset.IdentityKey(), asset.ConfidenceScore, asset.Status)
	return len(fresh), nil
}

// apply folds one stored observation into the asset. It returns the
// open ports the observation reported and whether it was port
// evidence at all; a scan that found nothing open still counts.
func (e *Engine) apply(asset *domain.NetworkAsset, obs *domain.Observation) ([]int, bool) {
	weight := e.weights.Weight(obs.Source)

	if obs.IP != "" && obs.IP != asset.IP {
		asset.IP = obs.IP
		asset.OriginType = domain.ClassifyOrigin(obs.IP)
	}
	if obs.MAC != "" && asset.MAC == "" {
		asset.MAC = domain.NormalizeMAC(obs.MAC)
	}
	if obs.Timestamp.After(asset.LastSeen) {
		asset.LastSeen = obs.Timestamp
	}

	if obs.Hostname != "" {
		asset.SetField(domain.FieldHostname, obs.Hostname, weight)
	}

	var openPorts []int
	portEvidence := false
	switch p := obs.Payload.(type) {
	case *domain.DHCPPayload:
		asset.SetField(domain.FieldHostname, p.Hostname, weight)
	case *domain.MDNSPayload:
		asset.SetField(domain.FieldHostname, p.Hostname, weight)
	case *domain.OUIPayload:
		if p.Vendor != "" {
			asset.MACVendor = p.Vendor
		}
	case *domain.ARPPayload:
		if p.Vendor != "" && asset.MACVendor == "" {
			asset.MACVendor = p.Vendor
		}
	case *domain.ActiveScanPayload:
		portEvidence = true
		for _, port := range p.OpenPorts {
			openPorts = append(openPorts, port.Port)
		}
	case *domain.BannerPayload:
		portEvidence = true
		for _, banner := range p.Banners {
			openPorts = append(openPorts, banner.Port)
		}
	}

	asset.AddConfidence(obs.ConfidenceDelta)
	e.classifier.Apply(asset, obs, weight)
	return openPorts, portEvidence
}

func (e *Engine) getOrCreateAsset(ctx context.Context, clientID string, first *domain.Observation) (*domain.NetworkAsset, bool, error) {
	asset, err := e.repo.GetAssetByIdentity(ctx, clientID, first.MAC, first.IP)
	if err == nil {
		return asset, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lookup asset: %w", err)
	}
	return domain.NewAsset(clientID, first.IP, first.MAC), true, nil
}

// lock serializes fusion per client+identity key. The lock map grows
// with the number of distinct devices, which stays small on a LAN.
func (e *Engine) lock(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func groupByIdentity(observations []domain.Observation) map[string][]*domain.Observation {
	groups := make(map[string][]*domain.Observation)
	for i := range observations {
		key := observations[i].IdentityKey()
		groups[key] = append(groups[key], &observations[i])
	}
	return groups
}
