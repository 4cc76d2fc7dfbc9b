package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"vigilarium/internal/domain"
	"vigilarium/internal/repository"
)

// Config controls the presence state machine
type Config struct {
	// PromoteAfterSeen is how many fusion cycles an asset must be
	// seen in before new promotes to stable.
	PromoteAfterSeen int

	// StalenessWindow is how long without evidence before an asset
	// is marked gone.
	StalenessWindow time.Duration

	// SweepInterval is how often the staleness sweep runs.
	SweepInterval time.Duration

	// RiskyPorts flags an asset at_risk when open.
	RiskyPorts []int
}

// Manager owns every asset status transition. Nothing else in the
// system writes Status or asset_history rows.
type Manager struct {
	repo   repository.Repository
	cfg    Config
	logger *log.Logger
}

// NewManager creates a lifecycle manager
func NewManager(repo repository.Repository, cfg Config, logger *log.Logger) *Manager {
	if cfg.PromoteAfterSeen <= 0 {
		cfg.PromoteAfterSeen = 2
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 168 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	return &Manager{repo: repo, cfg: cfg, logger: logger}
}

// OnCreated records the birth of an asset in its history. Call once,
// after the asset row exists.
func (m *Manager) OnCreated(ctx context.Context, asset *domain.NetworkAsset) error {
	return m.record(ctx, asset, "", domain.AssetStatusNew, "first detection")
}

// OnEvidence applies status transitions triggered by fresh evidence:
// gone assets reopen, new assets promote once seen enough, and the
// asset's last known open ports flag or clear at_risk. The open-port
// set persists on the asset, so a batch without port evidence leaves
// the risk verdict alone.
func (m *Manager) OnEvidence(ctx context.Context, asset *domain.NetworkAsset) error {
	if asset.Status == domain.AssetStatusGone {
		if err := m.transition(ctx, asset, domain.AssetStatusStable, "reappeared after being marked gone"); err != nil {
			return err
		}
	}

	if asset.Status == domain.AssetStatusNew && asset.TimesSeen >= m.cfg.PromoteAfterSeen {
		if err := m.transition(ctx, asset, domain.AssetStatusStable,
			fmt.Sprintf("promoted after %d sightings", asset.TimesSeen)); err != nil {
			return err
		}
	}

	risky := m.riskyOpen(asset.OpenPorts)
	if asset.Status == domain.AssetStatusStable && len(risky) > 0 {
		if err := m.transition(ctx, asset, domain.AssetStatusAtRisk,
			fmt.Sprintf("risky ports open: %v", risky)); err != nil {
			return err
		}
	}
	if asset.Status == domain.AssetStatusAtRisk && len(risky) == 0 {
		if err := m.transition(ctx, asset, domain.AssetStatusStable, "risk resolved"); err != nil {
			return err
		}
	}

	return nil
}

// Sweep marks assets without recent evidence as gone and reports how
// many were transitioned. Gone assets are retained, never deleted.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-m.cfg.StalenessWindow)
	stale, err := m.repo.ListStaleAssets(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale assets: %w", err)
	}

	swept := 0
	for i := range stale {
		asset := &stale[i]
		if err := m.transition(ctx, asset, domain.AssetStatusGone, "no recent evidence"); err != nil {
			return swept, err
		}
		if err := m.repo.UpsertAsset(ctx, asset); err != nil {
			return swept, fmt.Errorf("persist gone asset %s: %w", asset.ID, err)
		}
		swept++
	}
	return swept, nil
}

// Run executes the staleness sweep on a ticker until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			swept, err := m.Sweep(ctx, now)
			if err != nil {
				m.logger.Printf("lifecycle sweep failed: %v", err)
				continue
			}
			if swept > 0 {
				m.logger.Printf("lifecycle sweep marked %d assets gone", swept)
			}
		}
	}
}

// transition mutates the in-memory status and records the change.
// The caller persists the asset itself.
func (m *Manager) transition(ctx context.Context, asset *domain.NetworkAsset, to domain.AssetStatus, reason string) error {
	from := asset.Status
	if from == to {
		return nil
	}
	asset.Status = to
	if m.logger != nil {
		m.logger.Printf("asset %s (%s): %s -> %s (%s)", asset.ID, asset.IP, from, to, reason)
	}
	return m.record(ctx, asset, from, to, reason)
}

func (m *Manager) record(ctx context.Context, asset *domain.NetworkAsset, from, to domain.AssetStatus, reason string) error {
	entry := &domain.AssetHistory{
		AssetID:        asset.ID,
		PreviousStatus: from,
		NewStatus:      to,
		IP:             asset.IP,
		MAC:            asset.MAC,
		Hostname:       asset.Hostname,
		Reason:         reason,
		ChangedAt:      time.Now().UTC(),
	}
	if err := m.repo.AppendHistory(ctx, entry); err != nil {
		return fmt.Errorf("append history for asset %s: %w", asset.ID, err)
	}
	return nil
}

// riskyOpen returns the sorted intersection of openPorts with the
// configured risky set.
func (m *Manager) riskyOpen(openPorts []int) []int {
	if len(openPorts) == 0 || len(m.cfg.RiskyPorts) == 0 {
		return nil
	}
	risky := make(map[int]bool, len(m.cfg.RiskyPorts))
	for _, p := range m.cfg.RiskyPorts {
		risky[p] = true
	}
	var out []int
	seen := make(map[int]bool)
	for _, p := range openPorts {
		if risky[p] && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Ints(out)
	return out
}
