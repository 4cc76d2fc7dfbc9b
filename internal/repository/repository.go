package repository

import (
	"context"
	"errors"
	"time"

	"vigilarium/internal/domain"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Repository defines the data access interface for the fusion store
type Repository interface {
	// Clients
	EnsureClient(ctx context.Context, client *domain.Client) error
	GetClient(ctx context.Context, id string) (*domain.Client, error)

	// Observations (append-only evidence log).
	// InsertObservation reports false when the observation was
	// already recorded (dedup under batch replay).
	InsertObservation(ctx context.Context, obs *domain.Observation) (bool, error)
	ListEvidence(ctx context.Context, clientID, mac, ip string, limit int) ([]domain.Observation, error)

	// Assets
	GetAsset(ctx context.Context, clientID, assetID string) (*domain.NetworkAsset, error)
	GetAssetByIdentity(ctx context.Context, clientID, mac, ip string) (*domain.NetworkAsset, error)
	UpsertAsset(ctx context.Context, asset *domain.NetworkAsset) error
	ListAssets(ctx context.Context, clientID string, includeSynthetic bool) ([]domain.NetworkAsset, error)
	ListStaleAssets(ctx context.Context, cutoff time.Time) ([]domain.NetworkAsset, error)

	// History (append-only transition log)
	AppendHistory(ctx context.Context, h *domain.AssetHistory) error
	ListHistory(ctx context.Context, assetID string) ([]domain.AssetHistory, error)

	// Close releases resources
	Close() error
}
