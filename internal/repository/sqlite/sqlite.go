package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigilarium/internal/domain"
	"vigilarium/internal/repository"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Repository implements repository.Repository using SQLite
type Repository struct {
	db *sql.DB
}

// New creates a new SQLite repository
func New(dbPath string) (*Repository, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; keep a single
	// connection so tests and the schema see the same store.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	repo := &Repository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		source TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		mac TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		confidence_delta INTEGER NOT NULL DEFAULT 0,
		payload JSON,
		raw_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (client_id) REFERENCES clients(id)
	);

	CREATE TABLE IF NOT EXISTS network_assets (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		identity_key TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		mac TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		mac_vendor TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL DEFAULT 'unknown',
		os_guess TEXT NOT NULL DEFAULT 'unknown',
		tags JSON,
		origin_type TEXT NOT NULL DEFAULT 'unknown',
		confidence_score INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		times_seen INTEGER NOT NULL DEFAULT 0,
		first_seen DATETIME NOT NULL,
		last_seen DATETIME NOT NULL,
		open_ports JSON,
		field_authority JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (client_id) REFERENCES clients(id)
	);

	CREATE TABLE IF NOT EXISTS asset_history (
		id TEXT PRIMARY KEY,
		asset_id TEXT NOT NULL,
		previous_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL,
		ip TEXT NOT NULL DEFAULT '',
		mac TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		changed_at DATETIME NOT NULL,
		FOREIGN KEY (asset_id) REFERENCES network_assets(id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_obs_dedup
		ON observations(client_id, source, timestamp, mac, ip);
	CREATE INDEX IF NOT EXISTS idx_obs_client_mac ON observations(client_id, mac);
	CREATE INDEX IF NOT EXISTS idx_obs_client_ip ON observations(client_id, ip);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_asset_identity
		ON network_assets(client_id, identity_key);
	CREATE INDEX IF NOT EXISTS idx_asset_status ON network_assets(status);
	CREATE INDEX IF NOT EXISTS idx_history_asset ON asset_history(asset_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// EnsureClient creates the client row if it does not exist yet
func (r *Repository) EnsureClient(ctx context.Context, client *domain.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, client.ID, client.Name, client.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to ensure client: %w", err)
	}
	return nil
}

// GetClient returns a client by ID
func (r *Repository) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM clients WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// InsertObservation appends an observation to the evidence log.
// Returns false when an identical observation (same dedup key) was
// already recorded, which makes batch replays idempotent.
func (r *Repository) InsertObservation(ctx context.Context, obs *domain.Observation) (bool, error) {
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}

	args, err := observationInsertArgs(obs)
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO observations
			(id, client_id, source, ip, mac, hostname, timestamp, confidence_delta, payload, raw_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert observation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ListEvidence returns the most recent observations matching the
// asset's MAC or IP, newest first.
func (r *Repository) ListEvidence(ctx context.Context, clientID, mac, ip string, limit int) ([]domain.Observation, error) {
	if mac == "" && ip == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+observationColumns+`
		FROM observations
		WHERE client_id = ? AND ((mac != '' AND mac = ?) OR (ip != '' AND ip = ?))
		ORDER BY timestamp DESC
		LIMIT ?
	`, clientID, domain.NormalizeMAC(mac), ip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// GetAsset returns a single asset by ID, scoped to the client
func (r *Repository) GetAsset(ctx context.Context, clientID, assetID string) (*domain.NetworkAsset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+assetColumns+`
		FROM network_assets WHERE client_id = ? AND id = ?
	`, clientID, assetID)
	return scanAssetRow(row)
}

// GetAssetByIdentity looks an asset up by MAC first, falling back
// to IP, scoped to the client. When the caller holds a MAC, the IP
// fallback only matches MAC-less rows; an asset already bound to a
// different MAC on that IP is a different device (DHCP churn), not a
// merge target.
func (r *Repository) GetAssetByIdentity(ctx context.Context, clientID, mac, ip string) (*domain.NetworkAsset, error) {
	if mac != "" {
		asset, err := r.getAssetWhere(ctx, clientID, "mac = ?", domain.NormalizeMAC(mac))
		if err != repository.ErrNotFound {
			return asset, err
		}
		if ip != "" {
			return r.getAssetWhere(ctx, clientID, "ip = ? AND mac = ''", ip)
		}
		return nil, repository.ErrNotFound
	}
	if ip != "" {
		return r.getAssetWhere(ctx, clientID, "ip = ?", ip)
	}
	return nil, repository.ErrNotFound
}

func (r *Repository) getAssetWhere(ctx context.Context, clientID, cond string, arg interface{}) (*domain.NetworkAsset, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+assetColumns+`
		FROM network_assets WHERE client_id = ? AND `+cond, clientID, arg)
	return scanAssetRow(row)
}

// UpsertAsset writes an asset, creating it when new. The unique
// (client_id, identity_key) index guarantees concurrent upserts for
// the same device resolve to one row. The trailing catch-all clause
// covers the id conflict that occurs when an asset's identity key
// migrates from IP to MAC.
func (r *Repository) UpsertAsset(ctx context.Context, asset *domain.NetworkAsset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	asset.UpdatedAt = time.Now().UTC()

	args, err := assetInsertArgs(asset)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO network_assets
			(id, client_id, identity_key, ip, mac, hostname, mac_vendor, device_type, os_guess,
			 tags, origin_type, confidence_score, status, times_seen, first_seen, last_seen,
			 open_ports, field_authority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, identity_key) DO UPDATE SET
			ip = excluded.ip,
			mac = excluded.mac,
			hostname = excluded.hostname,
			mac_vendor = excluded.mac_vendor,
			device_type = excluded.device_type,
			os_guess = excluded.os_guess,
			tags = excluded.tags,
			origin_type = excluded.origin_type,
			confidence_score = excluded.confidence_score,
			status = excluded.status,
			times_seen = excluded.times_seen,
			last_seen = excluded.last_seen,
			open_ports = excluded.open_ports,
			field_authority = excluded.field_authority,
			updated_at = excluded.updated_at
		ON CONFLICT DO UPDATE SET
			identity_key = excluded.identity_key,
			ip = excluded.ip,
			mac = excluded.mac,
			hostname = excluded.hostname,
			mac_vendor = excluded.mac_vendor,
			device_type = excluded.device_type,
			os_guess = excluded.os_guess,
			tags = excluded.tags,
			origin_type = excluded.origin_type,
			confidence_score = excluded.confidence_score,
			status = excluded.status,
			times_seen = excluded.times_seen,
			last_seen = excluded.last_seen,
			open_ports = excluded.open_ports,
			field_authority = excluded.field_authority,
			updated_at = excluded.updated_at
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert asset: %w", err)
	}
	return nil
}

// ListAssets returns a client's assets. When includeSynthetic is
// false, loopback/link-local/container-bridge origins are filtered
// out (the lan scope).
func (r *Repository) ListAssets(ctx context.Context, clientID string, includeSynthetic bool) ([]domain.NetworkAsset, error) {
	query := `SELECT ` + assetColumns + ` FROM network_assets WHERE client_id = ?`
	if !includeSynthetic {
		query += ` AND origin_type NOT IN ('local_interface', 'loopback', 'link_local')`
	}
	query += ` ORDER BY last_seen DESC`

	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// ListStaleAssets returns non-gone assets last seen before cutoff,
// across all clients. Used by the lifecycle sweeper.
func (r *Repository) ListStaleAssets(ctx context.Context, cutoff time.Time) ([]domain.NetworkAsset, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+assetColumns+`
		FROM network_assets
		WHERE status != 'gone' AND last_seen < ?
	`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// AppendHistory writes one status transition record
func (r *Repository) AppendHistory(ctx context.Context, h *domain.AssetHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO asset_history
			(id, asset_id, previous_status, new_status, ip, mac, hostname, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.AssetID, string(h.PreviousStatus), string(h.NewStatus),
		h.IP, h.MAC, h.Hostname, h.Reason, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// ListHistory returns an asset's status transitions, newest first
func (r *Repository) ListHistory(ctx context.Context, assetID string) ([]domain.AssetHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, asset_id, previous_status, new_status, ip, mac, hostname, reason, changed_at
		FROM asset_history
		WHERE asset_id = ?
		ORDER BY changed_at DESC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []domain.AssetHistory
	for rows.Next() {
		var h domain.AssetHistory
		var prev, next string
		if err := rows.Scan(&h.ID, &h.AssetID, &prev, &next, &h.IP, &h.MAC, &h.Hostname, &h.Reason, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		h.PreviousStatus = domain.AssetStatus(prev)
		h.NewStatus = domain.AssetStatus(next)
		history = append(history, h)
	}
	return history, rows.Err()
}

// Close releases database resources
func (r *Repository) Close() error {
	return r.db.Close()
}
