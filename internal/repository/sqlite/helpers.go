package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vigilarium/internal/domain"
	"vigilarium/internal/repository"
)

// ============================================================================
// Null / JSON Conversion Helpers
// ============================================================================

// nullToString safely converts sql.NullString to string
func nullToString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// marshalToNull marshals a value to a nullable JSON string.
// Returns an empty NullString for nil values.
func marshalToNull(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalJSONField safely unmarshals JSON from a nullable string
func unmarshalJSONField(ns sql.NullString, target interface{}) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// ============================================================================
// Observation Row Scanner
// ============================================================================

// observationColumns is the SELECT column list for observation queries
const observationColumns = `id, client_id, source, ip, mac, hostname, timestamp,
	confidence_delta, payload, raw_text`

// observationInsertArgs prepares INSERT arguments. Column order:
// id, client_id, source, ip, mac, hostname, timestamp, confidence_delta, payload, raw_text
func observationInsertArgs(obs *domain.Observation) ([]interface{}, error) {
	var payloadJSON sql.NullString
	if obs.Payload != nil {
		var err error
		payloadJSON, err = marshalToNull(obs.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	return []interface{}{
		obs.ID,
		obs.ClientID,
		string(obs.Source),
		obs.IP,
		domain.NormalizeMAC(obs.MAC),
		obs.Hostname,
		obs.Timestamp.UTC(),
		obs.ConfidenceDelta,
		payloadJSON,
		obs.RawText,
	}, nil
}

// scanObservations reads all observation rows, reconstructing each
// payload as the concrete type for its source.
func scanObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var observations []domain.Observation
	for rows.Next() {
		var (
			obs         domain.Observation
			source      string
			payloadJSON sql.NullString
			rawText     sql.NullString
		)
		if err := rows.Scan(&obs.ID, &obs.ClientID, &source, &obs.IP, &obs.MAC,
			&obs.Hostname, &obs.Timestamp, &obs.ConfidenceDelta, &payloadJSON, &rawText); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs.Source = domain.Source(source)
		obs.RawText = nullToString(rawText)

		if payloadJSON.Valid && payloadJSON.String != "" {
			payload, err := domain.UnmarshalPayload(obs.Source, []byte(payloadJSON.String))
			if err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
			obs.Payload = payload
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// ============================================================================
// Asset Row Scanner
// ============================================================================

// assetColumns is the SELECT column list for asset queries
const assetColumns = `id, client_id, ip, mac, hostname, mac_vendor, device_type, os_guess,
	tags, origin_type, confidence_score, status, times_seen, first_seen, last_seen,
	open_ports, field_authority, created_at, updated_at`

// assetRow holds all columns from an asset query for scanning.
// MUST match assetColumns order exactly.
type assetRow struct {
	ID              string
	ClientID        string
	IP              string
	MAC             string
	Hostname        string
	MACVendor       string
	DeviceType      string
	OSGuess         string
	TagsJSON        sql.NullString
	OriginType      string
	ConfidenceScore int
	Status          string
	TimesSeen       int
	FirstSeen       time.Time
	LastSeen        time.Time
	OpenPortsJSON   sql.NullString
	AuthorityJSON   sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// scanArgs returns pointers to all fields for sql.Scan()
func (r *assetRow) scanArgs() []interface{} {
	return []interface{}{
		&r.ID,
		&r.ClientID,
		&r.IP,
		&r.MAC,
		&r.Hostname,
		&r.MACVendor,
		&r.DeviceType,
		&r.OSGuess,
		&r.TagsJSON,
		&r.OriginType,
		&r.ConfidenceScore,
		&r.Status,
		&r.TimesSeen,
		&r.FirstSeen,
		&r.LastSeen,
		&r.OpenPortsJSON,
		&r.AuthorityJSON,
		&r.CreatedAt,
		&r.UpdatedAt,
	}
}

// toDomain converts the scanned row to a domain.NetworkAsset
func (r *assetRow) toDomain() (*domain.NetworkAsset, error) {
	asset := &domain.NetworkAsset{
		ID:              r.ID,
		ClientID:        r.ClientID,
		IP:              r.IP,
		MAC:             r.MAC,
		Hostname:        r.Hostname,
		MACVendor:       r.MACVendor,
		DeviceType:      r.DeviceType,
		OSGuess:         r.OSGuess,
		OriginType:      domain.OriginType(r.OriginType),
		ConfidenceScore: r.ConfidenceScore,
		Status:          domain.AssetStatus(r.Status),
		TimesSeen:       r.TimesSeen,
		FirstSeen:       r.FirstSeen,
		LastSeen:        r.LastSeen,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	if err := unmarshalJSONField(r.TagsJSON, &asset.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := unmarshalJSONField(r.OpenPortsJSON, &asset.OpenPorts); err != nil {
		return nil, fmt.Errorf("unmarshal open ports: %w", err)
	}
	if err := unmarshalJSONField(r.AuthorityJSON, &asset.FieldAuthority); err != nil {
		return nil, fmt.Errorf("unmarshal field authority: %w", err)
	}
	if asset.FieldAuthority == nil {
		asset.FieldAuthority = make(map[string]int)
	}

	return asset, nil
}

// scanAssetRow scans a single asset row, mapping no-rows to ErrNotFound
func scanAssetRow(row *sql.Row) (*domain.NetworkAsset, error) {
	var r assetRow
	err := row.Scan(r.scanArgs()...)
	if err == sql.ErrNoRows {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan asset: %w", err)
	}
	return r.toDomain()
}

// scanAssets reads all asset rows from a multi-row query
func scanAssets(rows *sql.Rows) ([]domain.NetworkAsset, error) {
	var assets []domain.NetworkAsset
	for rows.Next() {
		var r assetRow
		if err := rows.Scan(r.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		asset, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// assetInsertArgs prepares INSERT/UPSERT arguments. Column order:
// id, client_id, identity_key, ip, mac, hostname, mac_vendor, device_type, os_guess,
// tags, origin_type, confidence_score, status, times_seen, first_seen, last_seen,
// open_ports, field_authority, created_at, updated_at
func assetInsertArgs(asset *domain.NetworkAsset) ([]interface{}, error) {
	tagsJSON, err := marshalToNull(asset.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	openPortsJSON, err := marshalToNull(asset.OpenPorts)
	if err != nil {
		return nil, fmt.Errorf("marshal open ports: %w", err)
	}
	authorityJSON, err := marshalToNull(asset.FieldAuthority)
	if err != nil {
		return nil, fmt.Errorf("marshal field authority: %w", err)
	}

	return []interface{}{
		asset.ID,
		asset.ClientID,
		asset.IdentityKey(),
		asset.IP,
		domain.NormalizeMAC(asset.MAC),
		asset.Hostname,
		asset.MACVendor,
		asset.DeviceType,
		asset.OSGuess,
		tagsJSON,
		string(asset.OriginType),
		asset.ConfidenceScore,
		string(asset.Status),
		asset.TimesSeen,
		asset.FirstSeen.UTC(),
		asset.LastSeen.UTC(),
		openPortsJSON,
		authorityJSON,
		asset.CreatedAt.UTC(),
		asset.UpdatedAt.UTC(),
	}, nil
}
