package domain

import "time"

// AssetHistory is one append-only record of a status transition.
// Exactly one row is written per transition, and only the lifecycle
// manager writes them.
type AssetHistory struct {
	ID             string      `json:"id"`
	AssetID        string      `json:"asset_id"`
	PreviousStatus AssetStatus `json:"previous_status"`
	NewStatus      AssetStatus `json:"new_status"`
	IP             string      `json:"ip,omitempty"`
	MAC            string      `json:"mac,omitempty"`
	Hostname       string      `json:"hostname,omitempty"`
	Reason         string      `json:"reason"`
	ChangedAt      time.Time   `json:"changed_at"`
}

// Client is a tenant that owns assets and observations. Client
// management lives elsewhere; only existence matters here.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
