package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"vigilarium/internal/domain"
	"vigilarium/internal/fusion"
	"vigilarium/internal/repository"
)

// NetworkHandler handles network observation and asset requests
type NetworkHandler struct {
	repo          repository.Repository
	engine        *fusion.Engine
	evidenceLimit int
}

// NewNetworkHandler creates a new network handler
func NewNetworkHandler(repo repository.Repository, engine *fusion.Engine, evidenceLimit int) *NetworkHandler {
	if evidenceLimit <= 0 {
		evidenceLimit = 50
	}
	return &NetworkHandler{repo: repo, engine: engine, evidenceLimit: evidenceLimit}
}

// Routes registers the network API on the mux
func (h *NetworkHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /api/network/clients/{client_id}/observations", h.IngestObservations)
	mux.HandleFunc("GET /api/network/clients/{client_id}/network-assets", h.ListAssets)
	mux.HandleFunc("GET /api/network/clients/{client_id}/network-assets/summary", h.GetSummary)
	mux.HandleFunc("GET /api/network/clients/{client_id}/network-assets/{asset_id}", h.GetAsset)
	mux.HandleFunc("GET /api/network/clients/{client_id}/network-assets/{asset_id}/evidence", h.GetEvidence)
	mux.HandleFunc("GET /api/network/clients/{client_id}/network-assets/{asset_id}/history", h.GetHistory)
}

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ObservationBatch is the body posted by sensors. Either a bare JSON
// array of observations or a {"observations": [...]} wrapper decodes
// into it.
type ObservationBatch struct {
	Observations []domain.Observation `json:"observations"`
}

func (b *ObservationBatch) UnmarshalJSON(data []byte) error {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return json.Unmarshal(data, &b.Observations)
		}
		break
	}
	type wrapper ObservationBatch
	return json.Unmarshal(data, (*wrapper)(b))
}

// Health reports liveness
func (h *NetworkHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// IngestObservations accepts an observation batch for fusion.
// The whole batch is validated before anything is stored; replayed
// batches return processed: 0 and change nothing.
func (h *NetworkHandler) IngestObservations(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")

	var batch ObservationBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return
	}
	if len(batch.Observations) == 0 {
		writeError(w, "Empty batch", "at least one observation is required", http.StatusBadRequest)
		return
	}

	processed, err := h.engine.Ingest(r.Context(), clientID, batch.Observations)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, "Unknown client", clientID, http.StatusNotFound)
		case errors.Is(err, fusion.ErrInvalidBatch):
			writeError(w, "Invalid batch", err.Error(), http.StatusBadRequest)
		default:
			log.Printf("Failed to ingest observations for %s: %v", clientID, err)
			writeError(w, "Failed to ingest observations", err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"processed": processed,
	}, http.StatusAccepted)
}

// ListAssets returns a client's assets. The default lan scope hides
// loopback, link-local, and container-bridge addresses; scope=all
// includes them.
func (h *NetworkHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if !h.clientExists(w, r, clientID) {
		return
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "lan"
	}
	if scope != "lan" && scope != "all" {
		writeError(w, "Invalid scope", "scope must be lan or all", http.StatusBadRequest)
		return
	}

	assets, err := h.repo.ListAssets(r.Context(), clientID, scope == "all")
	if err != nil {
		log.Printf("Failed to list assets for %s: %v", clientID, err)
		writeError(w, "Failed to list assets", err.Error(), http.StatusInternalServerError)
		return
	}
	if assets == nil {
		assets = []domain.NetworkAsset{}
	}

	writeJSON(w, assets, http.StatusOK)
}

// GetAsset returns a single asset
func (h *NetworkHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	assetID := r.PathValue("asset_id")

	asset, err := h.repo.GetAsset(r.Context(), clientID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", assetID, http.StatusNotFound)
			return
		}
		log.Printf("Failed to get asset %s: %v", assetID, err)
		writeError(w, "Failed to get asset", err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, asset, http.StatusOK)
}

// GetEvidence returns the raw observations behind an asset, newest
// first. The limit query parameter caps the count (default 50).
func (h *NetworkHandler) GetEvidence(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	assetID := r.PathValue("asset_id")

	asset, err := h.repo.GetAsset(r.Context(), clientID, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", assetID, http.StatusNotFound)
			return
		}
		log.Printf("Failed to get asset %s: %v", assetID, err)
		writeError(w, "Failed to get asset", err.Error(), http.StatusInternalServerError)
		return
	}

	limit := h.evidenceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, "Invalid limit", raw, http.StatusBadRequest)
			return
		}
		limit = n
	}

	evidence, err := h.repo.ListEvidence(r.Context(), clientID, asset.MAC, asset.IP, limit)
	if err != nil {
		log.Printf("Failed to list evidence for %s: %v", assetID, err)
		writeError(w, "Failed to list evidence", err.Error(), http.StatusInternalServerError)
		return
	}
	if evidence == nil {
		evidence = []domain.Observation{}
	}

	writeJSON(w, evidence, http.StatusOK)
}

// GetHistory returns an asset's status transitions, newest first
func (h *NetworkHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	assetID := r.PathValue("asset_id")

	if _, err := h.repo.GetAsset(r.Context(), clientID, assetID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Not found", assetID, http.StatusNotFound)
			return
		}
		log.Printf("Failed to get asset %s: %v", assetID, err)
		writeError(w, "Failed to get asset", err.Error(), http.StatusInternalServerError)
		return
	}

	history, err := h.repo.ListHistory(r.Context(), assetID)
	if err != nil {
		log.Printf("Failed to list history for %s: %v", assetID, err)
		writeError(w, "Failed to list history", err.Error(), http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []domain.AssetHistory{}
	}

	writeJSON(w, history, http.StatusOK)
}

// SummaryResponse aggregates a client's asset inventory. Active
// counts assets with evidence in the last 24 hours that are not gone.
type SummaryResponse struct {
	TotalAssets   int            `json:"total_assets"`
	Active        int            `json:"active"`
	ByStatus      map[string]int `json:"by_status"`
	ByDeviceType  map[string]int `json:"by_device_type"`
	ByOrigin      map[string]int `json:"by_origin"`
	AtRisk        int            `json:"at_risk"`
	AvgConfidence int            `json:"avg_confidence"`
}

// GetSummary returns aggregate counts over the client's lan-scoped
// assets.
func (h *NetworkHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")
	if !h.clientExists(w, r, clientID) {
		return
	}

	assets, err := h.repo.ListAssets(r.Context(), clientID, false)
	if err != nil {
		log.Printf("Failed to summarize assets for %s: %v", clientID, err)
		writeError(w, "Failed to summarize assets", err.Error(), http.StatusInternalServerError)
		return
	}

	summary := SummaryResponse{
		TotalAssets:  len(assets),
		ByStatus:     make(map[string]int),
		ByDeviceType: make(map[string]int),
		ByOrigin:     make(map[string]int),
	}
	confidenceSum := 0
	activeCutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, a := range assets {
		summary.ByStatus[string(a.Status)]++
		summary.ByDeviceType[a.DeviceType]++
		summary.ByOrigin[string(a.OriginType)]++
		confidenceSum += a.ConfidenceScore
		if a.Status == domain.AssetStatusAtRisk {
			summary.AtRisk++
		}
		if a.Status != domain.AssetStatusGone && a.LastSeen.After(activeCutoff) {
			summary.Active++
		}
	}
	if len(assets) > 0 {
		summary.AvgConfidence = confidenceSum / len(assets)
	}

	writeJSON(w, summary, http.StatusOK)
}

func (h *NetworkHandler) clientExists(w http.ResponseWriter, r *http.Request, clientID string) bool {
	if _, err := h.repo.GetClient(r.Context(), clientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, "Unknown client", clientID, http.StatusNotFound)
			return false
		}
		log.Printf("Failed to look up client %s: %v", clientID, err)
		writeError(w, "Failed to look up client", err.Error(), http.StatusInternalServerError)
		return false
	}
	return true
}

// Helper functions

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}
