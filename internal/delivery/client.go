package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"vigilarium/internal/domain"
)

// Result reports how a batch left the sensor
type Result string

const (
	// Delivered means the orchestrator accepted the batch
	Delivered Result = "delivered"
	// Spooled means delivery failed and the batch is persisted for
	// a later retry
	Spooled Result = "spooled"
	// Dropped means the orchestrator permanently rejected the batch
	Dropped Result = "dropped"
)

// Config holds delivery client configuration
type Config struct {
	// BaseURL of the orchestrator
	BaseURL string
	// ClientID identifies this sensor's tenant
	ClientID string
	// APIKey for the X-API-Key header; empty disables auth
	APIKey string
	// Timeout is the total budget for one delivery attempt
	Timeout time.Duration
}

// Client delivers observation batches to the orchestrator with
// at-least-once semantics: batches that cannot be delivered are
// spooled to disk and retried ahead of the next batch. The server's
// dedup makes the resulting replays harmless.
type Client struct {
	cfg   Config
	http  *retryablehttp.Client
	spool *Spool
}

// NewClient creates a delivery client
func NewClient(cfg Config, spool *Spool) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &Client{cfg: cfg, http: rc, spool: spool}
}

// Deliver sends a batch, flushing any spooled backlog first so
// observations arrive roughly in capture order. Observations without
// a timestamp are stamped now, before any spooling, so the capture
// time survives a delivery outage.
func (c *Client) Deliver(ctx context.Context, observations []domain.Observation) (Result, error) {
	c.FlushSpool(ctx)

	if len(observations) == 0 {
		return Delivered, nil
	}

	now := time.Now().UTC()
	for i := range observations {
		if observations[i].Timestamp.IsZero() {
			observations[i].Timestamp = now
		}
	}

	err := c.post(ctx, c.cfg.ClientID, observations)
	if err == nil {
		return Delivered, nil
	}
	if isPermanent(err) {
		log.Printf("orchestrator rejected batch permanently, dropping %d observations: %v", len(observations), err)
		return Dropped, err
	}

	log.Printf("delivery failed, spooling %d observations: %v", len(observations), err)
	if spoolErr := c.spool.Append(SpoolEntry{ClientID: c.cfg.ClientID, Observations: observations}); spoolErr != nil {
		return Spooled, fmt.Errorf("delivery failed (%v) and spool failed: %w", err, spoolErr)
	}
	return Spooled, nil
}

// FlushSpool retries every spooled batch oldest first. Entries leave
// the spool only once the orchestrator acknowledged them (or rejected
// them permanently); batches that still fail stay spooled in order.
func (c *Client) FlushSpool(ctx context.Context) {
	delivered, kept, err := c.spool.Flush(func(entry SpoolEntry) FlushOutcome {
		if err := c.post(ctx, entry.ClientID, entry.Observations); err != nil {
			if isPermanent(err) {
				log.Printf("dropping permanently rejected spooled batch: %v", err)
				return FlushDiscard
			}
			log.Printf("spooled batch still undeliverable: %v", err)
			return FlushRetry
		}
		return FlushDelivered
	})
	if err != nil {
		log.Printf("spool flush failed: %v", err)
		return
	}
	if delivered > 0 || kept > 0 {
		log.Printf("spool flush: %d batches delivered, %d still pending", delivered, kept)
	}
}

// permanentError marks a 4xx rejection that a retry cannot fix
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("orchestrator returned %d: %s", e.status, e.body)
}

func isPermanent(err error) bool {
	_, ok := err.(*permanentError)
	return ok
}

func (c *Client) post(ctx context.Context, clientID string, observations []domain.Observation) error {
	body, err := json.Marshal(map[string]interface{}{"observations": observations})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	url := fmt.Sprintf("%s/api/network/clients/%s/observations", c.cfg.BaseURL, clientID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{status: resp.StatusCode, body: string(detail)}
	}
	return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, detail)
}
