// workers/plan_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"economy-engine/models"
)

// SubscriptionChange is one row of the subscription service response.
type SubscriptionChange struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Plan      string    `json:"plan"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSubscriptionChangesResponse is the top-level structure of the subscription service response.
type GetSubscriptionChangesResponse struct {
	Subscriptions []SubscriptionChange `json:"subscriptions"`
}

// ProfileSyncer applies upstream plan changes to accounts.
type ProfileSyncer interface {
	SyncProfile(ctx context.Context, subjectID, username, plan string) (*models.Account, error)
}

// PlanSyncWorker polls the subscription service and keeps account plan tiers current.
type PlanSyncWorker struct {
	syncer       ProfileSyncer
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8600"
	endpointPath string // e.g., "/api/v1/internal/subscriptions"
	serviceToken string
	httpClient   *http.Client

	mu     sync.Mutex
	cursor time.Time
}

func NewPlanSyncWorker(syncer ProfileSyncer, baseURL, endpointPath, serviceToken string, interval time.Duration) *PlanSyncWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &PlanSyncWorker{
		syncer:       syncer,
		interval:     interval,
		baseURL:      baseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *PlanSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Plan Sync Worker (subscription-service → accounts)…")
	go w.run(ctx)
}

func (w *PlanSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		log.Printf("⚠️ [SYNC] initial plan sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				log.Printf("❌ [SYNC] plan sync failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Plan Sync Worker stopped")
			return
		}
	}
}

// Cursor is the newest updated_at seen so far.
func (w *PlanSyncWorker) Cursor() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cursor
}

// SyncOnce fetches changes since the cursor, applies them and advances the cursor. It returns how many were applied.
func (w *PlanSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	since := w.Cursor()
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid subscription service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HTTP request to subscription service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("subscription service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetSubscriptionChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode subscription service response: %w", err)
	}
	if len(response.Subscriptions) == 0 {
		return 0, nil
	}

	var applied, failed int
	latest := since
	for _, change := range response.Subscriptions {
		if change.UserID == "" {
			continue
		}
		if _, err := w.syncer.SyncProfile(ctx, change.UserID, change.Username, change.Plan); err != nil {
			failed++
			log.Printf("[SYNC] ⚠️ Failed to apply plan %q for %s: %v", change.Plan, change.UserID, err)
			continue
		}
		applied++
		if change.UpdatedAt.After(latest) {
			latest = change.UpdatedAt
		}
	}

	// A failed row keeps the cursor in place so it is retried next round.
	if failed == 0 {
		w.mu.Lock()
		w.cursor = latest
		w.mu.Unlock()
	}
	log.Printf("[SYNC] ✅ Plan sync: %d applied, %d errors, cursor=%s", applied, failed, latest.Format(time.RFC3339))
	return applied, nil
}
