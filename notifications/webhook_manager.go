package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"signal-scout/auth"
	"signal-scout/cache"
	"signal-scout/database"
)

// WebhookManager delivers new opportunity briefs to registered webhook
// targets.
type WebhookManager struct {
	repo   *database.PipelineRepository
	redis  *cache.RedisClient
	client *http.Client
}

// BriefPayload is the JSON body delivered to webhook targets.
type BriefPayload struct {
	BriefID      string    `json:"brief_id"`
	SignalID     string    `json:"signal_id"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Entities     []string  `json:"entities"`
	Strength     float64   `json:"strength"`
	Direction    string    `json:"direction"`
	MentionCount int       `json:"mention_count"`
	Thesis       string    `json:"thesis"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(repo *database.PipelineRepository, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		repo:  repo,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendBrief fans a freshly created brief out to every matching webhook.
// Delivery is asynchronous per target.
func (wm *WebhookManager) SendBrief(brief *database.OpportunityBrief) {
	webhooks, err := wm.getActiveWebhooks()
	if err != nil {
		log.Printf("⚠️  Failed to load webhooks: %v", err)
		return
	}
	if len(webhooks) == 0 {
		return
	}

	payloadBytes, err := json.Marshal(wm.CreatePayload(brief))
	if err != nil {
		log.Printf("⚠️  Failed to marshal webhook payload: %v", err)
		return
	}

	for _, hook := range webhooks {
		if wm.shouldSend(hook, brief) {
			go wm.deliver(hook, brief.ID, payloadBytes)
		}
	}
}

func (wm *WebhookManager) getActiveWebhooks() ([]database.BriefWebhook, error) {
	// Try cache first
	cacheKey := "active_webhooks"
	if wm.redis != nil {
		var cached []database.BriefWebhook
		if err := wm.redis.Get(context.Background(), cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	webhooks, err := wm.repo.GetActiveWebhooks()
	if err != nil {
		return nil, err
	}

	// Update cache (expire 1 hour)
	if wm.redis != nil {
		_ = wm.redis.Set(context.Background(), cacheKey, webhooks, 1*time.Hour)
	}

	return webhooks, err
}

// CreatePayload builds the free-tier projection delivered to webhooks.
// Pro fields never leave the API surface through this path.
func (wm *WebhookManager) CreatePayload(brief *database.OpportunityBrief) BriefPayload {
	return BriefPayload{
		BriefID:      brief.ID,
		SignalID:     brief.SignalID,
		Title:        brief.Title,
		Category:     brief.Category,
		Entities:     brief.Entities,
		Strength:     brief.Strength,
		Direction:    brief.Direction,
		MentionCount: brief.MentionCount,
		Thesis:       brief.Thesis,
		CreatedAt:    brief.CreatedAt,
	}
}

func (wm *WebhookManager) shouldSend(hook database.BriefWebhook, brief *database.OpportunityBrief) bool {
	return brief.Strength >= hook.MinStrength
}

// deliver posts the payload once, signing it with the hook secret so
// receivers can verify origin the same way the ingest endpoint does.
func (wm *WebhookManager) deliver(hook database.BriefWebhook, briefID string, payload []byte) {
	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewBuffer(payload))
	if err != nil {
		wm.logDelivery(hook.ID, briefID, 0, err.Error(), 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Signal-Scout-Brief/1.0")
	if hook.Secret != "" {
		req.Header.Set("X-Scout-Signature", auth.ComputeSignature(hook.Secret, payload))
	}

	start := time.Now()
	resp, err := wm.client.Do(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		log.Printf("⚠️  Webhook %s delivery failed for brief %s: %v", hook.URL, briefID, err)
		wm.logDelivery(hook.ID, briefID, 0, err.Error(), duration)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		wm.logDelivery(hook.ID, briefID, resp.StatusCode, "", duration)
		return
	}
	log.Printf("⚠️  Webhook %s returned %d for brief %s", hook.URL, resp.StatusCode, briefID)
	wm.logDelivery(hook.ID, briefID, resp.StatusCode, "", duration)
}

func (wm *WebhookManager) logDelivery(webhookID int64, briefID string, code int, errMsg string, durationMs int64) {
	logEntry := &database.BriefWebhookLog{
		WebhookID:   webhookID,
		BriefID:     briefID,
		StatusCode:  code,
		DurationMs:  durationMs,
		DeliveredAt: time.Now().UTC(),
	}
	if errMsg != "" {
		logEntry.Error = &errMsg
	}

	if dbErr := wm.repo.SaveWebhookLog(logEntry); dbErr != nil {
		log.Printf("⚠️  Failed to save webhook log: %v", dbErr)
	}
}

// RefreshCache invalidates the cached webhook list after CRUD changes.
func (wm *WebhookManager) RefreshCache() {
	if wm.redis != nil {
		_ = wm.redis.Delete(context.Background(), "active_webhooks")
		log.Println("🔄 Webhook cache invalidated")
	}
}
