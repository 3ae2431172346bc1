package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const summaryKeyPrefix = "billing:summary:"

// SummaryCache keeps per-patient plan summaries in Redis with a TTL.
// All methods degrade to no-ops on a nil receiver or client so the service
// works without Redis.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache instantiates the cache helper.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func summaryKey(patientID int64) string {
	return fmt.Sprintf("%s%d", summaryKeyPrefix, patientID)
}

// Get returns the cached summary, or nil on a miss.
func (c *SummaryCache) Get(ctx context.Context, patientID int64) (*PlanSummary, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, summaryKey(patientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var summary PlanSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// Stale or corrupt entry; treat as a miss and let the caller rebuild.
		_ = c.client.Del(ctx, summaryKey(patientID)).Err()
		return nil, nil
	}
	return &summary, nil
}

// Set stores the summary under the patient key.
func (c *SummaryCache) Set(ctx context.Context, summary *PlanSummary) error {
	if c == nil || c.client == nil || summary == nil {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, summaryKey(summary.PatientID), raw, c.ttl).Err()
}

// Invalidate drops the cached summary after a plan mutation.
func (c *SummaryCache) Invalidate(ctx context.Context, patientID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, summaryKey(patientID)).Err()
}
