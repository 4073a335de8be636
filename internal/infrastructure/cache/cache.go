// Package cache holds the record format shared by the TTL cache backends and
// typed helpers over ports.Cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

const DefaultTTL = time.Hour

// Record is the persisted envelope. ExpiresAt is unix seconds.
type Record struct {
	Value     json.RawMessage `json:"value"`
	ExpiresAt float64         `json:"expires_at"`
}

func NewRecord(value json.RawMessage, ttl time.Duration, now time.Time) Record {
	expires := now.Add(ttl)
	return Record{
		Value:     value,
		ExpiresAt: unixSeconds(expires),
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func (r Record) Expired(now time.Time) bool {
	return unixSeconds(now) >= r.ExpiresAt
}

// DecodeRecord returns false for records without a value.
func DecodeRecord(data []byte) (Record, bool) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	if len(rec.Value) == 0 {
		return Record{}, false
	}
	return rec, true
}

// GetJSON decodes a cached value into T. Undecodable values are a miss.
func GetJSON[T any](ctx context.Context, c ports.Cache, key string) (T, bool) {
	var out T
	if c == nil {
		return out, false
	}
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

func SetJSON(ctx context.Context, c ports.Cache, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(ctx, key, raw, ttl)
}
