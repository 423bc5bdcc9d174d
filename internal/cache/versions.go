package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/models"
)

// Versions caches the latest version of each prompt under prompt:<id>:latest.
type Versions struct {
	cache *Cache
	ttl   time.Duration
}

func NewVersions(c *Cache, ttl time.Duration) *Versions {
	return &Versions{cache: c, ttl: ttl}
}

func latestKey(promptID uuid.UUID) string {
	return fmt.Sprintf("prompt:%s:latest", promptID)
}

// Latest returns the cached version, or ErrMiss.
func (v *Versions) Latest(ctx context.Context, promptID uuid.UUID) (*models.Version, error) {
	var out models.Version
	if err := v.cache.Get(ctx, latestKey(promptID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (v *Versions) PutLatest(ctx context.Context, ver *models.Version) error {
	return v.cache.Set(ctx, latestKey(ver.PromptID), ver, v.ttl)
}

func (v *Versions) Invalidate(ctx context.Context, promptID uuid.UUID) error {
	return v.cache.Delete(ctx, latestKey(promptID))
}
