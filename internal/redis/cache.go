package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
)

// ProfileCacheTTL bounds how stale a cached scoring profile may get.
const ProfileCacheTTL = 5 * time.Minute

const profileCachePrefix = "cache:driver:profile:"

// CachedProfile is the scoring-relevant slice of a driver profile.
type CachedProfile struct {
	ID            string  `json:"id"`
	RatingAverage float64 `json:"rating_average"`
	TotalRides    int     `json:"total_rides"`
	Verified      bool    `json:"verified"`
}

// ToDriver converts a cached profile back into a driver.
func (p *CachedProfile) ToDriver() *domain.Driver {
	return &domain.Driver{
		ID:            p.ID,
		RatingAverage: p.RatingAverage,
		TotalRides:    p.TotalRides,
		Verified:      p.Verified,
	}
}

// CacheStore caches driver scoring profiles in Redis.
type CacheStore struct {
	client *redis.Client
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(client *redis.Client) *CacheStore {
	return &CacheStore{client: client}
}

// GetProfilesBatch retrieves cached profiles with one pipeline round trip.
// Returns the hits keyed by driver ID and the IDs that missed.
func (s *CacheStore) GetProfilesBatch(ctx context.Context, driverIDs []string) (map[string]*CachedProfile, []string, error) {
	result := make(map[string]*CachedProfile, len(driverIDs))
	if len(driverIDs) == 0 {
		return result, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(driverIDs))
	for _, id := range driverIDs {
		cmds[id] = pipe.Get(ctx, profileCachePrefix+id)
	}

	// Exec reports redis.Nil when any key is missing; per-command results are checked below.
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, err
	}

	var missing []string
	for _, id := range driverIDs {
		data, err := cmds[id].Bytes()
		if err != nil {
			missing = append(missing, id)
			continue
		}
		var profile CachedProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			missing = append(missing, id)
			continue
		}
		result[id] = &profile
	}

	return result, missing, nil
}

// SetProfilesBatch stores profiles with one pipeline round trip.
func (s *CacheStore) SetProfilesBatch(ctx context.Context, drivers []*domain.Driver) error {
	if len(drivers) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, d := range drivers {
		data, err := json.Marshal(CachedProfile{
			ID:            d.ID,
			RatingAverage: d.RatingAverage,
			TotalRides:    d.TotalRides,
			Verified:      d.Verified,
		})
		if err != nil {
			continue
		}
		pipe.Set(ctx, profileCachePrefix+d.ID, data, ProfileCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateProfile removes a driver's cached profile.
func (s *CacheStore) InvalidateProfile(ctx context.Context, driverID string) error {
	return s.client.Del(ctx, profileCachePrefix+driverID).Err()
}
