package redis

import (
	"context"
	"time"

	"dispatch/internal/domain"
)

// LocationStoreInterface defines the interface for driver location operations.
type LocationStoreInterface interface {
	UpdateLocation(ctx context.Context, loc domain.DriverLocation) error
	FindNearbyDrivers(ctx context.Context, center domain.Point, radiusKm float64) ([]domain.DriverLocation, error)
	GetLocation(ctx context.Context, driverID string) (*domain.DriverLocation, error)
	SetAvailability(ctx context.Context, driverID string, available bool) error
	RemoveLocation(ctx context.Context, driverID string) error
}

// LockStoreInterface defines the interface for per-driver exclusivity locks.
type LockStoreInterface interface {
	AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error)
	ReleaseDriverLock(ctx context.Context, driverID, owner string) error
}

// ProfileCache defines the interface for cached driver scoring profiles.
type ProfileCache interface {
	GetProfilesBatch(ctx context.Context, driverIDs []string) (map[string]*CachedProfile, []string, error)
	SetProfilesBatch(ctx context.Context, drivers []*domain.Driver) error
	InvalidateProfile(ctx context.Context, driverID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ ProfileCache           = (*CacheStore)(nil)
)
