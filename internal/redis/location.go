package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/domain"
)

const (
	driverLocationKey    = "drivers:locations"
	driverLocationPrefix = "drivers:location:"

	// Staleness is judged from last_ping; the TTL only garbage-collects.
	driverLocationTTL = time.Hour
)

// LocationStore keeps driver positions in a GEO set and per-driver metadata in hashes.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation upserts a driver's position and metadata.
func (s *LocationStore) UpdateLocation(ctx context.Context, loc domain.DriverLocation) error {
	key := driverLocationPrefix + loc.DriverID

	pipe := s.client.TxPipeline()
	pipe.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      loc.DriverID,
		Longitude: loc.Position.Lng,
		Latitude:  loc.Position.Lat,
	})
	pipe.HSet(ctx, key, map[string]any{
		"lat":           strconv.FormatFloat(loc.Position.Lat, 'f', -1, 64),
		"lng":           strconv.FormatFloat(loc.Position.Lng, 'f', -1, 64),
		"heading":       strconv.FormatFloat(loc.Heading, 'f', -1, 64),
		"speed":         strconv.FormatFloat(loc.Speed, 'f', -1, 64),
		"accuracy":      strconv.FormatFloat(loc.Accuracy, 'f', -1, 64),
		"available":     strconv.FormatBool(loc.Available),
		"vehicle_class": string(loc.VehicleClass),
		"last_ping":     strconv.FormatInt(loc.LastPing.UnixMilli(), 10),
	})
	pipe.Expire(ctx, key, driverLocationTTL)

	_, err := pipe.Exec(ctx)
	return err
}

// FindNearbyDrivers returns every driver within radiusKm of center, nearest first.
// Members whose metadata hash has expired are dropped from the GEO set.
func (s *LocationStore) FindNearbyDrivers(ctx context.Context, center domain.Point, radiusKm float64) ([]domain.DriverLocation, error) {
	results, err := s.client.GeoRadius(ctx, driverLocationKey, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(results))
	for i, r := range results {
		cmds[i] = pipe.HGetAll(ctx, driverLocationPrefix+r.Name)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	locations := make([]domain.DriverLocation, 0, len(results))
	var expired []any
	for i, r := range results {
		fields, err := cmds[i].Result()
		if err != nil {
			continue
		}
		if len(fields) == 0 {
			expired = append(expired, r.Name)
			continue
		}
		loc := parseLocation(r.Name, fields)
		loc.Position = domain.Point{Lat: r.Latitude, Lng: r.Longitude}
		locations = append(locations, loc)
	}

	if len(expired) > 0 {
		// Best effort; the next search retries.
		_ = s.client.ZRem(ctx, driverLocationKey, expired...).Err()
	}

	return locations, nil
}

// GetLocation returns a driver's location record, or nil if none is stored.
func (s *LocationStore) GetLocation(ctx context.Context, driverID string) (*domain.DriverLocation, error) {
	fields, err := s.client.HGetAll(ctx, driverLocationPrefix+driverID).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	loc := parseLocation(driverID, fields)
	return &loc, nil
}

// SetAvailability flips a driver's availability flag.
func (s *LocationStore) SetAvailability(ctx context.Context, driverID string, available bool) error {
	return s.client.HSet(ctx, driverLocationPrefix+driverID, "available", strconv.FormatBool(available)).Err()
}

// RemoveLocation removes a driver from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, driverLocationKey, driverID)
	pipe.Del(ctx, driverLocationPrefix+driverID)
	_, err := pipe.Exec(ctx)
	return err
}

func parseLocation(driverID string, fields map[string]string) domain.DriverLocation {
	loc := domain.DriverLocation{
		DriverID:     driverID,
		VehicleClass: domain.VehicleClass(fields["vehicle_class"]),
	}
	loc.Position.Lat, _ = strconv.ParseFloat(fields["lat"], 64)
	loc.Position.Lng, _ = strconv.ParseFloat(fields["lng"], 64)
	loc.Heading, _ = strconv.ParseFloat(fields["heading"], 64)
	loc.Speed, _ = strconv.ParseFloat(fields["speed"], 64)
	loc.Accuracy, _ = strconv.ParseFloat(fields["accuracy"], 64)
	loc.Available, _ = strconv.ParseBool(fields["available"])
	if ms, err := strconv.ParseInt(fields["last_ping"], 10, 64); err == nil {
		loc.LastPing = time.UnixMilli(ms)
	}
	return loc
}
