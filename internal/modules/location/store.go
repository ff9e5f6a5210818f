// README: Driver geo index backed by Redis GEO, with an in-memory equivalent.
package location

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/modules/pricing"
	"rideflow/internal/types"
)

const driverGeoKey = "geo:drivers"

type GeoIndex interface {
	Set(ctx context.Context, driverID types.ID, p types.Point) error
	Remove(ctx context.Context, driverID types.ID) error
	Search(ctx context.Context, origin types.Point, radiusKm float64) ([]Nearby, error)
}

type RedisGeo struct {
	redis *redis.Client
}

func NewRedisGeo(redis *redis.Client) *RedisGeo {
	return &RedisGeo{redis: redis}
}

func (g *RedisGeo) Set(ctx context.Context, driverID types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *RedisGeo) Remove(ctx context.Context, driverID types.ID) error {
	return g.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err()
}

func (g *RedisGeo) Search(ctx context.Context, origin types.Point, radiusKm float64) ([]Nearby, error) {
	results, err := g.redis.GeoSearchLocation(ctx, driverGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lng,
			Latitude:   origin.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Nearby, len(results))
	for i, r := range results {
		out[i] = Nearby{
			DriverID:   types.ID(r.Name),
			Point:      types.Point{Lat: r.Latitude, Lng: r.Longitude},
			DistanceKm: r.Dist,
		}
	}
	return out, nil
}

type MemoryGeo struct {
	mu        sync.RWMutex
	positions map[types.ID]types.Point
}

func NewMemoryGeo() *MemoryGeo {
	return &MemoryGeo{positions: make(map[types.ID]types.Point)}
}

func (g *MemoryGeo) Set(_ context.Context, driverID types.ID, p types.Point) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[driverID] = p
	return nil
}

func (g *MemoryGeo) Remove(_ context.Context, driverID types.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, driverID)
	return nil
}

func (g *MemoryGeo) Search(_ context.Context, origin types.Point, radiusKm float64) ([]Nearby, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Nearby
	for id, p := range g.positions {
		if d := pricing.DistanceKm(origin, p); d <= radiusKm {
			out = append(out, Nearby{DriverID: id, Point: p, DistanceKm: d})
		}
	}
	sortByDistance(out, func(n Nearby) float64 { return n.DistanceKm })
	return out, nil
}

// sortByDistance is an insertion sort; result sets are small.
func sortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
