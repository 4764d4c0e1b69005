package runner

import (
	"bathguard/internal/config"
	"bathguard/internal/models"
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// WeatherSource fetches current outdoor conditions
type WeatherSource interface {
	GetOutdoorConditions(ctx context.Context, lat, long float64) (*models.OutdoorConditions, error)
}

type cachedWeather struct {
	conditions *models.OutdoorConditions
	fetchedAt  time.Time
}

// weatherCache keeps one outdoor reading per location for ttl
type weatherCache struct {
	source WeatherSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedWeather
}

func newWeatherCache(source WeatherSource, ttl time.Duration) *weatherCache {
	return &weatherCache{
		source:  source,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedWeather),
	}
}

// get returns cached conditions for loc, refreshing them once they are older than
// ttl. When a refresh fails the previous value is served until the next attempt.
func (w *weatherCache) get(ctx context.Context, loc config.Location) (*models.OutdoorConditions, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.entries[loc.Name]
	if ok && w.now().Sub(entry.fetchedAt) < w.ttl {
		return entry.conditions, nil
	}

	conditions, err := w.source.GetOutdoorConditions(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		if ok {
			log.Printf("Weather refresh for %s failed, using reading from %s: %v",
				loc.Name, entry.fetchedAt.Format(time.RFC3339), err)
			return entry.conditions, nil
		}
		return nil, fmt.Errorf("failed to fetch weather for %s: %w", loc.Name, err)
	}

	conditions.Location = loc.Name
	w.entries[loc.Name] = cachedWeather{conditions: conditions, fetchedAt: w.now()}
	log.Printf("✓ Outdoor conditions for %s: %.1f°C, %.0f%%", loc.Name, conditions.Temperature, conditions.Humidity)
	return conditions, nil
}
