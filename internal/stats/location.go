package stats

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LocationCache memoizes IANA time zone lookups.
type LocationCache struct {
	cache *lru.Cache[string, *time.Location]
}

// NewLocationCache creates a cache holding up to size zones.
func NewLocationCache(size int) (*LocationCache, error) {
	cache, err := lru.New[string, *time.Location](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create location cache: %w", err)
	}
	return &LocationCache{cache: cache}, nil
}

// Load resolves name, treating the empty string as UTC.
func (c *LocationCache) Load(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	if loc, ok := c.cache.Get(name); ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
	}

	c.cache.Add(name, loc)
	return loc, nil
}
