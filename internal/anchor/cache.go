package anchor

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"
)

// Cache holds one anchor Set per input resolution for a fixed Config.
// Sets are generated on first use and shared read-only afterwards.
type Cache struct {
	cfg   Config
	store *gocache.Cache
}

// NewCache validates cfg and returns an empty cache
func NewCache(cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cache{
		cfg:   cfg,
		store: gocache.New(gocache.NoExpiration, 0),
	}, nil
}

// Config returns the anchor layout the cache generates
func (c *Cache) Config() Config {
	return c.cfg
}

// Get returns the anchor set for width x height, generating it if needed
func (c *Cache) Get(width, height int) (*Set, error) {
	key := fmt.Sprintf("%dx%d", width, height)
	if v, ok := c.store.Get(key); ok {
		return v.(*Set), nil
	}

	set, err := Generate(width, height, c.cfg)
	if err != nil {
		return nil, err
	}

	// another caller may have added the same set first
	if err := c.store.Add(key, set, gocache.NoExpiration); err != nil {
		if v, ok := c.store.Get(key); ok {
			return v.(*Set), nil
		}
	}
	return set, nil
}

// Len returns the number of cached resolutions
func (c *Cache) Len() int {
	return c.store.ItemCount()
}
