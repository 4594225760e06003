package cache

import (
	"fmt"

	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
)

// RouteKey identifies a path request.
type RouteKey struct {
	Source graph.Endpoint
	Target graph.Endpoint
}

func (k RouteKey) String() string {
	return fmt.Sprintf("route|%d|%d|%d|%d|%d|%d|%d|%d",
		k.Source.Region.Column, k.Source.Region.Row, k.Source.Cell.Column, k.Source.Cell.Row,
		k.Target.Region.Column, k.Target.Region.Row, k.Target.Cell.Column, k.Target.Cell.Row)
}

// KeyOf returns the key a route is stored under.
func KeyOf(r *graph.Route) RouteKey {
	return RouteKey{Source: r.Source, Target: r.Target}
}

// RouteCache maps path requests to planned routes, including explicit
// unreachable results.
type RouteCache struct {
	s *store[*graph.Route]
}

// NewRouteCache creates an empty route cache.
func NewRouteCache(opts Options) (*RouteCache, error) {
	s, err := newStore[*graph.Route](opts)
	if err != nil {
		return nil, err
	}
	return &RouteCache{s: s}, nil
}

// Get returns a live route. A miss means not planned yet, expired or
// invalidated.
func (c *RouteCache) Get(key RouteKey) (*graph.Route, bool) {
	return c.s.get(key.String())
}

// Put stores a route indexed by every region it passes through.
func (c *RouteCache) Put(r *graph.Route) bool {
	return c.s.put(KeyOf(r).String(), r, r.Regions())
}

// EvictRegions drops every route touching one of ids.
func (c *RouteCache) EvictRegions(ids ...grid.RegionID) int {
	return c.s.evictRegions(ids)
}

// PurgeUnreachable drops every cached unreachable result, since any cost
// change may have connected the endpoints.
func (c *RouteCache) PurgeUnreachable() int {
	return c.s.removeIf(func(r *graph.Route) bool { return r.Status == graph.RouteUnreachable })
}

// Sweep drops expired routes.
func (c *RouteCache) Sweep() int { return c.s.sweep() }

// Len returns the number of indexed routes.
func (c *RouteCache) Len() int { return c.s.len() }

// Close releases the underlying cache.
func (c *RouteCache) Close() { c.s.close() }
