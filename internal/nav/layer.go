package nav

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/portal"
)

// Layer is the navigation state of one agent class: the clearance view of
// the world, its portals and region graph, and the caches built on them.
type Layer struct {
	name      string
	clearance grid.Clearance
	dims      grid.Dimensions

	// mu guards view, portals and graph against the apply stage. Cost
	// fields inside view are replaced, never written in place, so a field
	// taken under the read lock stays consistent after it is released.
	mu      sync.RWMutex
	view    *grid.CostMap
	portals *portal.Set
	graph   *graph.Graph
	planner *graph.Planner

	routes *cache.RouteCache
	fields *cache.FieldCache

	genMu       sync.Mutex
	generations map[grid.RegionID]uint64
	buildLocks  map[grid.RegionID]*sync.Mutex
}

func newLayer(class AgentClass, base *grid.CostMap, opts cache.Options) (*Layer, error) {
	routes, err := cache.NewRouteCache(opts)
	if err != nil {
		return nil, err
	}
	fields, err := cache.NewFieldCache(opts)
	if err != nil {
		routes.Close()
		return nil, err
	}

	view := class.Clearance.Derive(base)
	portals := portal.NewSet(view)
	g := graph.Build(view, portals)

	return &Layer{
		name:        class.Name,
		clearance:   class.Clearance,
		dims:        base.Dimensions(),
		view:        view,
		portals:     portals,
		graph:       g,
		planner:     graph.NewPlanner(g, view),
		routes:      routes,
		fields:      fields,
		generations: make(map[grid.RegionID]uint64),
		buildLocks:  make(map[grid.RegionID]*sync.Mutex),
	}, nil
}

// Name returns the agent class name.
func (l *Layer) Name() string { return l.name }

// Clearance returns the clearance the view was derived with.
func (l *Layer) Clearance() grid.Clearance { return l.clearance }

// Cost reads one cell of the derived view.
func (l *Layer) Cost(id grid.RegionID, cell grid.FieldCell) uint8 {
	return l.costField(id).Get(cell)
}

func (l *Layer) costField(id grid.RegionID) *grid.CostField {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.view.Field(id)
}

// Portals returns the portals of one region in this layer.
func (l *Layer) Portals(id grid.RegionID) []portal.Portal {
	return l.portals.Portals(id)
}

// Nodes returns the number of portal nodes in the region graph.
func (l *Layer) Nodes() int { return l.graph.Len() }

// Routes exposes the layer's route cache.
func (l *Layer) Routes() *cache.RouteCache { return l.routes }

// Fields exposes the layer's field cache.
func (l *Layer) Fields() *cache.FieldCache { return l.fields }

func (l *Layer) plan(source, target graph.Endpoint) (*graph.Route, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.planner.Plan(source, target)
}

func (l *Layer) generation(id grid.RegionID) uint64 {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	return l.generations[id]
}

func (l *Layer) buildLock(id grid.RegionID) *sync.Mutex {
	l.genMu.Lock()
	defer l.genMu.Unlock()
	m, ok := l.buildLocks[id]
	if !ok {
		m = &sync.Mutex{}
		l.buildLocks[id] = m
	}
	return m
}

// applyResult describes what one mutation batch did to a layer.
type applyResult struct {
	viewChanged []grid.RegionID
	rebuilt     []grid.RegionID
	evicted     []grid.RegionID
	routes      int
	fields      int
}

// apply brings the layer up to date with a new baseline after the regions
// in dirty changed. It rederives the view, recomputes portals, rebuilds
// the graph locally and evicts every cache entry touching a changed region.
func (l *Layer) apply(base *grid.CostMap, dirty []grid.RegionID) applyResult {
	var res applyResult
	across := make(map[grid.RegionID]bool)

	l.mu.Lock()
	for _, id := range l.clearance.Affected(l.dims, dirty) {
		next := l.clearance.DeriveRegion(base, id)
		prev := l.view.Field(id)
		if prev.Equal(next) {
			continue
		}
		res.viewChanged = append(res.viewChanged, id)
		for _, side := range changedSides(prev, next) {
			if nb := id.Step(side); l.dims.Contains(nb) {
				across[nb] = true
			}
		}
		l.view.Replace(id, next)
	}
	if len(res.viewChanged) == 0 {
		l.mu.Unlock()
		return res
	}

	portalChanged := l.portals.Recompute(l.view, l.dims.Expand(res.viewChanged))
	changed := union(res.viewChanged, portalChanged)
	res.rebuilt = l.graph.Rebuild(l.view, l.portals, changed)
	l.mu.Unlock()

	res.evicted = union(changed, keys(across))
	res.routes = l.routes.EvictRegions(res.evicted...) + l.routes.PurgeUnreachable()
	res.fields = l.fields.EvictRegions(res.evicted...)

	l.genMu.Lock()
	for _, id := range res.evicted {
		l.generations[id]++
	}
	l.genMu.Unlock()
	return res
}

func (l *Layer) close() {
	l.routes.Close()
	l.fields.Close()
}

// changedSides lists the boundary sides on which prev and next differ.
func changedSides(prev, next *grid.CostField) []grid.Ordinal {
	res := prev.Resolution()
	seen := make(map[grid.Ordinal]bool, 4)
	for i := 0; i < res*res; i++ {
		c := grid.CellAt(i, res)
		if prev.Get(c) == next.Get(c) {
			continue
		}
		if c.Row == 0 {
			seen[grid.North] = true
		}
		if c.Row == res-1 {
			seen[grid.South] = true
		}
		if c.Column == 0 {
			seen[grid.West] = true
		}
		if c.Column == res-1 {
			seen[grid.East] = true
		}
	}
	var out []grid.Ordinal
	for _, o := range grid.Orthogonals {
		if seen[o] {
			out = append(out, o)
		}
	}
	return out
}

func keys(set map[grid.RegionID]bool) []grid.RegionID {
	out := make([]grid.RegionID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// union merges region lists into one sorted list without duplicates.
func union(lists ...[]grid.RegionID) []grid.RegionID {
	var out []grid.RegionID
	for _, ids := range lists {
		out = append(out, ids...)
	}
	slices.SortFunc(out, compareRegions)
	return slices.Compact(out)
}

func compareRegions(a, b grid.RegionID) int {
	if c := cmp.Compare(a.Row, b.Row); c != 0 {
		return c
	}
	return cmp.Compare(a.Column, b.Column)
}
