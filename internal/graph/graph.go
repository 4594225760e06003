// Package graph maintains the portal graph used for coarse routing between
// regions and plans routes over it.
package graph

import (
	"sort"
	"sync"

	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/portal"
)

// CrossingWeight is the cost of stepping over a region boundary.
const CrossingWeight = 1

// NodeID is a stable handle into the node arena. Handles are never reused.
type NodeID int

// Edge connects two portal nodes.
type Edge struct {
	To       NodeID
	Weight   int
	External bool
}

// Node is one portal of one region.
type Node struct {
	ID     NodeID
	Region grid.RegionID
	Portal portal.Portal
	Edges  []Edge
}

type segmentKey struct {
	region grid.RegionID
	portal portal.Portal
}

// Graph is the portal graph of one cost view. Grid addresses never appear
// on edges; the translator maps link the two address spaces.
type Graph struct {
	dims grid.Dimensions

	mu       sync.RWMutex
	nodes    map[NodeID]*Node
	index    map[segmentKey]NodeID
	byRegion map[grid.RegionID][]NodeID
	next     NodeID
}

// Build constructs the graph in three passes: nodes for every portal,
// internal edges inside every region, then external edges across every
// boundary.
func Build(src grid.FieldSource, portals *portal.Set) *Graph {
	dims := src.Dimensions()
	g := &Graph{
		dims:     dims,
		nodes:    make(map[NodeID]*Node),
		index:    make(map[segmentKey]NodeID),
		byRegion: make(map[grid.RegionID][]NodeID),
	}

	regions := dims.Regions()
	for _, id := range regions {
		g.addNodes(id, portals.Portals(id))
	}
	for _, id := range regions {
		g.linkInternal(src.Field(id), id)
	}
	for _, id := range regions {
		g.linkExternal(id)
	}
	for _, n := range g.nodes {
		sortEdges(n)
	}
	return g
}

// Rebuild replaces the nodes of the changed regions and their neighbours
// with fresh ones derived from the current portal set and costs. The rest of
// the graph is untouched. It returns the regions that were rebuilt.
func (g *Graph) Rebuild(src grid.FieldSource, portals *portal.Set, changed []grid.RegionID) []grid.RegionID {
	scope := g.dims.Expand(changed)
	if len(scope) == 0 {
		return nil
	}
	inScope := make(map[grid.RegionID]bool, len(scope))
	for _, id := range scope {
		inScope[id] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	touched := make(map[NodeID]bool)
	for _, id := range scope {
		for _, nid := range g.byRegion[id] {
			n := g.nodes[nid]
			for _, e := range n.Edges {
				if other, ok := g.nodes[e.To]; ok && !inScope[other.Region] {
					other.Edges = dropEdge(other.Edges, nid)
					touched[other.ID] = true
				}
			}
			delete(g.index, segmentKey{region: id, portal: n.Portal})
			delete(g.nodes, nid)
		}
		delete(g.byRegion, id)
	}

	for _, id := range scope {
		g.addNodes(id, portals.Portals(id))
	}
	for _, id := range scope {
		g.linkInternal(src.Field(id), id)
	}
	for _, id := range scope {
		for _, nid := range g.linkExternal(id) {
			touched[nid] = true
		}
	}
	for _, id := range scope {
		for _, nid := range g.byRegion[id] {
			sortEdges(g.nodes[nid])
		}
	}
	for nid := range touched {
		if n, ok := g.nodes[nid]; ok {
			sortEdges(n)
		}
	}
	return scope
}

func (g *Graph) addNodes(id grid.RegionID, ports []portal.Portal) {
	ids := make([]NodeID, 0, len(ports))
	for _, p := range ports {
		nid := g.next
		g.next++
		g.nodes[nid] = &Node{ID: nid, Region: id, Portal: p}
		g.index[segmentKey{region: id, portal: p}] = nid
		ids = append(ids, nid)
	}
	g.byRegion[id] = ids
}

// linkInternal connects every ordered pair of portals inside one region that
// can reach each other, weighted by the cheapest path between midpoints.
func (g *Graph) linkInternal(f *grid.CostField, id grid.RegionID) {
	res := g.dims.Resolution
	ids := g.byRegion[id]
	for _, from := range ids {
		src := g.nodes[from]
		dist := distances(f, src.Portal.Cell(res), false)
		for _, to := range ids {
			if to == from {
				continue
			}
			d := dist[g.nodes[to].Portal.Cell(res).Index(res)]
			if d == unreached {
				continue
			}
			src.Edges = append(src.Edges, Edge{To: to, Weight: d})
		}
	}
}

// linkExternal connects the portals of id to their counterparts. Edges are
// added in both directions so neighbours outside a rebuild are relinked.
// It returns the counterpart nodes that gained an edge.
func (g *Graph) linkExternal(id grid.RegionID) []NodeID {
	var linked []NodeID
	for _, nid := range g.byRegion[id] {
		n := g.nodes[nid]
		otherID := id.Step(n.Portal.Side)
		other, ok := g.index[segmentKey{region: otherID, portal: n.Portal.Counterpart()}]
		if !ok {
			continue
		}
		if !hasEdge(n.Edges, other) {
			n.Edges = append(n.Edges, Edge{To: other, Weight: CrossingWeight, External: true})
		}
		on := g.nodes[other]
		if !hasEdge(on.Edges, nid) {
			on.Edges = append(on.Edges, Edge{To: nid, Weight: CrossingWeight, External: true})
			linked = append(linked, other)
		}
	}
	return linked
}

func hasEdge(edges []Edge, to NodeID) bool {
	for _, e := range edges {
		if e.To == to {
			return true
		}
	}
	return false
}

func dropEdge(edges []Edge, to NodeID) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if e.To != to {
			out = append(out, e)
		}
	}
	return out
}

func sortEdges(n *Node) {
	sort.Slice(n.Edges, func(i, j int) bool { return n.Edges[i].To < n.Edges[j].To })
}

// Lookup translates a region and portal segment to its node.
func (g *Graph) Lookup(id grid.RegionID, p portal.Portal) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nid, ok := g.index[segmentKey{region: id, portal: p}]
	return nid, ok
}

// Locate translates a node back to its region and portal segment.
func (g *Graph) Locate(nid NodeID) (grid.RegionID, portal.Portal, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nid]
	if !ok {
		return grid.RegionID{}, portal.Portal{}, false
	}
	return n.Region, n.Portal, true
}

// NodeAt returns the node whose portal covers a boundary cell of id.
func (g *Graph) NodeAt(id grid.RegionID, cell grid.FieldCell) (NodeID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, nid := range g.byRegion[id] {
		if g.nodes[nid].Portal.Contains(cell, g.dims.Resolution) {
			return nid, true
		}
	}
	return 0, false
}

// Node returns a copy of one node including its edges.
func (g *Graph) Node(nid NodeID) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[nid]
	if !ok {
		return Node{}, false
	}
	cp := *n
	cp.Edges = append([]Edge(nil), n.Edges...)
	return cp, true
}

// NodesIn returns the node handles of one region in portal order.
func (g *Graph) NodesIn(id grid.RegionID) []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]NodeID(nil), g.byRegion[id]...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
