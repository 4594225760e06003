package graph

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/gravitas-games/flowfield/internal/grid"
)

// ErrNoRoute is returned when source and target are not connected.
var ErrNoRoute = errors.New("no route")

// virtualTarget stands in for the target cell during the search.
const virtualTarget NodeID = -1

// Planner searches the portal graph. Start and goal cells are attached to
// the graph with virtual edges costed by an in-region search.
type Planner struct {
	graph *Graph
	costs grid.FieldSource
}

// NewPlanner creates a planner over a graph and the cost view it was built from.
func NewPlanner(g *Graph, costs grid.FieldSource) *Planner {
	return &Planner{graph: g, costs: costs}
}

// Plan finds the cheapest route from source to target. It returns ErrNoRoute
// when no route exists. Equal-cost alternatives are resolved by node handle
// so a fixed graph always yields the same route.
func (p *Planner) Plan(source, target Endpoint) (*Route, error) {
	dims := p.graph.dims
	if err := dims.Check(source.Region, source.Cell); err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}
	if err := dims.Check(target.Region, target.Cell); err != nil {
		return nil, fmt.Errorf("invalid target: %w", err)
	}
	res := dims.Resolution

	srcField := p.costs.Field(source.Region)
	dstField := p.costs.Field(target.Region)
	if dstField.IsImpassable(target.Cell) {
		return nil, ErrNoRoute
	}

	fromSource := distances(srcField, source.Cell, false)
	if source.Region == target.Region {
		if d := fromSource[target.Cell.Index(res)]; d != unreached {
			return &Route{
				Source:    source,
				Target:    target,
				Waypoints: []Waypoint{{Region: target.Region, Cell: target.Cell}},
				Cost:      d,
				Status:    RouteFound,
			}, nil
		}
	}
	toTarget := distances(dstField, target.Cell, true)

	p.graph.mu.RLock()
	defer p.graph.mu.RUnlock()

	h := func(nid NodeID) int {
		n := p.graph.nodes[nid]
		return dims.Manhattan(n.Region, n.Portal.Cell(res), target.Region, target.Cell)
	}

	g := make(map[NodeID]int)
	came := make(map[NodeID]NodeID)
	closed := make(map[NodeID]bool)
	open := &nodePQ{}

	for _, nid := range p.graph.byRegion[source.Region] {
		d := fromSource[p.graph.nodes[nid].Portal.Cell(res).Index(res)]
		if d == unreached {
			continue
		}
		g[nid] = d
		heap.Push(open, &pqNode{id: nid, g: d, f: d + h(nid)})
	}

	for open.Len() > 0 {
		cur := heap.Pop(open).(*pqNode)
		if closed[cur.id] {
			continue
		}
		closed[cur.id] = true
		if cur.id == virtualTarget {
			return p.reconstruct(source, target, came, cur.g), nil
		}
		if cur.g > g[cur.id] {
			continue
		}

		n := p.graph.nodes[cur.id]
		if n.Region == target.Region {
			if d := toTarget[n.Portal.Cell(res).Index(res)]; d != unreached {
				tentative := cur.g + d
				if old, ok := g[virtualTarget]; !ok || tentative < old {
					g[virtualTarget] = tentative
					came[virtualTarget] = cur.id
					heap.Push(open, &pqNode{id: virtualTarget, g: tentative, f: tentative})
				}
			}
		}

		for _, e := range n.Edges {
			if closed[e.To] {
				continue
			}
			tentative := cur.g + e.Weight
			if old, ok := g[e.To]; !ok || tentative < old {
				g[e.To] = tentative
				came[e.To] = cur.id
				heap.Push(open, &pqNode{id: e.To, g: tentative, f: tentative + h(e.To)})
			}
		}
	}
	return nil, ErrNoRoute
}

func (p *Planner) reconstruct(source, target Endpoint, came map[NodeID]NodeID, cost int) *Route {
	var path []NodeID
	for k, ok := came[virtualTarget]; ok; k, ok = came[k] {
		path = append(path, k)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}

	res := p.graph.dims.Resolution
	route := &Route{Source: source, Target: target, Cost: cost, Status: RouteFound}
	for _, nid := range path {
		n := p.graph.nodes[nid]
		route.Waypoints = append(route.Waypoints, Waypoint{Region: n.Region, Cell: n.Portal.Cell(res), Portal: n.Portal})
		route.Nodes = append(route.Nodes, nid)
	}
	route.Waypoints = append(route.Waypoints, Waypoint{Region: target.Region, Cell: target.Cell})
	return route
}

type pqNode struct {
	id NodeID
	g  int
	f  int
}

type nodePQ []*pqNode

func (q nodePQ) Len() int { return len(q) }
func (q nodePQ) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].id < q[j].id
}
func (q nodePQ) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodePQ) Push(x any)   { *q = append(*q, x.(*pqNode)) }
func (q *nodePQ) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
