package graph

import (
	"container/heap"
	"math"

	"github.com/gravitas-games/flowfield/internal/grid"
)

// unreached marks a cell no path reaches.
const unreached = math.MaxInt

// distances runs Dijkstra over the orthogonal moves of one region. Moving
// into a cell costs that cell's value. With reverse set the result is the
// cost of travelling from each cell to origin instead of from origin.
func distances(f *grid.CostField, origin grid.FieldCell, reverse bool) []int {
	res := f.Resolution()
	dist := make([]int, res*res)
	for i := range dist {
		dist[i] = unreached
	}
	if !origin.InBounds(res) {
		return dist
	}

	open := &cellPQ{}
	dist[origin.Index(res)] = 0
	heap.Push(open, cellItem{index: origin.Index(res), cost: 0})

	for open.Len() > 0 {
		cur := heap.Pop(open).(cellItem)
		if cur.cost > dist[cur.index] {
			continue
		}
		c := grid.CellAt(cur.index, res)
		for _, o := range grid.Orthogonals {
			n := c.Step(o)
			if f.IsImpassable(n) {
				continue
			}
			step := int(f.Get(n))
			if reverse {
				// travelling n -> c enters c
				step = int(f.Get(c))
			}
			next := cur.cost + step
			ni := n.Index(res)
			if next < dist[ni] {
				dist[ni] = next
				heap.Push(open, cellItem{index: ni, cost: next})
			}
		}
	}
	return dist
}

type cellItem struct {
	index int
	cost  int
}

type cellPQ []cellItem

func (p cellPQ) Len() int { return len(p) }
func (p cellPQ) Less(i, j int) bool {
	if p[i].cost != p[j].cost {
		return p[i].cost < p[j].cost
	}
	return p[i].index < p[j].index
}
func (p cellPQ) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p *cellPQ) Push(x any)   { *p = append(*p, x.(cellItem)) }
func (p *cellPQ) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]
	return x
}
