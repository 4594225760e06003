// Package field builds integration and flow fields for one region.
//
// An integration field holds, per cell, the cumulative cost of reaching the
// region's goal together with annotation flags. A flow field compresses it to
// one byte per cell: the direction to step and what the cell represents.
package field

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/portal"
)

// Integration entry layout: cost in bits 0-23, flags above.
const (
	CostMask uint32 = 1<<24 - 1
	// MaxCost marks a cell no wavefront has reached.
	MaxCost = CostMask

	FlagLOS         uint32 = 1 << 24
	FlagGoal        uint32 = 1 << 25
	FlagWaveBlocked uint32 = 1 << 26
	FlagPortal      uint32 = 1 << 27
	FlagImpassable  uint32 = 1 << 28
	FlagCorner      uint32 = 1 << 29
)

// ErrGoalImpassable is returned when the goal cell cannot be entered.
var ErrGoalImpassable = errors.New("goal cell is impassable")

// Goal describes what a region's field converges on. In the route's target
// region Exit is Zero and Cell is the target. Otherwise Cell is the
// representative cell of Portal, the segment the route leaves through.
type Goal struct {
	Cell   grid.FieldCell
	Exit   grid.Ordinal
	Portal portal.Portal
}

// IsTarget reports whether this is the route's final region.
func (g Goal) IsTarget() bool { return g.Exit == grid.Zero }

// IntegrationField is the per-cell cost-to-goal of one region.
type IntegrationField struct {
	res   int
	cells []uint32
}

// NewIntegrationField allocates a field. Resolutions above
// grid.MaxResolution could overflow the 24-bit cost.
func NewIntegrationField(res int) (*IntegrationField, error) {
	if res <= 0 || res > grid.MaxResolution {
		return nil, fmt.Errorf("resolution %d outside [1, %d]", res, grid.MaxResolution)
	}
	return &IntegrationField{res: res, cells: make([]uint32, res*res)}, nil
}

// Resolution returns the side length of the field.
func (f *IntegrationField) Resolution() int { return f.res }

// Cost returns the integrated cost of a cell.
func (f *IntegrationField) Cost(c grid.FieldCell) uint32 {
	return f.cells[c.Index(f.res)] & CostMask
}

// Has reports whether every bit of flag is set on c.
func (f *IntegrationField) Has(c grid.FieldCell, flag uint32) bool {
	return f.cells[c.Index(f.res)]&flag == flag
}

// Raw returns the full entry of a cell.
func (f *IntegrationField) Raw(c grid.FieldCell) uint32 {
	return f.cells[c.Index(f.res)]
}

func (f *IntegrationField) setCost(i int, cost uint32) {
	f.cells[i] = f.cells[i]&^CostMask | cost&CostMask
}

func (f *IntegrationField) flag(i int, flag uint32) {
	f.cells[i] |= flag
}

// Reset sets every cost to MaxCost and flags the impassable cells.
func (f *IntegrationField) Reset(costs *grid.CostField) {
	for i := range f.cells {
		f.cells[i] = MaxCost
		if costs.IsImpassable(grid.CellAt(i, f.res)) {
			f.cells[i] |= FlagImpassable
		}
	}
}

// BuildIntegration computes the integration field of one region. For the
// target region it runs line-of-sight propagation from the goal followed by
// cost integration; for other regions the exit portal is expanded to its
// full width and costs integrate from there.
func BuildIntegration(costs *grid.CostField, goal Goal) (*IntegrationField, error) {
	res := costs.Resolution()
	if !goal.Cell.InBounds(res) {
		return nil, fmt.Errorf("%w: goal %s", grid.ErrCellOutOfBounds, goal.Cell)
	}
	if costs.IsImpassable(goal.Cell) {
		return nil, ErrGoalImpassable
	}

	f, err := NewIntegrationField(res)
	if err != nil {
		return nil, err
	}
	f.Reset(costs)

	var seeds []int
	if goal.IsTarget() {
		gi := goal.Cell.Index(res)
		f.setCost(gi, 0)
		f.flag(gi, FlagGoal)
		seeds = f.propagateLOS(costs, goal.Cell)
	} else {
		seeds = f.expandPortal(costs, goal.Portal)
	}
	f.integrateCosts(costs, seeds)
	return f, nil
}

// expandPortal seeds every pathable cell of the exit segment at cost zero.
func (f *IntegrationField) expandPortal(costs *grid.CostField, p portal.Portal) []int {
	var seeds []int
	for _, c := range p.Cells(f.res) {
		if costs.IsImpassable(c) {
			continue
		}
		i := c.Index(f.res)
		f.setCost(i, 0)
		f.flag(i, FlagPortal)
		seeds = append(seeds, i)
	}
	return seeds
}

// propagateLOS runs a breadth-first wavefront from the goal over orthogonal
// neighbours, flagging visible cells with LOS and their step distance. Where
// the wavefront meets an obstacle edge, the open cell rounding the edge is
// flagged as a corner and the shadow behind it is marked wave-blocked. Every
// candidate is confirmed by a straight line test before it receives LOS.
// It returns the LOS cells in visiting order.
func (f *IntegrationField) propagateLOS(costs *grid.CostField, goal grid.FieldCell) []int {
	res := f.res
	blocked := func(c grid.FieldCell) bool { return costs.IsImpassable(c) }

	gi := goal.Index(res)
	f.flag(gi, FlagLOS)
	visited := []int{gi}
	queue := []grid.FieldCell{goal}

	for len(queue) > 0 {
		w := queue[0]
		queue = queue[1:]
		next := f.Cost(w) + 1

		for _, o := range grid.Orthogonals {
			n := w.Step(o)
			if !n.InBounds(res) {
				continue
			}
			ni := n.Index(res)
			if f.cells[ni]&FlagImpassable != 0 {
				f.markCorners(costs, goal, w, n, o)
				continue
			}
			if f.cells[ni]&(FlagLOS|FlagWaveBlocked) != 0 {
				continue
			}
			if !grid.LineOfSight(goal, n, blocked) {
				f.flag(ni, FlagWaveBlocked)
				continue
			}
			f.setCost(ni, next)
			f.flag(ni, FlagLOS)
			visited = append(visited, ni)
			queue = append(queue, n)
		}
	}
	return visited
}

// markCorners handles wavefront cell w meeting impassable cell n in
// direction o. For each side p, if both w+p and n+p are open then n+p rounds
// the obstacle: it is flagged a corner and the ray from the goal through it
// is wave-blocked beyond it.
func (f *IntegrationField) markCorners(costs *grid.CostField, goal, w, n grid.FieldCell, o grid.Ordinal) {
	res := f.res
	a, b := o.Perpendicular()
	for _, p := range []grid.Ordinal{a, b} {
		wp, np := w.Step(p), n.Step(p)
		if !wp.InBounds(res) || !np.InBounds(res) {
			continue
		}
		if costs.IsImpassable(wp) || costs.IsImpassable(np) {
			continue
		}
		f.flag(np.Index(res), FlagCorner)
		grid.Ray(goal, np, res, func(c grid.FieldCell) bool {
			if !past(goal, np, c) {
				return true
			}
			ci := c.Index(res)
			if f.cells[ci]&FlagImpassable != 0 {
				return false
			}
			if f.cells[ci]&FlagLOS == 0 {
				f.flag(ci, FlagWaveBlocked)
			}
			return true
		})
	}
}

// past reports whether c lies further from origin than via along a ray.
func past(origin, via, c grid.FieldCell) bool {
	dv := absInt(via.Column-origin.Column) + absInt(via.Row-origin.Row)
	dc := absInt(c.Column-origin.Column) + absInt(c.Row-origin.Row)
	return dc > dv
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}

// integrateCosts runs Dijkstra from the seed cells over every cell that is
// neither LOS nor impassable. Entering a cell adds its grid cost.
func (f *IntegrationField) integrateCosts(costs *grid.CostField, seeds []int) {
	res := f.res
	open := &wavePQ{}
	for _, i := range seeds {
		heap.Push(open, waveItem{index: i, cost: f.cells[i] & CostMask})
	}

	for open.Len() > 0 {
		cur := heap.Pop(open).(waveItem)
		if cur.cost > f.cells[cur.index]&CostMask {
			continue
		}
		c := grid.CellAt(cur.index, res)
		for _, o := range grid.Orthogonals {
			n := c.Step(o)
			if !n.InBounds(res) {
				continue
			}
			ni := n.Index(res)
			if f.cells[ni]&(FlagLOS|FlagImpassable) != 0 {
				continue
			}
			next := cur.cost + uint32(costs.Get(n))
			if next < f.cells[ni]&CostMask {
				f.setCost(ni, next)
				heap.Push(open, waveItem{index: ni, cost: next})
			}
		}
	}
}

type waveItem struct {
	index int
	cost  uint32
}

type wavePQ []waveItem

func (p wavePQ) Len() int { return len(p) }
func (p wavePQ) Less(i, j int) bool {
	if p[i].cost != p[j].cost {
		return p[i].cost < p[j].cost
	}
	return p[i].index < p[j].index
}
func (p wavePQ) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p *wavePQ) Push(x any)   { *p = append(*p, x.(waveItem)) }
func (p *wavePQ) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]
	return x
}
