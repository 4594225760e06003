package graph

import (
	"fmt"

	"github.com/gravitas-games/flowfield/internal/grid"
	"github.com/gravitas-games/flowfield/internal/portal"
)

// Endpoint is a cell addressed by region.
type Endpoint struct {
	Region grid.RegionID  `json:"region"`
	Cell   grid.FieldCell `json:"cell"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%s", e.Region, e.Cell)
}

// RouteStatus is the outcome of planning.
type RouteStatus int

const (
	// RouteFound means Waypoints leads from source to target.
	RouteFound RouteStatus = iota
	// RouteUnreachable means source and target are disconnected.
	RouteUnreachable
)

// String returns a human-readable representation of the status.
func (s RouteStatus) String() string {
	switch s {
	case RouteFound:
		return "found"
	case RouteUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Waypoint is a portal midpoint, or the target cell when Portal is zero.
type Waypoint struct {
	Region grid.RegionID  `json:"region"`
	Cell   grid.FieldCell `json:"cell"`
	Portal portal.Portal  `json:"portal"`
}

// Route is a planned sequence of portal waypoints ending at the target.
type Route struct {
	Source    Endpoint    `json:"source"`
	Target    Endpoint    `json:"target"`
	Waypoints []Waypoint  `json:"waypoints"`
	Nodes     []NodeID    `json:"-"`
	Cost      int         `json:"cost"`
	Status    RouteStatus `json:"status"`
}

// Unreachable returns the explicit no-route result for a request.
func Unreachable(source, target Endpoint) *Route {
	return &Route{Source: source, Target: target, Status: RouteUnreachable}
}

// Regions returns the regions visited in travel order, without repeats of
// consecutive entries. An unreachable route lists its endpoints.
func (r *Route) Regions() []grid.RegionID {
	out := []grid.RegionID{r.Source.Region}
	for _, w := range r.Waypoints {
		if out[len(out)-1] != w.Region {
			out = append(out, w.Region)
		}
	}
	if out[len(out)-1] != r.Target.Region {
		out = append(out, r.Target.Region)
	}
	return out
}

// Leg is the field a region needs for a route: flow toward Goal, leaving
// through Portal on side Exit. Exit is Zero in the target region.
type Leg struct {
	Region grid.RegionID
	Goal   grid.FieldCell
	Exit   grid.Ordinal
	Portal portal.Portal
}

// Legs lists the fields needed to follow the route, target region first.
// A waypoint is an exit when the next waypoint lies in another region.
func (r *Route) Legs() []Leg {
	if r.Status != RouteFound || len(r.Waypoints) == 0 {
		return nil
	}
	last := r.Waypoints[len(r.Waypoints)-1]
	legs := []Leg{{Region: last.Region, Goal: last.Cell, Exit: grid.Zero}}
	for i := len(r.Waypoints) - 2; i >= 0; i-- {
		w := r.Waypoints[i]
		if r.Waypoints[i+1].Region == w.Region {
			continue
		}
		legs = append(legs, Leg{Region: w.Region, Goal: w.Cell, Exit: w.Portal.Side, Portal: w.Portal})
	}
	return legs
}
