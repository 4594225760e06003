// Package nav runs the navigation pipeline: it owns the world cost grid,
// keeps one navigation layer per agent class and advances path requests,
// cost mutations and field builds in a fixed order every tick.
package nav

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gravitas-games/flowfield/internal/cache"
	"github.com/gravitas-games/flowfield/internal/config"
	"github.com/gravitas-games/flowfield/internal/field"
	"github.com/gravitas-games/flowfield/internal/graph"
	"github.com/gravitas-games/flowfield/internal/grid"
)

var (
	// ErrUnknownAgentClass is returned for a class no layer was built for.
	ErrUnknownAgentClass = errors.New("unknown agent class")
	// ErrImpassableGoal is returned when a target cell cannot be entered.
	ErrImpassableGoal = errors.New("goal cell is impassable")
	// ErrNoPortal is returned when a field query names an exit that is not
	// the representative cell of a portal.
	ErrNoPortal = errors.New("no portal at exit cell")
)

// AgentClass names a clearance.
type AgentClass struct {
	Name      string
	Clearance grid.Clearance
}

// Options configures an Engine.
type Options struct {
	Classes        []AgentClass
	TickRate       int // Hz
	MaxFieldBuilds int // field builds started per tick
	Workers        int // concurrent field builds
	SweepInterval  time.Duration
	Cache          cache.Options
}

// OptionsFromConfig maps the server configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		TickRate:       cfg.Server.TickRate,
		MaxFieldBuilds: cfg.Pipeline.MaxFieldBuilds,
		Workers:        cfg.Pipeline.Workers,
		SweepInterval:  cfg.Cache.SweepInterval,
		Cache: cache.Options{
			TTL:        cfg.Cache.TTL,
			MaxEntries: cfg.Cache.MaxEntries,
		},
	}
	for _, a := range cfg.Agents {
		opts.Classes = append(opts.Classes, AgentClass{
			Name:      a.Name,
			Clearance: grid.Clearance{Footprint: a.Footprint, CellSize: a.CellSize},
		})
	}
	return opts
}

func (o Options) withDefaults() Options {
	if len(o.Classes) == 0 {
		o.Classes = []AgentClass{{Name: "default"}}
	}
	if o.TickRate <= 0 {
		o.TickRate = 20
	}
	if o.MaxFieldBuilds <= 0 {
		o.MaxFieldBuilds = 16
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	return o
}

// PathRequest asks for a route for one agent class.
type PathRequest struct {
	Class  string
	Source graph.Endpoint
	Target graph.Endpoint

	// Accept, when set, receives the request ID before the request can be
	// planned, so a subscriber can register for its events first. It runs
	// under the engine lock and must not call back into the engine.
	Accept func(id string)
}

type requestKey struct {
	class string
	route cache.RouteKey
}

type pendingRequest struct {
	id    string
	layer *Layer
	req   PathRequest
}

type cellKey struct {
	region grid.RegionID
	cell   grid.FieldCell
}

type jobKey struct {
	layer string
	field string
}

// fieldLeg is one region's field build, tagged with the region generation
// it was planned against.
type fieldLeg struct {
	key  cache.FieldKey
	goal field.Goal
	gen  uint64
}

// buildJob walks the legs of one route, one leg per tick.
type buildJob struct {
	requestID string
	layer     *Layer
	legs      []fieldLeg
	next      int
}

func (j *buildJob) done() bool { return j.next >= len(j.legs) }

// Engine is the navigation pipeline. Callers queue work through
// RequestPath, Field and SetCost; Tick advances it. All methods are safe
// for concurrent use.
type Engine struct {
	world  *grid.World
	opts   Options
	logger *zap.Logger
	bus    EventBus

	layers map[string]*Layer
	order  []string

	tickMu sync.Mutex

	mu        sync.Mutex
	mutations map[cellKey]uint8
	requests  []*pendingRequest
	requested map[requestKey]string
	jobs      []*buildJob
	queued    map[jobKey]bool

	// beforePublish runs between building a field and publishing it.
	beforePublish func()
}

// NewEngine builds one layer per agent class over world.
func NewEngine(world *grid.World, opts Options, logger *zap.Logger, bus EventBus) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewNullEventBus()
	}
	opts = opts.withDefaults()

	e := &Engine{
		world:     world,
		opts:      opts,
		logger:    logger,
		bus:       bus,
		layers:    make(map[string]*Layer, len(opts.Classes)),
		mutations: make(map[cellKey]uint8),
		requested: make(map[requestKey]string),
		queued:    make(map[jobKey]bool),
	}

	dims := world.Dimensions()
	base := world.Snapshot()
	for _, class := range opts.Classes {
		if _, ok := e.layers[class.Name]; ok {
			e.Close()
			return nil, fmt.Errorf("duplicate agent class %q", class.Name)
		}
		if err := class.Clearance.Validate(dims.Resolution); err != nil {
			e.Close()
			return nil, fmt.Errorf("agent class %q: %w", class.Name, err)
		}
		l, err := newLayer(class, base, opts.Cache)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("agent class %q: %w", class.Name, err)
		}
		e.layers[class.Name] = l
		e.order = append(e.order, class.Name)

		logger.Info("Navigation layer ready",
			zap.String("class", class.Name),
			zap.Int("scale", class.Clearance.Scale()),
			zap.Int("nodes", l.Nodes()))
	}
	return e, nil
}

// Close releases the caches of every layer.
func (e *Engine) Close() {
	for _, l := range e.layers {
		l.close()
	}
}

// Dimensions returns the world partition.
func (e *Engine) Dimensions() grid.Dimensions { return e.world.Dimensions() }

// Classes returns the agent class names in configuration order.
func (e *Engine) Classes() []string { return append([]string(nil), e.order...) }

// Layer returns the layer of one agent class.
func (e *Engine) Layer(class string) (*Layer, error) {
	l, ok := e.layers[class]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentClass, class)
	}
	return l, nil
}

// Cost returns the baseline cost of one cell.
func (e *Engine) Cost(id grid.RegionID, cell grid.FieldCell) (uint8, error) {
	return e.world.Cost(id, cell)
}

// SetCost queues a cost mutation. It is applied at the start of the next
// tick; later writes to the same cell before then replace earlier ones.
func (e *Engine) SetCost(id grid.RegionID, cell grid.FieldCell, cost uint8) error {
	if err := e.world.Dimensions().Check(id, cell); err != nil {
		return err
	}
	if cost == 0 {
		return fmt.Errorf("%w: cost must be in [1, 255]", grid.ErrInvalidCost)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.mutations[cellKey{region: id, cell: cell}] = cost
	return nil
}

// PendingMutations returns the number of queued cell writes.
func (e *Engine) PendingMutations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.mutations)
}

// RequestPath validates a path request and queues it for planning. It
// returns the request ID; identical requests queued in the same tick share
// one ID. The route appears in the route cache once planned.
func (e *Engine) RequestPath(req PathRequest) (string, error) {
	l, err := e.Layer(req.Class)
	if err != nil {
		return "", err
	}
	dims := e.world.Dimensions()
	if err := dims.Check(req.Source.Region, req.Source.Cell); err != nil {
		return "", fmt.Errorf("invalid source: %w", err)
	}
	if err := dims.Check(req.Target.Region, req.Target.Cell); err != nil {
		return "", fmt.Errorf("invalid target: %w", err)
	}
	if l.Cost(req.Target.Region, req.Target.Cell) == grid.Impassable {
		return "", ErrImpassableGoal
	}

	key := requestKey{class: req.Class, route: cache.RouteKey{Source: req.Source, Target: req.Target}}

	e.mu.Lock()
	defer e.mu.Unlock()
	if id, ok := e.requested[key]; ok {
		if req.Accept != nil {
			req.Accept(id)
		}
		return id, nil
	}
	id := uuid.NewString()
	if req.Accept != nil {
		req.Accept(id)
	}
	e.requested[key] = id
	e.requests = append(e.requests, &pendingRequest{id: id, layer: l, req: req})
	return id, nil
}

// Route returns the cached route for a request. A miss means the request
// has not been planned yet, expired or was invalidated.
func (e *Engine) Route(class string, source, target graph.Endpoint) (*graph.Route, bool, error) {
	l, err := e.Layer(class)
	if err != nil {
		return nil, false, err
	}
	r, ok := l.routes.Get(cache.RouteKey{Source: source, Target: target})
	return r, ok, nil
}

// Field returns a cached flow field. On a miss the build is queued and
// the caller should ask again after a later tick.
func (e *Engine) Field(class string, key cache.FieldKey) (*field.FlowField, bool, error) {
	l, err := e.Layer(class)
	if err != nil {
		return nil, false, err
	}
	if err := e.world.Dimensions().Check(key.Region, key.Goal); err != nil {
		return nil, false, err
	}
	if f, ok := l.fields.Get(key); ok {
		return f, true, nil
	}

	goal := field.Goal{Cell: key.Goal, Exit: key.Exit}
	if key.Exit == grid.Zero {
		if l.Cost(key.Region, key.Goal) == grid.Impassable {
			return nil, false, ErrImpassableGoal
		}
	} else {
		p, ok := l.portals.Find(key.Region, key.Exit, key.Goal)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s %s %s", ErrNoPortal, key.Region, key.Exit, key.Goal)
		}
		goal.Portal = p
	}

	e.enqueue("", l, []fieldLeg{{key: key, goal: goal, gen: l.generation(key.Region)}})
	return nil, false, nil
}

// enqueue adds a build job for the legs not already queued.
func (e *Engine) enqueue(requestID string, l *Layer, legs []fieldLeg) {
	e.mu.Lock()
	defer e.mu.Unlock()

	job := &buildJob{requestID: requestID, layer: l}
	for _, leg := range legs {
		k := jobKey{layer: l.name, field: leg.key.String()}
		if e.queued[k] {
			continue
		}
		e.queued[k] = true
		job.legs = append(job.legs, leg)
	}
	if len(job.legs) > 0 {
		e.jobs = append(e.jobs, job)
	}
}

func (e *Engine) unqueue(l *Layer, key cache.FieldKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.queued, jobKey{layer: l.name, field: key.String()})
}

// QueuedBuilds returns the number of field builds waiting to run.
func (e *Engine) QueuedBuilds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queued)
}

// Tick runs one pass of the pipeline: apply queued mutations, plan queued
// requests, then advance field builds. Ticks never overlap.
func (e *Engine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.applyMutations()
	e.planRoutes()
	return e.buildFields(ctx)
}

func (e *Engine) applyMutations() {
	e.mu.Lock()
	batch := e.mutations
	e.mutations = make(map[cellKey]uint8)
	e.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	dirty := make(map[grid.RegionID]bool)
	for k, cost := range batch {
		changed, err := e.world.SetCost(k.region, k.cell, cost)
		if err != nil {
			e.logger.Warn("Dropping cost mutation", zap.Stringer("region", k.region), zap.Stringer("cell", k.cell), zap.Error(err))
			continue
		}
		if changed {
			dirty[k.region] = true
		}
	}
	if len(dirty) == 0 {
		return
	}

	regions := keys(dirty)
	base := e.world.Snapshot()
	for _, name := range e.order {
		l := e.layers[name]
		res := l.apply(base, regions)
		if len(res.evicted) == 0 {
			continue
		}
		e.logger.Debug("Applied cost mutations",
			zap.String("class", name),
			zap.Int("cells", len(batch)),
			zap.Int("view_changed", len(res.viewChanged)),
			zap.Int("rebuilt", len(res.rebuilt)),
			zap.Int("routes_evicted", res.routes),
			zap.Int("fields_evicted", res.fields))
		e.bus.Publish(Event{
			Type:      EventRegionCostChanged,
			Layer:     name,
			Regions:   res.evicted,
			Timestamp: time.Now(),
		})
	}
}

func (e *Engine) planRoutes() {
	e.mu.Lock()
	reqs := e.requests
	e.requests = nil
	for _, r := range reqs {
		delete(e.requested, requestKey{class: r.req.Class, route: cache.RouteKey{Source: r.req.Source, Target: r.req.Target}})
	}
	e.mu.Unlock()

	for _, r := range reqs {
		l := r.layer
		route, ok := l.routes.Get(cache.RouteKey{Source: r.req.Source, Target: r.req.Target})
		if !ok {
			var err error
			route, err = l.plan(r.req.Source, r.req.Target)
			switch {
			case errors.Is(err, graph.ErrNoRoute):
				route = graph.Unreachable(r.req.Source, r.req.Target)
			case err != nil:
				e.logger.Warn("Failed to plan route", zap.String("request", r.id), zap.Error(err))
				continue
			}
			if !l.routes.Put(route) {
				e.logger.Warn("Route cache rejected route", zap.String("request", r.id), zap.Stringer("source", route.Source), zap.Stringer("target", route.Target))
			}
		}

		if route.Status == graph.RouteUnreachable {
			e.logger.Debug("Route unreachable", zap.String("request", r.id), zap.Stringer("source", route.Source), zap.Stringer("target", route.Target))
			e.bus.Publish(Event{Type: EventRouteUnreachable, Layer: l.name, RequestID: r.id, Route: route, Timestamp: time.Now()})
			continue
		}

		e.logger.Debug("Route planned", zap.String("request", r.id), zap.Int("waypoints", len(route.Waypoints)), zap.Int("cost", route.Cost))
		e.bus.Publish(Event{Type: EventRoutePlanned, Layer: l.name, RequestID: r.id, Route: route, Regions: route.Regions(), Timestamp: time.Now()})

		var legs []fieldLeg
		for _, leg := range route.Legs() {
			legs = append(legs, fieldLeg{
				key:  cache.FieldKey{Region: leg.Region, Goal: leg.Goal, Exit: leg.Exit},
				goal: field.Goal{Cell: leg.Goal, Exit: leg.Exit, Portal: leg.Portal},
				gen:  l.generation(leg.Region),
			})
		}
		e.enqueue(r.id, l, legs)
	}
}

type buildStep struct {
	job *buildJob
	leg fieldLeg
}

func (e *Engine) buildFields(ctx context.Context) error {
	e.mu.Lock()
	n := min(len(e.jobs), e.opts.MaxFieldBuilds)
	batch := append([]*buildJob(nil), e.jobs[:n]...)
	e.jobs = append([]*buildJob(nil), e.jobs[n:]...)
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var steps []buildStep
	for _, job := range batch {
		if leg, ok := e.nextLeg(job); ok {
			steps = append(steps, buildStep{job: job, leg: leg})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, s := range steps {
		g.Go(func() error {
			return e.build(gctx, s.job, s.leg)
		})
	}
	err := g.Wait()

	e.mu.Lock()
	for _, job := range batch {
		if !job.done() {
			e.jobs = append(e.jobs, job)
		}
	}
	e.mu.Unlock()
	return err
}

// nextLeg advances job past legs already in the cache and returns the
// first one that still needs building.
func (e *Engine) nextLeg(job *buildJob) (fieldLeg, bool) {
	for job.next < len(job.legs) {
		leg := job.legs[job.next]
		job.next++
		if _, ok := job.layer.fields.Get(leg.key); !ok {
			return leg, true
		}
		e.unqueue(job.layer, leg.key)
	}
	return fieldLeg{}, false
}

// build runs one leg. Builds for the same region are serialized; the
// result is discarded when the region changed or has a mutation waiting.
func (e *Engine) build(ctx context.Context, job *buildJob, leg fieldLeg) error {
	l := job.layer
	defer e.unqueue(l, leg.key)

	if err := ctx.Err(); err != nil {
		return err
	}

	lock := l.buildLock(leg.key.Region)
	lock.Lock()
	defer lock.Unlock()

	if _, ok := l.fields.Get(leg.key); ok {
		return nil
	}
	if l.generation(leg.key.Region) != leg.gen {
		e.discard(job, leg, "region changed before build")
		return nil
	}

	flow, err := field.Build(l.costField(leg.key.Region), leg.goal)
	if err != nil {
		e.logger.Warn("Field build failed", zap.String("class", l.name), zap.Stringer("key", leg.key), zap.Error(err))
		e.discard(job, leg, err.Error())
		return nil
	}

	if e.beforePublish != nil {
		e.beforePublish()
	}
	if l.generation(leg.key.Region) != leg.gen || e.mutationPending(l, leg.key.Region) {
		e.discard(job, leg, "region changed during build")
		return nil
	}

	if !l.fields.Put(leg.key, flow) {
		e.logger.Warn("Field cache rejected field", zap.String("class", l.name), zap.Stringer("key", leg.key))
		e.discard(job, leg, "field cache rejected the field")
		return nil
	}
	e.bus.Publish(Event{
		Type:      EventFieldPublished,
		Layer:     l.name,
		RequestID: job.requestID,
		Key:       leg.key,
		Field:     flow,
		Timestamp: time.Now(),
	})
	return nil
}

func (e *Engine) discard(job *buildJob, leg fieldLeg, reason string) {
	e.logger.Debug("Discarding field build",
		zap.String("class", job.layer.name),
		zap.Stringer("key", leg.key),
		zap.String("reason", reason))
	e.bus.Publish(Event{
		Type:      EventBuildDiscarded,
		Layer:     job.layer.name,
		RequestID: job.requestID,
		Key:       leg.key,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// mutationPending reports whether a queued mutation can change the view of
// region id in layer l.
func (e *Engine) mutationPending(l *Layer, id grid.RegionID) bool {
	e.mu.Lock()
	dirty := make(map[grid.RegionID]bool)
	for k := range e.mutations {
		dirty[k.region] = true
	}
	e.mu.Unlock()

	if len(dirty) == 0 {
		return false
	}
	for _, affected := range l.clearance.Affected(e.world.Dimensions(), keys(dirty)) {
		if affected == id {
			return true
		}
	}
	return false
}

// Sweep drops expired entries from every cache.
func (e *Engine) Sweep() {
	for _, name := range e.order {
		l := e.layers[name]
		routes := l.routes.Sweep()
		fields := l.fields.Sweep()
		if routes > 0 || fields > 0 {
			e.logger.Debug("Swept caches", zap.String("class", name), zap.Int("routes", routes), zap.Int("fields", fields))
		}
	}
}

// Run ticks at the configured rate and sweeps the caches until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(e.opts.TickRate))
	defer ticker.Stop()
	sweep := time.NewTicker(e.opts.SweepInterval)
	defer sweep.Stop()

	e.logger.Info("Navigation pipeline started", zap.Int("tick_rate", e.opts.TickRate))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Navigation pipeline stopped")
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				e.logger.Error("Tick failed", zap.Error(err))
			}
		case <-sweep.C:
			e.Sweep()
		}
	}
}
