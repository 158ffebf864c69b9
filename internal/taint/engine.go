package taint

import (
	"context"
	"fmt"
	"log"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/graph"
	"golang.org/x/sync/errgroup"
)

// Options configure an Engine.
type Options struct {
	Config      config.Config
	Diagnostics *diag.Diagnostics
	Logger      *log.Logger
}

// Stats reports the work a Run did.
type Stats struct {
	Sources       int
	Sinks         int
	States        int
	BackwardFlows int
	ForwardFlows  int
	Flows         int
	Vulnerable    int
	Sanitized     int
}

// Result is the outcome of one Run.
type Result struct {
	Flows       []api.ResolvedFlow
	Diagnostics *diag.Diagnostics
	Stats       Stats
}

// Engine runs discovery and both taint engines over a data-flow graph.
type Engine struct {
	cache    *cache.Cache
	dfg      *graph.Graph
	registry *Registry
	cfg      config.Config
	diag     *diag.Diagnostics
	logger   *log.Logger
}

func NewEngine(c *cache.Cache, dfg *graph.Graph, r *Registry, opts Options) (*Engine, error) {
	if r == nil {
		return nil, &diag.ConfigurationError{Element: "source registrations"}
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = c.Diagnostics()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Engine{
		cache:    c,
		dfg:      dfg,
		registry: r,
		cfg:      opts.Config,
		diag:     opts.Diagnostics,
		logger:   opts.Logger,
	}, nil
}

// Run analyzes every sink backward and every source occurrence forward, in
// parallel across units. Each unit is a single-threaded traversal with its
// own visited set, and results are collected by unit index so the output is
// the same for any worker count. On cancellation the flows of completed
// units are returned along with the error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.dfg.CheckReverseEdges(graph.TypeDataFlow); err != nil {
		return nil, err
	}

	resolver := graph.NewCallResolver(e.cache, e.diag)
	disc := NewDiscovery(e.cache, e.registry, resolver, e.diag, e.cfg.Bounds.MaxFields)
	sources := disc.Sources()
	sinks := disc.Sinks()
	e.logger.Printf("Engine: %d source occurrences, %d sink sites", len(sources), len(sinks))

	a := newAnalysis(e.cache, e.dfg, e.registry, resolver, e.cfg.Bounds, sources, sinks)

	var backward, forward []*unit
	if e.cfg.Engines.Backward {
		backward = make([]*unit, len(sinks))
	}
	if e.cfg.Engines.Forward {
		forward = make([]*unit, len(sources))
	}

	g, gctx := errgroup.WithContext(ctx)
	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for i := range backward {
		g.Go(func() error {
			u, err := a.backward(gctx, &sinks[i])
			if err != nil {
				return err
			}
			backward[i] = u
			return nil
		})
	}
	for i := range forward {
		g.Go(func() error {
			u, err := a.forward(gctx, &sources[i])
			if err != nil {
				return err
			}
			forward[i] = u
			return nil
		})
	}
	runErr := g.Wait()

	res := &Result{Diagnostics: e.diag}
	res.Stats.Sources = len(sources)
	res.Stats.Sinks = len(sinks)
	var all []api.ResolvedFlow
	collect := func(units []*unit, n *int) {
		for _, u := range units {
			if u == nil {
				continue
			}
			all = append(all, u.flows...)
			*n += len(u.flows)
			res.Stats.States += u.visited.len()
			e.diag.Merge(u.diag)
		}
	}
	collect(backward, &res.Stats.BackwardFlows)
	collect(forward, &res.Stats.ForwardFlows)

	res.Flows = Dedup(all)
	annotate(res.Flows)
	for _, f := range res.Flows {
		if f.Status == api.StatusSanitized {
			res.Stats.Sanitized++
		} else {
			res.Stats.Vulnerable++
		}
	}
	res.Stats.Flows = len(res.Flows)

	if runErr != nil {
		return res, fmt.Errorf("taint analysis interrupted: %w", runErr)
	}
	if err := e.cache.Err(); err != nil {
		return res, err
	}
	e.logger.Printf("Engine: %d flows (%d vulnerable, %d sanitized) from %d backward and %d forward paths, %d states",
		res.Stats.Flows, res.Stats.Vulnerable, res.Stats.Sanitized, res.Stats.BackwardFlows, res.Stats.ForwardFlows, res.Stats.States)
	return res, nil
}
