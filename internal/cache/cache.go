// Package cache is the read-only, indexed, in-memory view of the fact
// database that every builder and analyzer queries.
//
// Load streams one bulk query per table, concurrently, and never one query
// per file. Global indices (symbols, ORM metadata, endpoints, validation
// usage, safe sinks) stay resident. Per-file facts are admitted while they
// fit under the memory ceiling; files that do not fit are dropped during the
// stream and loaded on first use. Resident bundles live in an LRU and are
// refilled from the fact store when evicted.
package cache

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
)

// Options configure Load.
type Options struct {
	// MemoryCeilingMB bounds resident per-file bundles. Zero keeps every
	// bundle resident.
	MemoryCeilingMB int
	// MaxBundles caps resident bundles regardless of size. Zero means no cap.
	MaxBundles  int
	Diagnostics *diag.Diagnostics
	Logger      *log.Logger
}

// Stats reports what a Load did.
type Stats struct {
	Rows      int
	Files     int
	Bytes     int64
	Resident  int
	Deferred  int
	Capacity  int
	Evictions int64
	Refills   int64
	Defects   int
}

type siteKey struct {
	file string
	line int
}

// Cache is safe for concurrent use after Load returns.
type Cache struct {
	store  *facts.Store
	diag   *diag.Diagnostics
	logger *log.Logger

	files         []facts.File
	known         map[string]struct{}
	counts        map[string]int
	sourceFiles   []string
	symbolsByName map[string][]facts.Symbol
	endpoints     []facts.Endpoint
	validation    map[siteKey][]facts.ValidationUsage
	models        map[string]facts.OrmModel
	assocs        map[string][]facts.OrmAssociation
	safeSinks     map[string]facts.SafeSink

	bundles   *lru.Cache[string, *Bundle]
	refillMu  sync.Mutex
	refillErr error

	rows      int
	bytes     int64
	deferred  int
	capacity  int
	evictions atomic.Int64
	refills   atomic.Int64
}

// admission collects per-file rows as they stream in. A file is resident
// until adding a row would push the resident total past the ceiling or the
// bundle cap; from then on it is deferred and its rows are dropped.
type admission struct {
	mu       sync.Mutex
	ceiling  int64
	max      int
	resident int64
	total    int64
	rows     int
	parts    map[string]*facts.FileFacts
	sizes    map[string]int64
	deferred map[string]struct{}
	counts   map[string]int
	symbols  map[string][]facts.Symbol
}

func newAdmission(ceiling int64, max int) *admission {
	return &admission{
		ceiling:  ceiling,
		max:      max,
		parts:    make(map[string]*facts.FileFacts),
		sizes:    make(map[string]int64),
		deferred: make(map[string]struct{}),
		counts:   make(map[string]int),
		symbols:  make(map[string][]facts.Symbol),
	}
}

func (a *admission) add(file string, size int64, put func(*facts.FileFacts)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[file]++
	a.rows++
	a.total += size
	if _, ok := a.deferred[file]; ok {
		return
	}
	ff, ok := a.parts[file]
	if !ok {
		if a.max > 0 && len(a.parts) >= a.max {
			a.deferred[file] = struct{}{}
			return
		}
		ff = &facts.FileFacts{File: file}
		a.parts[file] = ff
	}
	if a.ceiling > 0 && a.resident+size > a.ceiling {
		a.resident -= a.sizes[file]
		delete(a.parts, file)
		delete(a.sizes, file)
		a.deferred[file] = struct{}{}
		return
	}
	put(ff)
	a.sizes[file] += size
	a.resident += size
}

func (a *admission) symbol(s facts.Symbol) {
	a.add(s.File, symbolSize(s), func(ff *facts.FileFacts) { ff.Symbols = append(ff.Symbols, s) })
	a.mu.Lock()
	a.symbols[s.Name] = append(a.symbols[s.Name], s)
	a.mu.Unlock()
}

// Load streams every fact table from store and builds the indices.
func Load(ctx context.Context, store *facts.Store, opts Options) (*Cache, error) {
	d := opts.Diagnostics
	if d == nil {
		d = diag.NewDiagnostics()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	adm := newAdmission(int64(opts.MemoryCeilingMB)<<20, opts.MaxBundles)
	var (
		files      []facts.File
		endpoints  []facts.Endpoint
		validation []facts.ValidationUsage
		models     []facts.OrmModel
		assocs     []facts.OrmAssociation
		safe       []facts.SafeSink
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { files, err = store.LoadFiles(gctx, d); return })
	g.Go(func() error {
		return store.StreamSymbols(gctx, d, func(s facts.Symbol) error { adm.symbol(s); return nil })
	})
	g.Go(func() error {
		return store.StreamAssignments(gctx, d, func(a facts.Assignment) error {
			adm.add(a.File, assignmentSize(a), func(ff *facts.FileFacts) { ff.Assignments = append(ff.Assignments, a) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamCalls(gctx, d, func(c facts.CallArg) error {
			adm.add(c.File, callSize(c), func(ff *facts.FileFacts) { ff.Calls = append(ff.Calls, c) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamReturns(gctx, d, func(r facts.Return) error {
			adm.add(r.File, returnSize(r), func(ff *facts.FileFacts) { ff.Returns = append(ff.Returns, r) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamImports(gctx, d, func(im facts.Import) error {
			adm.add(im.File, importSize(im), func(ff *facts.FileFacts) { ff.Imports = append(ff.Imports, im) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamSQL(gctx, d, func(q facts.SQLQuery) error {
			adm.add(q.File, sqlSize(q), func(ff *facts.FileFacts) { ff.SQL = append(ff.SQL, q) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamOrmQueries(gctx, d, func(q facts.OrmQuery) error {
			adm.add(q.File, smallSize, func(ff *facts.FileFacts) { ff.OrmQueries = append(ff.OrmQueries, q) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamCfgBlocks(gctx, d, func(b facts.CfgBlock) error {
			adm.add(b.File, smallSize, func(ff *facts.FileFacts) { ff.CfgBlocks = append(ff.CfgBlocks, b) })
			return nil
		})
	})
	g.Go(func() error {
		return store.StreamCfgEdges(gctx, d, func(e facts.CfgEdge) error {
			adm.add(e.File, smallSize, func(ff *facts.FileFacts) { ff.CfgEdges = append(ff.CfgEdges, e) })
			return nil
		})
	})
	g.Go(func() (err error) { endpoints, err = store.LoadEndpoints(gctx, d); return })
	g.Go(func() (err error) { validation, err = store.LoadValidation(gctx, d); return })
	g.Go(func() (err error) { models, err = store.LoadOrmModels(gctx, d); return })
	g.Go(func() (err error) { assocs, err = store.LoadAssociations(gctx, d); return })
	g.Go(func() (err error) { safe, err = store.LoadSafeSinks(gctx); return })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("bulk load: %w", err)
	}

	c := &Cache{
		store:         store,
		diag:          d,
		logger:        logger,
		files:         files,
		known:         make(map[string]struct{}),
		counts:        adm.counts,
		symbolsByName: adm.symbols,
		validation:    make(map[siteKey][]facts.ValidationUsage),
		models:        make(map[string]facts.OrmModel),
		assocs:        make(map[string][]facts.OrmAssociation),
		safeSinks:     make(map[string]facts.SafeSink),
		endpoints:     endpoints,
		bytes:         adm.total,
		deferred:      len(adm.deferred),
	}
	c.rows = adm.rows + len(files) + len(endpoints) + len(validation) + len(models) + len(assocs) + len(safe)

	for _, v := range validation {
		k := siteKey{v.File, v.Line}
		c.validation[k] = append(c.validation[k], v)
	}
	for _, m := range models {
		if _, dup := c.models[m.Name]; !dup {
			c.models[m.Name] = m
		}
	}
	for _, a := range assocs {
		c.assocs[a.Model] = append(c.assocs[a.Model], a)
	}
	for _, ss := range safe {
		if _, dup := c.safeSinks[ss.Pattern]; ss.Safe && !dup {
			c.safeSinks[ss.Pattern] = ss
		}
	}

	for file := range adm.counts {
		c.known[file] = struct{}{}
	}
	for _, f := range files {
		c.known[f.Path] = struct{}{}
	}
	for file := range c.known {
		c.sourceFiles = append(c.sourceFiles, file)
	}
	sort.Strings(c.sourceFiles)

	c.capacity = capacityFor(opts.MemoryCeilingMB, c.bytes, len(c.sourceFiles))
	if opts.MaxBundles > 0 && opts.MaxBundles < c.capacity {
		c.capacity = opts.MaxBundles
	}

	bundles, err := lru.NewWithEvict[string, *Bundle](c.capacity, func(string, *Bundle) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("create bundle cache: %w", err)
	}
	c.bundles = bundles
	for _, file := range c.sourceFiles {
		if ff, ok := adm.parts[file]; ok {
			c.bundles.Add(file, newBundle(ff))
		}
	}

	logger.Printf("Cache: loaded %d rows across %d files (~%d KB, %d bundles resident, %d deferred)",
		c.rows, len(c.sourceFiles), c.bytes/1024, c.bundles.Len(), c.deferred)
	return c, nil
}

// capacityFor sizes the bundle LRU from the memory ceiling and the average
// bundle size.
func capacityFor(ceilingMB int, total int64, n int) int {
	if n == 0 {
		return 1
	}
	if ceilingMB <= 0 {
		return n
	}
	ceiling := int64(ceilingMB) << 20
	if total <= ceiling {
		return n
	}
	avg := total / int64(n)
	if avg == 0 {
		return n
	}
	capacity := int(ceiling / avg)
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// bundle returns the indexed facts of file, refilling from the store after
// eviction. Unknown files get an empty bundle.
func (c *Cache) bundle(file string) *Bundle {
	if b, ok := c.bundles.Get(file); ok {
		return b
	}
	if c.counts[file] == 0 {
		// unknown, or listed in files with no per-file facts
		return newBundle(&facts.FileFacts{File: file})
	}

	c.refillMu.Lock()
	defer c.refillMu.Unlock()
	if b, ok := c.bundles.Get(file); ok {
		return b
	}
	// The parent context is gone by the time a refill happens; refills are
	// bounded single-file queries.
	ff, err := c.store.LoadFile(context.Background(), nil, file)
	if err != nil {
		c.logger.Printf("Cache: refill %s failed: %v", file, err)
		if c.refillErr == nil {
			c.refillErr = fmt.Errorf("refill %s: %w", file, err)
		}
		return newBundle(&facts.FileFacts{File: file})
	}
	c.refills.Add(1)
	if got, want := ff.Len(), c.counts[file]; got != want {
		c.logger.Printf("Cache: refill %s returned %d records, loaded %d", file, got, want)
		if c.refillErr == nil {
			c.refillErr = fmt.Errorf("refill %s: %d records, %d at load", file, got, want)
		}
	}
	b := newBundle(ff)
	c.bundles.Add(file, b)
	return b
}

// Err returns the first refill failure, if any. A refill that returns a
// different record count than the bulk load saw is a failure. Lookups never fail; callers
// check Err once after a run.
func (c *Cache) Err() error {
	c.refillMu.Lock()
	defer c.refillMu.Unlock()
	return c.refillErr
}

// SafeSink reports whether name is a framework sink marked safe.
func (c *Cache) SafeSink(name string) (facts.SafeSink, bool) {
	ss, ok := c.safeSinks[name]
	return ss, ok
}

func (c *Cache) Diagnostics() *diag.Diagnostics { return c.diag }

func (c *Cache) Stats() Stats {
	return Stats{
		Rows:      c.rows,
		Files:     len(c.sourceFiles),
		Bytes:     c.bytes,
		Resident:  c.bundles.Len(),
		Deferred:  c.deferred,
		Capacity:  c.capacity,
		Evictions: c.evictions.Load(),
		Refills:   c.refills.Load(),
		Defects:   len(c.diag.Defects()),
	}
}
