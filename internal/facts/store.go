package facts

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/agentic-research/flowgraph/internal/diag"
	_ "modernc.org/sqlite"
)

// Store is a handle on one fact database.
type Store struct {
	db     *sql.DB
	path   string
	logger *log.Logger
	has    features

	// spellings maps a canonical path to the raw column values that
	// canonicalized to it, so a per-file reload matches what a bulk load saw.
	spellMu   sync.Mutex
	spellings map[string]map[string]struct{}
}

// Options configure Open.
type Options struct {
	// Create bootstraps missing fact tables instead of failing validation.
	Create bool
	Logger *log.Logger
}

// Open opens the fact database at path and validates its schema. A missing
// table or column is returned as a *diag.ConfigurationError.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open fact db %s: %w", path, err)
	}
	db.SetMaxOpenConns(8)

	if opts.Create {
		if err := CreateSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ValidateSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	has, err := detectOptional(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Store{db: db, path: path, logger: logger, has: has, spellings: make(map[string]map[string]struct{})}, nil
}

// DB exposes the underlying handle for fixtures and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// Quiet silences store logging.
func (s *Store) Quiet() { s.logger = log.New(io.Discard, "", 0) }

// defect records a rejected record. d may be nil.
func (s *Store) defect(d *diag.Diagnostics, table, field, value string) {
	s.logger.Printf("FactStore: skipping %s record with non-canonical %s %q", table, field, value)
	if d != nil {
		d.Defect(&diag.ProducerDefect{Table: table, Field: field, Value: value})
	}
}

// canon validates a path column, recording a defect when it is rejected.
func (s *Store) canon(d *diag.Diagnostics, table, field, value string) (string, bool) {
	p, err := CanonicalPath(value)
	if err != nil {
		s.defect(d, table, field, value)
		return "", false
	}
	if p != value {
		s.spellMu.Lock()
		set, ok := s.spellings[p]
		if !ok {
			set = make(map[string]struct{})
			s.spellings[p] = set
		}
		set[value] = struct{}{}
		s.spellMu.Unlock()
	}
	return p, true
}

// Spellings returns file and every raw spelling seen for it, sorted.
func (s *Store) Spellings(file string) []string {
	s.spellMu.Lock()
	defer s.spellMu.Unlock()
	out := []string{file}
	for raw := range s.spellings[file] {
		out = append(out, raw)
	}
	sort.Strings(out[1:])
	return out
}

// HasSourceCallee reports whether assignments carry the call that produced
// their value.
func (s *Store) HasSourceCallee() bool { return s.has.sourceCallee }
