package facts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentic-research/flowgraph/api"
	"github.com/google/uuid"
)

const flowSchema = `
CREATE TABLE IF NOT EXISTS resolved_flows (
	flow_key TEXT PRIMARY KEY,
	source_file TEXT NOT NULL,
	source_line INTEGER NOT NULL,
	source_symbol TEXT NOT NULL,
	sink_file TEXT NOT NULL,
	sink_line INTEGER NOT NULL,
	sink_symbol TEXT NOT NULL,
	status TEXT NOT NULL,
	hop_count INTEGER NOT NULL,
	path_json TEXT NOT NULL,
	sanitizer_file TEXT,
	sanitizer_line INTEGER,
	sanitizer_method TEXT,
	category TEXT,
	engine TEXT,
	caveats_json TEXT,
	vulnerability_type TEXT,
	related_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_resolved_flows_sink ON resolved_flows(sink_file, sink_line);
`

// flowColumnsAdded are resolved_flows columns newer than the table's first
// release. Older tables get them added in place.
var flowColumnsAdded = []string{"vulnerability_type", "related_json"}

func (s *Store) ensureFlowSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, flowSchema); err != nil {
		return fmt.Errorf("create resolved_flows: %w", err)
	}
	cols, err := tableColumns(ctx, s.db, "resolved_flows")
	if err != nil {
		return err
	}
	for _, c := range flowColumnsAdded {
		if _, ok := cols[c]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, "ALTER TABLE resolved_flows ADD COLUMN "+c+" TEXT"); err != nil {
			return fmt.Errorf("add resolved_flows.%s: %w", c, err)
		}
	}
	return nil
}

// flowNamespace scopes flow keys so they never collide with other SHA-1 UUIDs.
var flowNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("flowgraph/resolved_flows"))

// FlowKey is the content key of a flow: same source, sink, status and path
// always yields the same key.
func FlowKey(f api.ResolvedFlow) string {
	path, _ := json.Marshal(f.Path)
	name := fmt.Sprintf("%s:%d:%s|%s:%d:%s|%s|%s",
		f.Source.File, f.Source.Line, f.Source.Symbol,
		f.Sink.File, f.Sink.Line, f.Sink.Symbol,
		f.Status, path)
	return uuid.NewSHA1(flowNamespace, []byte(name)).String()
}

// WriteFlows persists flows. Flows are write-once: a flow whose key already
// exists is left untouched. Returns the number of rows inserted.
func (s *Store) WriteFlows(ctx context.Context, flows []api.ResolvedFlow) (int, error) {
	if err := s.ensureFlowSchema(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin flow tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO resolved_flows
		(flow_key, source_file, source_line, source_symbol, sink_file, sink_line, sink_symbol,
		 status, hop_count, path_json, sanitizer_file, sanitizer_line, sanitizer_method,
		 category, engine, caveats_json, vulnerability_type, related_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare flow insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, f := range flows {
		path, err := json.Marshal(f.Path)
		if err != nil {
			return 0, fmt.Errorf("encode path: %w", err)
		}
		caveats, err := json.Marshal(f.Caveats)
		if err != nil {
			return 0, fmt.Errorf("encode caveats: %w", err)
		}
		related, err := json.Marshal(f.RelatedSources)
		if err != nil {
			return 0, fmt.Errorf("encode related sources: %w", err)
		}
		var sanFile, sanLine, sanMethod any
		if f.Sanitizer != nil {
			sanFile, sanLine, sanMethod = f.Sanitizer.File, f.Sanitizer.Line, f.Sanitizer.Method
		}
		res, err := stmt.ExecContext(ctx, FlowKey(f),
			f.Source.File, f.Source.Line, f.Source.Symbol,
			f.Sink.File, f.Sink.Line, f.Sink.Symbol,
			string(f.Status), f.HopCount, string(path),
			sanFile, sanLine, sanMethod,
			f.Category, f.Engine, string(caveats), f.VulnerabilityType, string(related))
		if err != nil {
			return 0, fmt.Errorf("insert flow: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit flows: %w", err)
	}
	return inserted, nil
}

// ReadFlows returns every persisted flow ordered by sink then source.
func (s *Store) ReadFlows(ctx context.Context) ([]api.ResolvedFlow, error) {
	if err := s.ensureFlowSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT source_file, source_line, source_symbol,
		sink_file, sink_line, sink_symbol, status, hop_count, path_json,
		COALESCE(sanitizer_file, ''), COALESCE(sanitizer_line, 0), COALESCE(sanitizer_method, ''),
		COALESCE(category, ''), COALESCE(engine, ''), COALESCE(caveats_json, 'null'),
		COALESCE(vulnerability_type, ''), COALESCE(related_json, 'null')
		FROM resolved_flows
		ORDER BY sink_file, sink_line, source_file, source_line, flow_key`)
	if err != nil {
		return nil, fmt.Errorf("query flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []api.ResolvedFlow
	for rows.Next() {
		var (
			f                           api.ResolvedFlow
			status, path, cavs, related string
			san                         api.Sanitizer
		)
		if err := rows.Scan(&f.Source.File, &f.Source.Line, &f.Source.Symbol,
			&f.Sink.File, &f.Sink.Line, &f.Sink.Symbol, &status, &f.HopCount, &path,
			&san.File, &san.Line, &san.Method, &f.Category, &f.Engine, &cavs,
			&f.VulnerabilityType, &related); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		f.Status = api.FlowStatus(status)
		if err := json.Unmarshal([]byte(path), &f.Path); err != nil {
			return nil, fmt.Errorf("decode path: %w", err)
		}
		if err := json.Unmarshal([]byte(cavs), &f.Caveats); err != nil {
			return nil, fmt.Errorf("decode caveats: %w", err)
		}
		if err := json.Unmarshal([]byte(related), &f.RelatedSources); err != nil {
			return nil, fmt.Errorf("decode related sources: %w", err)
		}
		if san.Method != "" {
			site := san
			f.Sanitizer = &site
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
