package cmd

import (
	"fmt"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
	"github.com/agentic-research/flowgraph/internal/taint"
	"github.com/spf13/cobra"
)

var (
	rulesPath     string
	analyzeConfig string
	workers       int
	rebuild       bool
)

func init() {
	analyzeCmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "Path to source/sink/sanitizer rules (YAML)")
	analyzeCmd.Flags().StringVarP(&analyzeConfig, "config", "c", "", "Path to run configuration (YAML)")
	analyzeCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Override configured worker count")
	analyzeCmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the data-flow graph even if one is stored")
	_ = analyzeCmd.MarkFlagRequired("rules")
	rootCmd.AddCommand(analyzeCmd)
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [facts.db] [graphs.db]",
	Short: "Run taint analysis and store resolved flows in the fact database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(analyzeConfig)
		if err != nil {
			return err
		}
		if workers > 0 {
			cfg.Workers = workers
		}
		rules, err := config.LoadRules(rulesPath)
		if err != nil {
			return err
		}
		registry, err := taint.FromRules(rules)
		if err != nil {
			return err
		}

		logs := logger()
		ctx := cmd.Context()

		store, err := facts.Open(ctx, args[0], facts.Options{Logger: logs})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		d := diag.NewDiagnostics()
		c, err := cache.Load(ctx, store, cache.Options{
			MemoryCeilingMB: cfg.Cache.MemoryCeilingMB,
			Diagnostics:     d,
			Logger:          logs,
		})
		if err != nil {
			return err
		}

		gs, err := graph.OpenStore(args[1], logs)
		if err != nil {
			return err
		}
		defer func() { _ = gs.Close() }()

		dfg, err := gs.Load(ctx, graph.TypeDataFlow)
		if err != nil {
			return err
		}
		if rebuild || dfg.EdgeCount(graph.TypeDataFlow) == 0 {
			logs.Printf("Analyze: building data-flow graph")
			dfg = graph.NewBuilder(c, d, logs).Build(graph.TypeDataFlow)
			if err := checkCache(c, "data-flow graph"); err != nil {
				return err
			}
			if _, err := gs.Save(ctx, dfg, graph.TypeDataFlow, graph.SaveOptions{PruneStale: rebuild}); err != nil {
				return err
			}
		}

		engine, err := taint.NewEngine(c, dfg, registry, taint.Options{
			Config:      cfg,
			Diagnostics: d,
			Logger:      logs,
		})
		if err != nil {
			return err
		}
		res, runErr := engine.Run(ctx)
		if res == nil {
			return runErr
		}

		written, err := persistFlows(ctx, store, c, res.Flows, runErr)
		if err != nil {
			return err
		}

		st := res.Stats
		fmt.Printf("%d sources, %d sinks, %d states explored\n", st.Sources, st.Sinks, st.States)
		fmt.Printf("%d flows (%d vulnerable, %d sanitized), %d new\n", st.Flows, st.Vulnerable, st.Sanitized, written)
		fmt.Println(res.Diagnostics.Summary())
		return runErr
	},
}
