package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/agentic-research/flowgraph/internal/cache"
	"github.com/agentic-research/flowgraph/internal/config"
	"github.com/agentic-research/flowgraph/internal/diag"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/agentic-research/flowgraph/internal/graph"
	"github.com/spf13/cobra"
)

var (
	prune       bool
	buildConfig string
)

func init() {
	buildCmd.Flags().BoolVar(&prune, "prune", false, "Remove stored edges of rebuilt files that no longer exist")
	buildCmd.Flags().StringVarP(&buildConfig, "config", "c", "", "Path to run configuration (YAML)")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build [facts.db] [graphs.db]",
	Short: "Build import, call and data-flow graphs from a fact database",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(buildConfig)
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

		b := graph.NewBuilder(c, d, logs)
		for _, gt := range []graph.GraphType{graph.TypeImport, graph.TypeCall, graph.TypeDataFlow} {
			res, err := buildAndSave(ctx, b, c, gs, gt, logs)
			if err != nil {
				return err
			}
			fmt.Printf("%-9s %d nodes, %d edges, %d pruned\n", gt, res.Nodes, res.Edges, res.Pruned)
		}
		fmt.Println(d.Summary())
		return nil
	},
}

func buildAndSave(ctx context.Context, b *graph.Builder, c errSource, gs *graph.Store, gt graph.GraphType, logs *log.Logger) (graph.SaveResult, error) {
	g := b.Build(gt)
	if err := checkCache(c, string(gt)+" graph"); err != nil {
		return graph.SaveResult{}, err
	}
	if err := g.CheckReverseEdges(gt); err != nil {
		return graph.SaveResult{}, err
	}
	res, err := gs.Save(ctx, g, gt, graph.SaveOptions{PruneStale: prune})
	if err != nil {
		return graph.SaveResult{}, fmt.Errorf("save %s graph: %w", gt, err)
	}
	logs.Printf("Build: %s graph stored", gt)
	return res, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}
