package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/flowgraph/internal/graph"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var (
	graphType string
	impact    []string
	depth     int
	hotspotN  int
)

func init() {
	graphCmd.Flags().StringVarP(&graphType, "type", "t", string(graph.TypeCall), "Graph type to analyze (import, call, data_flow)")
	graphCmd.Flags().StringSliceVar(&impact, "impact", nil, "Node IDs or files whose change impact to report")
	graphCmd.Flags().IntVar(&depth, "depth", 3, "Maximum edges walked for --impact")
	graphCmd.Flags().IntVar(&hotspotN, "hotspots", 10, "Number of most connected nodes to report")
	rootCmd.AddCommand(graphCmd)
}

// graphReport is the JSON document printed by the graph command.
type graphReport struct {
	Stats    []graph.GraphStats `json:"stored"`
	Summary  graph.Summary      `json:"summary"`
	Hotspots []graph.Degree     `json:"hotspots"`
	Impact   *graph.Impact      `json:"impact,omitempty"`
}

var graphCmd = &cobra.Command{
	Use:   "graph [graphs.db]",
	Short: "Report cycles, hotspots and change impact of a stored graph",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gt := graph.GraphType(graphType)
		switch gt {
		case graph.TypeImport, graph.TypeCall, graph.TypeDataFlow:
		default:
			return fmt.Errorf("unknown graph type %q", graphType)
		}

		ctx := cmd.Context()
		gs, err := graph.OpenStore(args[0], logger())
		if err != nil {
			return err
		}
		defer func() { _ = gs.Close() }()

		stats, err := gs.Stats(ctx)
		if err != nil {
			return err
		}
		g, err := gs.Load(ctx, gt)
		if err != nil {
			return err
		}

		rep := graphReport{
			Stats:    stats,
			Summary:  g.Summarize(gt),
			Hotspots: g.Hotspots(gt, hotspotN),
		}
		if len(impact) > 0 {
			im := g.ImpactOfChange(gt, impact, depth)
			rep.Impact = &im
		}

		data, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		doc, err := oj.Parse(data)
		if err != nil {
			return fmt.Errorf("decode report: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), oj.JSON(doc, 2))
		return err
	},
}
