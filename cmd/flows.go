package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/agentic-research/flowgraph/api"
	"github.com/agentic-research/flowgraph/internal/facts"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var filter string

func init() {
	flowsCmd.Flags().StringVarP(&filter, "filter", "f", "$[*]", "JSONPath selector applied to the stored flows")
	rootCmd.AddCommand(flowsCmd)
}

var flowsCmd = &cobra.Command{
	Use:   "flows [facts.db]",
	Short: "Print stored resolved flows as JSON",
	Long: `Print stored resolved flows as JSON. The selector runs against the
array of flows, for example:

  flowgraph flows facts.db -f "$[?(@.status == 'VULNERABLE')].sink"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := facts.Open(cmd.Context(), args[0], facts.Options{Logger: logger()})
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		flows, err := store.ReadFlows(cmd.Context())
		if err != nil {
			return err
		}
		return printFlows(cmd.OutOrStdout(), flows, filter)
	},
}

// selectFlows applies a JSONPath selector to the JSON form of flows.
func selectFlows(flows []api.ResolvedFlow, selector string) ([]any, error) {
	x, err := jp.ParseString(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", selector, err)
	}
	if flows == nil {
		flows = []api.ResolvedFlow{}
	}
	data, err := json.Marshal(flows)
	if err != nil {
		return nil, fmt.Errorf("encode flows: %w", err)
	}
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("decode flows: %w", err)
	}
	return x.Get(root), nil
}

func printFlows(w io.Writer, flows []api.ResolvedFlow, selector string) error {
	results, err := selectFlows(flows, selector)
	if err != nil {
		return err
	}
	if results == nil {
		results = []any{}
	}
	_, err = fmt.Fprintln(w, oj.JSON(results, 2))
	return err
}
