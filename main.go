package main

import "github.com/agentic-research/flowgraph/cmd"

func main() {
	cmd.Execute()
}
