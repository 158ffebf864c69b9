package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component progress to stderr")
}

var rootCmd = &cobra.Command{
	Use:           "flowgraph",
	Short:         "Flowgraph: taint analysis over extracted code facts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// logger returns the component logger for this invocation. Component logs are
// noise for normal CLI use, so they are discarded unless --verbose is set.
func logger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
