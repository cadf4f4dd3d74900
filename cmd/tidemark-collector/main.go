// Package main provides the tidemark-collector binary.
//
// The collector is a local ingest endpoint for development: point the
// SDK's HTTP sink at it to inspect events, statistics and a live tail
// without a production backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidemark-io/tidemark/internal/cli/collector"
	"github.com/tidemark-io/tidemark/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tidemark-collector",
		Short:         "Tidemark Collector - local ingest endpoint for RUM telemetry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(collector.NewServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("Tidemark Collector version %s\n", version.SDKVersion)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}
