// Command logctl operates a durable-log core deployment: it runs the full
// pipeline, or inspects and repairs the on-disk state of a ring or day
// file offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmdArgs struct {
	LogLevel string
}

var rootCmd = &cobra.Command{
	Use:   "logctl",
	Short: "Operate and inspect a durable-log core deployment",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootCmdArgs.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectRingCmd)
	rootCmd.AddCommand(inspectDayCmd)
	rootCmd.AddCommand(repairCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}
