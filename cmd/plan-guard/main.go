package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "plan-guard",
		Short:         "Validate and run Starlark plans behind the tool call policy gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "YAML rule file (defaults apply when empty)")
	rootCmd.PersistentFlags().StringArray("set", nil, "Rule override key=value (repeatable)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log gateway decisions to stderr")

	rootCmd.AddCommand(
		runCmd(),
		validateCmd(),
		configCmd(),
	)
	return rootCmd
}
