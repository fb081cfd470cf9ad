package main

import (
	"fmt"
	"os"

	"github.com/sandboxrun/engine/cmd/enginectl/cmd"
	"github.com/spf13/cobra"
)

var (
	version = "1.0.0"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "enginectl",
		Short:   "enginectl - submit and inspect sandboxed code execution jobs",
		Long:    `A command line client for the sandboxed code execution engine.`,
		Version: fmt.Sprintf("%s (%s) built at %s", version, commit, date),
	}

	rootCmd.PersistentFlags().StringP("url", "u", "http://localhost:2000", "Engine API URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")

	rootCmd.AddCommand(
		cmd.NewSubmitCommand(),
		cmd.NewGetCommand(),
		cmd.NewCancelCommand(),
		cmd.NewLanguagesCommand(),
		cmd.NewStreamCommand(),
		cmd.NewReplCommand(),
		cmd.NewVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
