package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "draftsync",
	Short:         "Edit draftsync documents with autosave and offline buffering",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().String("server", "", "server base URL (overrides config)")
	rootCmd.PersistentFlags().String("user", "", "caller identity (overrides config)")

	rootCmd.AddCommand(newCmd, listCmd, getCmd, editCmd, watchCmd, syncCmd, discardCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
