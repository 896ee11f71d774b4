package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var dbDir string

var rootCmd = &cobra.Command{
	Use:   "kvlite [command] (flags)",
	Short: "kvlite database introspection/benchmarking tool",
}

func main() {
	log.SetFlags(0)

	cobra.EnableCommandSorting = false
	rootCmd.PersistentFlags().StringVar(&dbDir, "db", "", "database directory (required)")
	rootCmd.AddCommand(getCmd, setCmd, removeCmd, scanCmd, benchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
