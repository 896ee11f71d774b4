package main

import (
	"github.com/spf13/cobra"

	"github.com/kvlite/kvlite"
)

var setSync bool

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "write a key/value pair",
	Args:  cobra.ExactArgs(2),
	RunE:  runSet,
}

func init() {
	setCmd.Flags().BoolVar(&setSync, "sync", false, "fsync the WAL before returning")
}

func runSet(cmd *cobra.Command, args []string) error {
	db, err := kvlite.Open(dbDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	opts := kvlite.NoSync
	if setSync {
		opts = kvlite.Sync
	}
	return db.Set(opts, []byte(args[0]), []byte(args[1]))
}
