package main

import (
	"github.com/spf13/cobra"

	"github.com/kvlite/kvlite"
)

var removeCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "write a tombstone for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func runRemove(cmd *cobra.Command, args []string) error {
	db, err := kvlite.Open(dbDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Remove(kvlite.NoSync, []byte(args[0]))
}
