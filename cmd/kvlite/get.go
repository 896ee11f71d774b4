package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvlite/kvlite"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "print the value for a key",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	db, err := kvlite.Open(dbDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	v, err := db.Get([]byte(args[0]))
	if err != nil {
		return err
	}
	fmt.Println(string(v))
	return nil
}
