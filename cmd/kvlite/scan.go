package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kvlite/kvlite"
)

var (
	scanLower string
	scanUpper string
	scanLimit int
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "print keys and values in [lower, upper)",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanLower, "lower", "", "inclusive lower bound (empty means unbounded)")
	scanCmd.Flags().StringVar(&scanUpper, "upper", "", "exclusive upper bound (empty means unbounded)")
	scanCmd.Flags().IntVar(&scanLimit, "limit", 0, "maximum rows to print (0 means unbounded)")
}

func runScan(cmd *cobra.Command, args []string) error {
	db, err := kvlite.Open(dbDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var lower, upper []byte
	if scanLower != "" {
		lower = []byte(scanLower)
	}
	if scanUpper != "" {
		upper = []byte(scanUpper)
	}

	it := db.NewIter(lower, upper)
	defer it.Close()

	count := 0
	for ; it.Valid(); it.Next() {
		fmt.Printf("%s\t%s\n", it.Key().UserKey, it.Value())
		count++
		if scanLimit > 0 && count >= scanLimit {
			break
		}
	}
	return nil
}
