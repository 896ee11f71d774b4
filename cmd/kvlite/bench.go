package main

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kvlite/kvlite"
)

var (
	benchConcurrency int
	benchDuration    time.Duration
	benchKeyCount    int
	benchValueBytes  int
	benchConfigPath  string
)

// benchConfig mirrors the bench flags for users who'd rather check a workload
// definition into version control than retype flags.
type benchConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Duration    time.Duration `yaml:"duration"`
	Keys        int           `yaml:"keys"`
	ValueBytes  int           `yaml:"value_bytes"`
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "run a uniform-random write load and report throughput",
	Args:  cobra.NoArgs,
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchConcurrency, "concurrency", "c", 1, "number of concurrent workers")
	benchCmd.Flags().DurationVarP(&benchDuration, "duration", "d", 10*time.Second, "duration to run")
	benchCmd.Flags().IntVar(&benchKeyCount, "keys", 100000, "size of the key space")
	benchCmd.Flags().IntVar(&benchValueBytes, "value-bytes", 64, "size of each value")
	benchCmd.Flags().StringVar(&benchConfigPath, "config", "", "YAML file overriding the flags above")
}

func loadBenchConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg := benchConfig{
		Concurrency: benchConcurrency,
		Duration:    benchDuration,
		Keys:        benchKeyCount,
		ValueBytes:  benchValueBytes,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	benchConcurrency, benchDuration, benchKeyCount, benchValueBytes = cfg.Concurrency, cfg.Duration, cfg.Keys, cfg.ValueBytes
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchConfigPath != "" {
		if err := loadBenchConfig(benchConfigPath); err != nil {
			return err
		}
	}

	db, err := kvlite.Open(dbDir, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	var ops atomic.Uint64
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < benchConcurrency; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			value := make([]byte, benchValueBytes)
			for {
				select {
				case <-stop:
					return
				default:
				}
				key := []byte(fmt.Sprintf("%012d", r.Intn(benchKeyCount)))
				if err := db.Set(kvlite.NoSync, key, value); err == nil {
					ops.Add(1)
				}
			}
		}(int64(i) + 1)
	}

	time.Sleep(benchDuration)
	close(stop)
	wg.Wait()

	total := ops.Load()
	fmt.Printf("%d ops in %s (%.0f ops/sec)\n", total, benchDuration, float64(total)/benchDuration.Seconds())
	return nil
}
