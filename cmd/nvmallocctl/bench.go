package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/nvmalloc"
	"github.com/spf13/cobra"
)

var (
	benchSlabs      int
	benchWorkers    int
	benchOps        int
	benchIterations int
)

func init() {
	cmd := newBenchCmd()
	cmd.Flags().IntVar(&benchSlabs, "slabs", 512, "number of 2MiB slabs in the backing region")
	cmd.Flags().IntVar(&benchWorkers, "workers", 10, "concurrent goroutines")
	cmd.Flags().IntVar(&benchOps, "ops", 1000000, "allocate/free operations per iteration")
	cmd.Flags().IntVar(&benchIterations, "iterations", 3, "number of iterations to run")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Run a concurrent allocate/free stress test",
		Long: `bench hammers a fresh allocator instance with concurrent
allocate/free traffic (70% allocate, 30% free, matching a typical
write-heavy NVM workload) and reports outstanding allocations, free
bytes, and timing per iteration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench()
		},
	}
}

// benchResult mirrors one iteration of the stress test.
type benchResult struct {
	Iteration        int
	TotalOutstanding uint64
	TotalFrees       uint64
	FinalFreeBytes   uint64
	IndexedSlabs     uint32
	Duration         time.Duration
}

func runBench() error {
	opts := config.DefaultOptions()
	totalSize := uint64(benchSlabs) * opts.SlabSize

	printInfo("Starting allocate/free stress test with %d iterations\n", benchIterations)
	printInfo("Region size: %d slabs (%d MiB)\n", benchSlabs, totalSize/1024/1024)
	printInfo("Workers: %d, ops/iteration: %d\n\n", benchWorkers, benchOps)

	results := make([]benchResult, 0, benchIterations)
	for i := 0; i < benchIterations; i++ {
		printInfo("Running iteration %d...\n", i+1)

		result, err := runBenchIteration(i+1, totalSize, opts)
		if err != nil {
			return fmt.Errorf("iteration %d failed: %w", i+1, err)
		}
		results = append(results, result)

		printInfo("Iteration %d results:\n", i+1)
		printInfo("  Outstanding allocations: %d\n", result.TotalOutstanding)
		printInfo("  Frees performed: %d\n", result.TotalFrees)
		printInfo("  Free bytes remaining: %d\n", result.FinalFreeBytes)
		printInfo("  Indexed slabs: %d\n", result.IndexedSlabs)
		printInfo("  Duration: %v\n\n", result.Duration)
	}

	var avgDuration float64
	for _, r := range results {
		avgDuration += r.Duration.Seconds()
	}
	avgDuration /= float64(len(results))

	if jsonOut {
		return printJSON(results)
	}

	printInfo("Average results:\n")
	printInfo("  Average duration: %.2f seconds\n", avgDuration)
	return nil
}

func runBenchIteration(iteration int, totalSize uint64, opts config.Options) (benchResult, error) {
	allocator, err := nvmalloc.NewAllocator(0, totalSize, opts)
	if err != nil {
		return benchResult{}, fmt.Errorf("failed to create allocator: %w", err)
	}

	allocated := make(map[uintptr]struct{})
	var mu sync.Mutex
	var wg sync.WaitGroup

	startTime := time.Now()
	ops := 0
	var frees uint64

	for w := 0; w < benchWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w)))

			for {
				mu.Lock()
				if ops >= benchOps {
					mu.Unlock()
					return
				}
				ops++
				mu.Unlock()

				if rng.Float64() < 0.7 {
					size := uint64(rng.Intn(config.MaxBlockSize) + 1)
					addr, err := allocator.Allocate(size)
					if err != nil {
						continue
					}
					mu.Lock()
					allocated[addr] = struct{}{}
					mu.Unlock()
					continue
				}

				mu.Lock()
				var target uintptr
				var found bool
				for a := range allocated {
					target = a
					found = true
					break
				}
				if found {
					delete(allocated, target)
					frees++
				}
				mu.Unlock()

				if found {
					allocator.Free(target)
				}
			}
		}()
	}

	wg.Wait()
	duration := time.Since(startTime)

	stats := allocator.Stats()
	return benchResult{
		Iteration:        iteration,
		TotalOutstanding: uint64(len(allocated)),
		TotalFrees:       frees,
		FinalFreeBytes:   stats.FreeBytes,
		IndexedSlabs:     stats.IndexedSlabs,
		Duration:         duration,
	}, nil
}
