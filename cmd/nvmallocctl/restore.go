package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/nvmalloc"
	"github.com/spf13/cobra"
)

var (
	restoreBase  uint64
	restoreSlabs int
)

func init() {
	cmd := newRestoreCmd()
	cmd.Flags().Uint64Var(&restoreBase, "base", 0, "NVM base address the log's offsets are relative to")
	cmd.Flags().IntVar(&restoreSlabs, "slabs", 512, "number of 2MiB slabs in the backing region")
	rootCmd.AddCommand(cmd)
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <log-file>",
		Short: "Replay a newline-delimited offset,size recovery log",
		Long: `restore reconstructs allocator metadata from a log of
"offset,size" records, one per line, as would be read from a caller's
own persisted allocation journal after an unclean shutdown. Blank
lines and lines starting with # are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(args[0])
		},
	}
}

func runRestore(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	opts := config.DefaultOptions()
	totalSize := uint64(restoreSlabs) * opts.SlabSize

	a, err := nvmalloc.NewAllocator(restoreBase, totalSize, opts)
	if err != nil {
		return fmt.Errorf("failed to create allocator: %w", err)
	}

	scanner := bufio.NewScanner(f)
	var replayed, failed int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return fmt.Errorf("malformed record %q: expected offset,size", line)
		}
		offset, err := strconv.ParseUint(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil {
			return fmt.Errorf("malformed offset in %q: %w", line, err)
		}
		size, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return fmt.Errorf("malformed size in %q: %w", line, err)
		}

		address := uintptr(restoreBase + offset)
		if err := a.Restore(address, size); err != nil {
			printError("record %q failed: %v\n", line, err)
			failed++
			continue
		}
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed reading log: %w", err)
	}

	stats := a.Stats()

	if jsonOut {
		return printJSON(struct {
			Replayed int          `json:"replayed"`
			Failed   int          `json:"failed"`
			Stats    nvmalloc.Stats `json:"stats"`
		}{replayed, failed, stats})
	}

	printInfo("Replayed %d records (%d failed)\n", replayed, failed)
	printInfo("Indexed slabs: %d, free bytes: %d\n", stats.IndexedSlabs, stats.FreeBytes)
	return nil
}
