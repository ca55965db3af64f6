package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/tiercache/pkg/models"
)

func newStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show tier usage and counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openApp(configPath, false)
			if err != nil {
				return err
			}
			defer cleanup()

			return writeStats(os.Stdout, a.cache.Stats())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newClearCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from both tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openApp(configPath, false)
			if err != nil {
				return err
			}
			defer cleanup()

			before := a.cache.Stats().L2
			a.cache.Clear()
			fmt.Printf("Cleared %d entries (%s).\n", before.Entries, humanize.IBytes(uint64(before.CurrentSizeBytes)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newInvalidateCmd() *cobra.Command {
	var (
		configPath string
		pattern    bool
	)

	cmd := &cobra.Command{
		Use:   "invalidate <key>",
		Short: "Remove a key, or every key containing a substring with --pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openApp(configPath, false)
			if err != nil {
				return err
			}
			defer cleanup()

			if pattern {
				n := a.cache.InvalidatePattern(args[0])
				fmt.Printf("Removed %d entries matching %q.\n", n, args[0])
				return nil
			}
			if a.cache.Invalidate(args[0]) {
				fmt.Printf("Removed %q.\n", args[0])
			} else {
				fmt.Printf("Key %q not found.\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&pattern, "pattern", false, "treat the argument as a literal substring")
	return cmd
}

func newSweepCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass: expire entries and persist the index",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := openApp(configPath, false)
			if err != nil {
				return err
			}
			defer cleanup()

			before := a.cache.Stats().L2
			if err := a.cache.RunMaintenance(context.Background()); err != nil {
				return err
			}
			after := a.cache.Stats().L2

			fmt.Printf("Expired %d entries, freed %s. %d entries remain.\n",
				after.Expirations-before.Expirations,
				humanize.IBytes(uint64(before.CurrentSizeBytes-after.CurrentSizeBytes)),
				after.Entries)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func writeStats(out io.Writer, s models.CacheStats) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tENTRIES\tUSED\tCAPACITY\tUTILIZATION\tHIT RATE\tEVICTIONS\tEXPIRED\tREJECTED")
	for _, t := range []models.TierStats{s.L1, s.L2} {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s%%\t%s%%\t%d\t%d\t%d\n",
			t.Level,
			humanize.Comma(int64(t.Entries)),
			humanize.IBytes(uint64(t.CurrentSizeBytes)),
			humanize.IBytes(uint64(t.CapacityBytes)),
			humanize.FtoaWithDigits(t.UtilizationPercent, 1),
			humanize.FtoaWithDigits(t.HitRate*100, 1),
			t.Evictions, t.Expirations, t.Rejections)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nDisk: %s reads, %s writes, %s errors\n",
		humanize.Comma(s.L2.DiskReads), humanize.Comma(s.L2.DiskWrites), humanize.Comma(s.L2.DiskErrors))
	if s.TotalRequests > 0 {
		fmt.Fprintf(out, "Requests: %s (%s%% hit, avg %s)\n",
			humanize.Comma(s.TotalRequests),
			humanize.FtoaWithDigits(s.HitRate*100, 1),
			s.AvgLatency)
	}
	return nil
}
