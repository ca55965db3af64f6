package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pario-ai/tiercache/pkg/models"
)

func newEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query and manage the cache event journal",
	}

	cmd.AddCommand(
		newEventsSearchCmd(),
		newEventsStatsCmd(),
		newEventsCleanupCmd(),
	)
	return cmd
}

func newEventsSearchCmd() *cobra.Command {
	var (
		configPath string
		kind       string
		tier       string
		key        string
		since      string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.EventQueryOpts{
				Kind:  models.EventKind(kind),
				Tier:  models.Level(tier),
				Key:   key,
				Limit: limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			events, err := j.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatEvents(events))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind (evict, expire, promote, ...)")
	cmd.Flags().StringVar(&tier, "tier", "", "filter by tier (l1, l2)")
	cmd.Flags().StringVar(&key, "key", "", "filter by cache key")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")
	return cmd
}

func newEventsStatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by kind and tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := j.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatEventStats(stats))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func newEventsCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete events older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, cleanup, err := openJournal(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := j.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d events.\n", deleted)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	return cmd
}

func formatEvents(events []models.Event) string {
	if len(events) == 0 {
		return "No events found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %-4s %-14s %-12s %10s  %s\n",
		"TIME", "KIND", "TIER", "TYPE", "REASON", "SIZE", "KEY")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, e := range events {
		fmt.Fprintf(&b, "%-20s %-10s %-4s %-14s %-12s %10s  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Kind, e.Tier, e.CacheType, e.Reason,
			humanize.IBytes(uint64(e.SizeBytes)), e.Key)
	}
	return b.String()
}

func formatEventStats(stats []models.EventStat) string {
	if len(stats) == 0 {
		return "No events recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-6s %10s\n", "KIND", "TIER", "COUNT")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-6s %10s\n", s.Kind, s.Tier, humanize.Comma(int64(s.Count)))
	}
	return b.String()
}
