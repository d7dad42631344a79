// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/speechgraph/sgraph/internal/globalstats"
)

func newDumpStatsCommand() *cobra.Command {
	var archivePath string
	cmd := &cobra.Command{
		Use:   "dump-stats",
		Short: "Print the per-dimension mean/variance of the §6.5 global-statistics cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDumpStats(cmd.Context(), archivePath)
		},
	}
	cmd.Flags().StringVar(&archivePath, "archive", "", "optional kaldiio-framed utt-id/matrix archive to load into the cache before summing")
	return cmd
}

func runDumpStats(ctx context.Context, archivePath string) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	cache, err := globalstats.Open(cfg.GlobalStats.CachePath, cfg.GlobalStats.CompressAboveBytes, cfg.Metrics.OTLPEndpoint != "")
	if err != nil {
		return fmt.Errorf("dump-stats: opening cache: %w", err)
	}
	defer cache.Close()

	if archivePath != "" {
		if err := cache.LoadArchive(archivePath); err != nil {
			return fmt.Errorf("dump-stats: loading archive: %w", err)
		}
	}

	stats, err := cache.Sum()
	if err != nil {
		return fmt.Errorf("dump-stats: summing cache: %w", err)
	}

	fmt.Printf("frames: %.0f\n", stats.Count())
	fmt.Printf("dim  mean          variance\n")
	for d := 0; d < stats.Dim(); d++ {
		fmt.Printf("%3d  %12.6f  %12.6f\n", d, stats.Mean(d), stats.Variance(d))
	}
	return nil
}
