package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"rmcloud/internal/artifactcache"
	"rmcloud/internal/fileutil"
	"rmcloud/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the artifact cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	cacheCmd.AddCommand(newCacheExportCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show artifact cache usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, warn, err := openCache(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || cache == nil {
				return err
			}
			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", stats.Dir)
			fmt.Fprintf(out, "Entries:   %d\n", stats.Entries)
			fmt.Fprintf(out, "Size:      %s\n", humanBytes(stats.TotalBytes))
			fmt.Fprintf(out, "Disk:      %s free (%.1f%%)\n", humanBytes(int64(stats.FreeBytes)), stats.FreeRatio*100)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, warn, err := openCache(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || cache == nil {
				return err
			}
			stats, err := cache.Stats()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, stats.EntrySummaries)
			}
			out := cmd.OutOrStdout()
			if len(stats.EntrySummaries) == 0 {
				fmt.Fprintln(out, "Cache is empty")
				return nil
			}
			const stampLayout = "2006-01-02 15:04"
			rows := make([][]string, 0, len(stats.EntrySummaries))
			for _, entry := range stats.EntrySummaries {
				rows = append(rows, []string{
					entry.DocumentID,
					strconv.Itoa(entry.Version),
					entry.Format.Extension(),
					humanBytes(entry.SizeBytes),
					entry.ModifiedAt.Local().Format(stampLayout),
				})
			}
			fmt.Fprintln(out, renderTable([]tableColumn{
				{Header: "Document", Align: text.AlignLeft},
				{Header: "Version", Align: text.AlignRight},
				{Header: "Format", Align: text.AlignLeft},
				{Header: "Size", Align: text.AlignRight},
				{Header: "Updated", Align: text.AlignLeft},
			}, rows))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			cache, warn, err := openCache(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || cache == nil {
				return err
			}
			removed, err := cache.Clear()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached artifact(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm removal")
	return cmd
}

func newCacheExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <document-id> <version> <destination>",
		Short: "Copy a cached artifact out of the cache",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, warn, err := openCache(ctx)
			if warn != "" {
				fmt.Fprintln(cmd.OutOrStdout(), warn)
			}
			if err != nil || cache == nil {
				return err
			}
			version, err := strconv.Atoi(strings.TrimSpace(args[1]))
			if err != nil {
				return fmt.Errorf("invalid version %q", args[1])
			}
			parsed, err := artifactcache.ParseFormat(format)
			if err != nil {
				return err
			}
			key := artifactcache.Key{DocumentID: strings.TrimSpace(args[0]), Version: version, Format: parsed}
			src, err := cache.Path(key)
			if err != nil {
				return err
			}
			if _, err := os.Stat(src); err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("%s is not cached", key)
				}
				return err
			}

			dst, err := exportDestination(args[2], key)
			if err != nil {
				return err
			}
			if err := fileutil.CopyFileVerified(src, dst); err != nil {
				return fmt.Errorf("export %s: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", key, dst)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "zip", "Artifact format (zip or pdf)")
	return cmd
}

// exportDestination resolves a directory destination to a file inside it.
func exportDestination(target string, key artifactcache.Key) (string, error) {
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		name, err := artifactcache.FileName(key)
		if err != nil {
			return "", err
		}
		return filepath.Join(target, name), nil
	}
	return target, nil
}

func openCache(ctx *commandContext) (*artifactcache.Cache, string, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg == nil || !cfg.Cache.Enabled {
		return nil, "Artifact cache is disabled (set [cache] enabled = true in config.toml)", nil
	}
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	if err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}
	cache, err := artifactcache.NewFromConfig(cfg, logging.NewComponentLogger(logger, "cli-cache"))
	if err != nil {
		return nil, "", err
	}
	return cache, "", nil
}

func humanBytes(v int64) string {
	const unit = 1024
	if v < unit {
		return fmt.Sprintf("%d B", v)
	}
	div := int64(unit)
	exp := 0
	for n := v / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	value := float64(v) / float64(div)
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPEZY"[exp])
}
