package app

import (
	"context"

	"github.com/ggonzalez94/llamarisk/internal/cache"
	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cacheStatsReport struct {
	Path     string               `json:"path"`
	Commands []cache.CommandStats `json:"commands"`
}

type cacheClearReport struct {
	Command string `json:"command,omitempty"`
	Removed int64  `json:"removed"`
	Pruned  bool   `json:"pruned,omitempty"`
}

func (s *runtimeState) newCacheCommand() *cobra.Command {
	root := &cobra.Command{Use: "cache", Short: "Inspect and clear cached command results"}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Entries, expired entries and bytes per command",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := s.requireCache()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()
			items, err := store.Stats(ctx)
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "read cache stats", err)
			}
			return s.emitStatic(cmd, cacheStatsReport{Path: s.settings.CachePath, Commands: items})
		},
	}

	var command string
	var expired bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached results, all of them or one command's",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if expired && command != "" {
				return clierr.New(clierr.CodeUsage, "use either --expired or --command, not both")
			}
			store, err := s.requireCache()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.settings.Timeout)
			defer cancel()

			report := cacheClearReport{Command: normalizeCommandPath(command), Pruned: expired}
			if expired {
				report.Removed, err = store.Prune(ctx)
			} else {
				report.Removed, err = store.Clear(ctx, report.Command)
			}
			if err != nil {
				return clierr.Wrap(clierr.CodeInternal, "clear cache", err)
			}
			s.logger.Info("cache cleared", zap.String("command", report.Command), zap.Int64("removed", report.Removed))
			return s.emitStatic(cmd, report)
		},
	}
	clearCmd.Flags().StringVar(&command, "command", "", "Only clear results of this command path (e.g. \"position\")")
	clearCmd.Flags().BoolVar(&expired, "expired", false, "Only remove entries whose TTL has elapsed")

	root.AddCommand(stats, clearCmd)
	return root
}

func (s *runtimeState) requireCache() (*cache.Store, error) {
	if s.cache == nil {
		return nil, clierr.New(clierr.CodeUsage, "cache is disabled (cache.enabled=false or --no-cache)")
	}
	return s.cache, nil
}
