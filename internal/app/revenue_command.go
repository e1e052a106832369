package app

import (
	"context"
	"time"

	clierr "github.com/ggonzalez94/llamarisk/internal/errors"
	"github.com/ggonzalez94/llamarisk/internal/revenue"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type revenueReport struct {
	Summary revenue.Summary `json:"summary"`
	Epochs  []revenue.Epoch `json:"epochs"`
}

func (s *runtimeState) newRevenueCommand() *cobra.Command {
	root := &cobra.Command{Use: "revenue", Short: "Savings vault revenue commands"}

	var pages int
	epochs := &cobra.Command{
		Use:   "epochs",
		Short: "Weekly revenue epochs starting on Thursday (UTC)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if pages < 0 {
				return clierr.New(clierr.CodeUsage, "--pages must be zero or positive")
			}
			if !cmd.Flags().Changed("pages") {
				pages = s.settings.RevenueMaxPages
			}
			req := commandRequest{
				path:   trimRootPath(cmd.CommandPath()),
				params: map[string]any{"pages": pages},
				ttl:    10 * time.Minute,
			}
			return s.runCachedCommand(req, func(ctx context.Context) (fetchResult, error) {
				var res fetchResult
				feed := s.providers.revenue
				start := time.Now()
				events, err := feed.RevenueEvents(ctx, pages)
				res.observe(feed.Info().Name, start, err)
				if err != nil {
					return res, err
				}
				grouped := revenue.OrganizeIntoEpochs(events)
				s.logger.Debug("revenue epochs built", zap.Int("events", len(events)), zap.Int("epochs", len(grouped)))
				res.Data = revenueReport{Summary: revenue.Summarize(grouped), Epochs: grouped}
				return res, nil
			})
		},
	}
	epochs.Flags().IntVar(&pages, "pages", 0, "Revenue pages to read, 0 reads every page (default revenue.max_pages)")
	root.AddCommand(epochs)
	return root
}
