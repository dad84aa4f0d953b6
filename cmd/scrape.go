package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newScrapeCmd() *cobra.Command {
	var siteID int64
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrape every registered site once (or one site with --site) and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}
			defer func() {
				if cerr := app.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					rt.logger.Warn("close app", zap.Error(cerr))
				}
			}()

			out, err := app.ScrapeOnce(cmd.Context(), siteID)
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(out); err != nil {
				return fmt.Errorf("write outcome: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&siteID, "site", 0, "scrape only this site ID")
	return cmd
}
