package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"groupsched/internal/ics"
	appLog "groupsched/internal/log"
	"groupsched/internal/store"
	"groupsched/internal/web"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			// --listen beats both the file and the environment.
			if listen != "" {
				conf.Listen = listen
			}

			appLog.Info("groupsched starting", "version", version)
			appLog.Info("effective config",
				"listen", conf.Listen,
				"timezone", conf.Timezone,
				"store_path", conf.StorePath,
				"max_occurrences", conf.Recurrence.MaxOccurrences,
				"max_slots_per_member", conf.Availability.MaxSlotsPerMember,
				"default_show_rate", conf.Forecast.DefaultShowRate,
				"history_months", conf.Forecast.HistoryMonths,
				"refresh", conf.Forecast.RefreshCron,
				"ics_count", len(conf.ICS),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			repo, err := store.Open(ctx, conf.StorePath)
			if err != nil {
				appLog.Error("failed to open store", err, "store_path", conf.StorePath)
				return err
			}
			defer repo.Close()

			cacheDir := filepath.Join(filepath.Dir(conf.StorePath), "ics-cache")
			srv := web.NewServer(conf, repo, web.WithFetcher(ics.NewFetcher(cacheDir)))

			if err := srv.Run(ctx); err != nil {
				appLog.Error("server stopped", err)
				return err
			}
			appLog.Info("groupsched exiting")
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "HTTP listen address (overrides config)")
	return cmd
}
