package cli

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/config"
	"jlpt-exam-service/internal/logging"
)

// NewReapCmd purges lapsed sessions once, for use from a cron job when the
// server runs without a reap interval.
func NewReapCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete expired sessions and their answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)
			if cfg.Postgres.URL == "" {
				log.Warn().Msg("no postgres configured, nothing to reap")
				return nil
			}

			d, err := newDeps(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			start := time.Now()
			n, err := app.NewReaper(d.store, 0).ReapOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("sessions", n).Dur("took", time.Since(start)).Msg("reap finished")
			return nil
		},
	}
}
