package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/config"
	"jlpt-exam-service/internal/logging"
	"jlpt-exam-service/internal/scoring"
	transport "jlpt-exam-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	d, err := newDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	opts := []app.Option{
		app.WithLockWait(config.TTLDuration(cfg.Session.LockWait, 5*time.Second)),
	}
	if d.counter != nil {
		opts = append(opts, app.WithParticipantCounter(d.counter))
	}
	service := app.NewExamService(d.exams, d.store, d.locker, scoring.NewEngine(cfg.ScoringPolicy()), opts...)
	reaper := app.NewReaper(d.store, config.TTLDuration(cfg.Session.ReapInterval, 0))
	ws := transport.NewWSHandler(service, config.TTLDuration(cfg.Participants.PushInterval, 5*time.Second))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(transport.NewHandler(service), ws),
		ReadTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting exam service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
