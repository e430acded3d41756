package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/config"
	"jlpt-exam-service/internal/infra/memory"
	"jlpt-exam-service/internal/infra/postgres"
	redisinfra "jlpt-exam-service/internal/infra/redis"
)

// deps holds the adapters selected by config. Redis and Postgres are both
// optional; without them the service runs on the in-memory adapters.
type deps struct {
	exams   app.ExamRepository
	store   app.Store
	locker  app.Locker
	counter app.ParticipantCounter

	closers []func()
}

func newDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable yet")
		}
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)

		db, err = openBunDB(cfg)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = db.Close() })
	}

	var loader memory.ExamLoader = memory.NewStaticExamLoader(sampleExams())
	if pool != nil {
		loader = postgres.NewExamLoader(pool)
	}

	cacheTTL := config.TTLDuration(cfg.Exam.CacheTTL, 10*time.Minute)
	if redisClient != nil {
		d.exams = redisinfra.NewExamRepository(redisClient, loader, cacheTTL)
		d.locker = redisinfra.NewLocker(redisClient, config.TTLDuration(cfg.Session.LockTTL, 10*time.Second))
		d.counter = redisinfra.NewParticipantCounter(redisClient)
	} else {
		d.exams = memory.NewExamRepository(loader, cacheTTL)
		d.locker = memory.NewLocker()
	}

	if db != nil {
		d.store = postgres.NewStore(db)
	} else {
		d.store = memory.NewStore()
	}

	log.Info().
		Bool("redis", redisClient != nil).
		Bool("postgres", db != nil).
		Msg("adapters selected")
	return d, nil
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}
