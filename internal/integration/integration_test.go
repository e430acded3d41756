package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/domain"
	"jlpt-exam-service/internal/infra/postgres"
	"jlpt-exam-service/internal/infra/postgres/migrations"
	infraredis "jlpt-exam-service/internal/infra/redis"
	"jlpt-exam-service/internal/scoring"
)

type env struct {
	service *app.ExamService
	store   *postgres.Store
	db      *bun.DB
}

func setup(t *testing.T, ctx context.Context) env {
	t.Helper()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := openDB(pgURL)
	t.Cleanup(func() { _ = db.Close() })
	migrateUp(t, ctx, db)
	seedExam(t, ctx, db, sampleExam())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	t.Cleanup(pool.Close)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = redisClient.Close() })

	store := postgres.NewStore(db)
	exams := infraredis.NewExamRepository(redisClient, postgres.NewExamLoader(pool), 5*time.Minute)
	service := app.NewExamService(exams, store, infraredis.NewLocker(redisClient, 5*time.Second),
		scoring.NewEngine(scoring.NewPolicy(nil)),
		app.WithParticipantCounter(infraredis.NewParticipantCounter(redisClient)),
	)
	return env{service: service, store: store, db: db}
}

func TestExamLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)

	view, err := e.service.StartOrResume(ctx, "u1", "n4-it")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Questions) != 3 || view.Questions[0].ID != "it-q1" {
		t.Fatalf("unexpected questions %+v", view.Questions)
	}

	if _, err := e.service.SubmitAnswer(ctx, "u1", "n4-it", "it-q1", "it-q1-b"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := e.service.SubmitAnswer(ctx, "u1", "n4-it", "it-q1", "it-q1-a"); err != nil {
		t.Fatalf("overwrite answer: %v", err)
	}
	if _, err := e.service.SubmitAnswer(ctx, "u1", "n4-it", "it-q3", "it-q3-a"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := e.service.SubmitAnswer(ctx, "u1", "n4-it", "it-q2", "it-q3-a"); !errors.Is(err, domain.ErrInvalidOption) {
		t.Fatalf("expected invalid option, got %v", err)
	}

	resumed, err := e.service.StartOrResume(ctx, "u1", "n4-it")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.Resumed || len(resumed.Answers) != 2 || resumed.Answers["it-q1"] != "it-q1-a" {
		t.Fatalf("unexpected resume %+v", resumed)
	}

	if n, err := e.service.GetActiveCount(ctx, "n4-it"); err != nil || n != 1 {
		t.Fatalf("expected 1 participant, got %d (%v)", n, err)
	}

	result, err := e.service.Submit(ctx, "u1", "n4-it")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// 2 of 3 correct on a 180 point N4 test; the N4 pass mark is 90.
	if result.CorrectCount != 2 || result.TotalScore < 119.99 || result.TotalScore > 120.01 || !result.Passed {
		t.Fatalf("unexpected result %+v", result)
	}

	if n, _ := e.service.GetActiveCount(ctx, "n4-it"); n != 0 {
		t.Fatalf("expected submit to release participant, got %d", n)
	}
	if answers, _ := e.store.ListAnswers(ctx, "u1", "n4-it"); len(answers) != 0 {
		t.Fatalf("expected working answers to be cleared, got %d", len(answers))
	}

	history, err := e.service.GetHistory(ctx, "u1", "n4-it")
	if err != nil || len(history) != 1 || history[0].ID != result.AttemptID {
		t.Fatalf("unexpected history %+v (%v)", history, err)
	}
	detail, err := e.service.GetAttemptDetail(ctx, result.AttemptID, "u1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Answers) != 3 || detail.Answers[1].SelectedOptionID != nil {
		t.Fatalf("unexpected snapshot %+v", detail.Answers)
	}
	if ls := detail.Sections[domain.SectionListening]; ls.Correct != 1 || ls.Score < 59.99 || ls.Score > 60.01 {
		t.Fatalf("expected listening section to be scored, got %+v", detail.Sections)
	}
	if _, err := e.service.GetAttemptDetail(ctx, result.AttemptID, "u2"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestConcurrentStartsShareOneSession(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.service.StartOrResume(ctx, "u1", "n4-it"); err != nil {
				t.Errorf("start: %v", err)
			}
		}()
	}
	wg.Wait()

	var rows int
	if err := e.db.NewSelect().TableExpr("exam_sessions").Where("test_id = ?", "n4-it").ColumnExpr("count(*)").Scan(ctx, &rows); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one session row, got %d", rows)
	}
}

func TestAnswersRacingSubmitLeaveNoOrphans(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)

	for round := 0; round < 10; round++ {
		user := fmt.Sprintf("racer-%d", round)
		if _, err := e.service.StartOrResume(ctx, user, "n4-it"); err != nil {
			t.Fatalf("start: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.service.SubmitAnswer(ctx, user, "n4-it", "it-q1", "it-q1-a")
			if err != nil && !errors.Is(err, domain.ErrNoActiveSession) {
				t.Errorf("answer: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.service.Submit(ctx, user, "n4-it"); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
		wg.Wait()

		var rows int
		if err := e.db.NewSelect().TableExpr("current_answers").Where("user_id = ?", user).ColumnExpr("count(*)").Scan(ctx, &rows); err != nil {
			t.Fatalf("count answers: %v", err)
		}
		if rows != 0 {
			t.Fatalf("round %d: expected no working answers after submit, got %d", round, rows)
		}
	}
}

func TestReaperRemovesLapsedSessions(t *testing.T) {
	ctx := context.Background()
	e := setup(t, ctx)

	past := time.Now().Add(-time.Hour)
	if err := e.store.SaveSession(ctx, domain.Session{UserID: "u9", TestID: "n4-it", StartedAt: past, ExpiresAt: past.Add(time.Minute)}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := e.store.UpsertAnswer(ctx, domain.CurrentAnswer{UserID: "u9", TestID: "n4-it", QuestionID: "it-q1", SelectedOptionID: "it-q1-a", UpdatedAt: past}); err != nil {
		t.Fatalf("save answer: %v", err)
	}

	n, err := app.NewReaper(e.store, 0).ReapOnce(ctx)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if answers, _ := e.store.ListAnswers(ctx, "u9", "n4-it"); len(answers) != 0 {
		t.Fatalf("expected answers to be removed, got %d", len(answers))
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "jlpt", "POSTGRES_PASSWORD": "jlptpass", "POSTGRES_DB": "jlptdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://jlpt:jlptpass@%s:%s/jlptdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func openDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateUp(t *testing.T, ctx context.Context, db *bun.DB) {
	t.Helper()
	migrator := migrate.NewMigrator(db, migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func seedExam(t *testing.T, ctx context.Context, db *bun.DB, exam domain.Exam) {
	t.Helper()
	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tests (id, title, level, duration_min, total_score) VALUES (?, ?, ?, ?, ?)`,
			exam.Test.ID, exam.Test.Title, exam.Test.Level, exam.Test.DurationMin, exam.Test.TotalScore); err != nil {
			return err
		}
		for _, q := range exam.Questions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO questions (id, test_id, question_type, content, order_index) VALUES (?, ?, ?, ?, ?)`,
				q.ID, exam.Test.ID, q.Type, q.Content, q.OrderIndex); err != nil {
				return err
			}
			for _, o := range q.Options {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO options (id, question_id, content, is_correct) VALUES (?, ?, ?, ?)`,
					o.ID, q.ID, o.Content, o.Correct); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed exam: %v", err)
	}
}

func sampleExam() domain.Exam {
	return domain.Exam{
		Test: domain.Test{ID: "n4-it", Title: "N4 Integration", Level: "N4", DurationMin: 60, TotalScore: 180},
		Questions: []domain.Question{
			{ID: "it-q1", Type: "GRAMMAR", Content: "きのう 友だち（　）会いました。", OrderIndex: 1,
				Options: []domain.Option{{ID: "it-q1-a", Content: "に", Correct: true}, {ID: "it-q1-b", Content: "を"}}},
			{ID: "it-q2", Type: "READING", OrderIndex: 2,
				Options: []domain.Option{{ID: "it-q2-a", Correct: true}, {ID: "it-q2-b"}}},
			{ID: "it-q3", Type: "LISTENING", OrderIndex: 3,
				Options: []domain.Option{{ID: "it-q3-a", Correct: true}, {ID: "it-q3-b"}}},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
