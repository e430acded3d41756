package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/domain"
)

// Store is the bun-backed implementation of app.Store. Primary keys on
// exam_sessions and current_answers enforce the one-row-per-key invariants.
type Store struct {
	*repository
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{repository: &repository{db: db}, db: db}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repo app.Repository) error) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &repository{db: tx, locking: true})
	})
}

// DeleteExpiredSessions removes lapsed sessions and their answers in one transaction.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.WithinTx(ctx, func(ctx context.Context, repo app.Repository) error {
		var err error
		n, err = repo.DeleteExpiredSessions(ctx, now)
		return err
	})
	return n, err
}

type repository struct {
	db bun.IDB
	// locking makes GetSession take a row lock, so writes that depend on the
	// session wait for a concurrent Submit to commit or roll back.
	locking bool
}

func (r *repository) GetSession(ctx context.Context, userID, testID string) (domain.Session, error) {
	var m sessionModel
	q := r.db.NewSelect().Model(&m).
		Where("user_id = ?", userID).
		Where("test_id = ?", testID)
	if r.locking {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.ErrNoActiveSession
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return m.toDomain(), nil
}

func (r *repository) SaveSession(ctx context.Context, session domain.Session) error {
	m := sessionModel{
		UserID:    session.UserID,
		TestID:    session.TestID,
		StartedAt: session.StartedAt,
		ExpiresAt: session.ExpiresAt,
	}
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (user_id, test_id) DO UPDATE").
		Set("started_at = EXCLUDED.started_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (r *repository) DeleteSession(ctx context.Context, userID, testID string) error {
	_, err := r.db.NewDelete().Model((*sessionModel)(nil)).
		Where("user_id = ?", userID).
		Where("test_id = ?", testID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *repository) CountActiveSessions(ctx context.Context, testID string, now time.Time) (int, error) {
	n, err := r.db.NewSelect().Model((*sessionModel)(nil)).
		Where("test_id = ?", testID).
		Where("expires_at > ?", now).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

func (r *repository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	_, err := r.db.NewDelete().Model((*answerModel)(nil)).
		Where("EXISTS (SELECT 1 FROM exam_sessions AS s WHERE s.user_id = a.user_id AND s.test_id = a.test_id AND s.expires_at <= ?)", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired answers: %w", err)
	}
	res, err := r.db.NewDelete().Model((*sessionModel)(nil)).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *repository) UpsertAnswer(ctx context.Context, answer domain.CurrentAnswer) error {
	m := answerModel{
		UserID:           answer.UserID,
		TestID:           answer.TestID,
		QuestionID:       answer.QuestionID,
		SelectedOptionID: answer.SelectedOptionID,
		UpdatedAt:        answer.UpdatedAt,
	}
	_, err := r.db.NewInsert().Model(&m).
		On("CONFLICT (user_id, test_id, question_id) DO UPDATE").
		Set("selected_option_id = EXCLUDED.selected_option_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

func (r *repository) ListAnswers(ctx context.Context, userID, testID string) ([]domain.CurrentAnswer, error) {
	var rows []answerModel
	err := r.db.NewSelect().Model(&rows).
		Where("user_id = ?", userID).
		Where("test_id = ?", testID).
		Order("question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	answers := make([]domain.CurrentAnswer, 0, len(rows))
	for _, m := range rows {
		answers = append(answers, domain.CurrentAnswer{
			UserID:           m.UserID,
			TestID:           m.TestID,
			QuestionID:       m.QuestionID,
			SelectedOptionID: m.SelectedOptionID,
			UpdatedAt:        m.UpdatedAt,
		})
	}
	return answers, nil
}

func (r *repository) DeleteAnswers(ctx context.Context, userID, testID string) error {
	_, err := r.db.NewDelete().Model((*answerModel)(nil)).
		Where("user_id = ?", userID).
		Where("test_id = ?", testID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}
	return nil
}

func (r *repository) CreateAttempt(ctx context.Context, attempt domain.Attempt) error {
	m := newAttemptModel(attempt)
	if _, err := r.db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	if len(attempt.Answers) == 0 {
		return nil
	}
	rows := make([]attemptAnswerModel, 0, len(attempt.Answers))
	for _, a := range attempt.Answers {
		rows = append(rows, attemptAnswerModel{
			AttemptID:        attempt.ID,
			QuestionID:       a.QuestionID,
			Section:          string(a.Section),
			OrderIndex:       a.OrderIndex,
			SelectedOptionID: a.SelectedOptionID,
			CorrectOptionID:  a.CorrectOptionID,
			IsCorrect:        a.Correct,
		})
	}
	if _, err := r.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert attempt answers: %w", err)
	}
	return nil
}

func (r *repository) ListAttempts(ctx context.Context, userID, testID string) ([]domain.Attempt, error) {
	var rows []attemptModel
	err := r.db.NewSelect().Model(&rows).
		Where("user_id = ?", userID).
		Where("test_id = ?", testID).
		Order("submitted_at DESC", "id DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select attempts: %w", err)
	}
	attempts := make([]domain.Attempt, 0, len(rows))
	for _, m := range rows {
		attempts = append(attempts, m.toDomain(nil))
	}
	return attempts, nil
}

func (r *repository) GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error) {
	var m attemptModel
	err := r.db.NewSelect().Model(&m).Where("id = ?", attemptID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select attempt: %w", err)
	}

	var answers []attemptAnswerModel
	err = r.db.NewSelect().Model(&answers).
		Where("attempt_id = ?", attemptID).
		Order("order_index ASC", "question_id ASC").
		Scan(ctx)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select attempt answers: %w", err)
	}
	return m.toDomain(answers), nil
}
