package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"jlpt-exam-service/internal/domain"
)

// ExamLoader reads exam definitions (tests, questions, options) from Postgres.
type ExamLoader struct {
	pool *pgxpool.Pool
}

func NewExamLoader(pool *pgxpool.Pool) *ExamLoader {
	return &ExamLoader{pool: pool}
}

// LoadExam returns the test with its questions ordered by order_index.
func (l *ExamLoader) LoadExam(ctx context.Context, testID string) (domain.Exam, error) {
	var exam domain.Exam
	err := l.pool.QueryRow(ctx,
		`SELECT id, title, level, duration_min, total_score FROM tests WHERE id=$1`, testID,
	).Scan(&exam.Test.ID, &exam.Test.Title, &exam.Test.Level, &exam.Test.DurationMin, &exam.Test.TotalScore)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exam{}, domain.ErrTestNotFound
	}
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load test: %w", err)
	}

	rows, err := l.pool.Query(ctx, `
		SELECT q.id, q.question_type, q.content, q.order_index, o.id, o.content, o.is_correct
		FROM questions q
		LEFT JOIN options o ON o.question_id = q.id
		WHERE q.test_id=$1
		ORDER BY q.order_index, q.id, o.id`, testID)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var (
			q             domain.Question
			optID, optTxt *string
			optCorrect    *bool
		)
		if err := rows.Scan(&q.ID, &q.Type, &q.Content, &q.OrderIndex, &optID, &optTxt, &optCorrect); err != nil {
			return domain.Exam{}, fmt.Errorf("scan question: %w", err)
		}
		pos, seen := index[q.ID]
		if !seen {
			q.TestID = testID
			exam.Questions = append(exam.Questions, q)
			pos = len(exam.Questions) - 1
			index[q.ID] = pos
		}
		if optID == nil {
			continue
		}
		opt := domain.Option{ID: *optID}
		if optTxt != nil {
			opt.Content = *optTxt
		}
		if optCorrect != nil {
			opt.Correct = *optCorrect
		}
		exam.Questions[pos].Options = append(exam.Questions[pos].Options, opt)
	}
	if err := rows.Err(); err != nil {
		return domain.Exam{}, fmt.Errorf("load questions: %w", err)
	}
	return exam, nil
}
