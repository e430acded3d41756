package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"jlpt-exam-service/internal/domain"
)

type sessionModel struct {
	bun.BaseModel `bun:"table:exam_sessions,alias:s"`

	UserID    string    `bun:"user_id,pk"`
	TestID    string    `bun:"test_id,pk"`
	StartedAt time.Time `bun:"started_at,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

func (m sessionModel) toDomain() domain.Session {
	return domain.Session{UserID: m.UserID, TestID: m.TestID, StartedAt: m.StartedAt, ExpiresAt: m.ExpiresAt}
}

type answerModel struct {
	bun.BaseModel `bun:"table:current_answers,alias:a"`

	UserID           string    `bun:"user_id,pk"`
	TestID           string    `bun:"test_id,pk"`
	QuestionID       string    `bun:"question_id,pk"`
	SelectedOptionID string    `bun:"selected_option_id,notnull"`
	UpdatedAt        time.Time `bun:"updated_at,notnull"`
}

type attemptModel struct {
	bun.BaseModel `bun:"table:attempts,alias:at"`

	ID             string                                 `bun:"id,pk"`
	TestID         string                                 `bun:"test_id,notnull"`
	UserID         string                                 `bun:"user_id,notnull"`
	Level          string                                 `bun:"level,notnull"`
	StartedAt      time.Time                              `bun:"started_at,notnull"`
	SubmittedAt    time.Time                              `bun:"submitted_at,notnull"`
	TotalQuestions int                                    `bun:"total_questions,notnull"`
	CorrectCount   int                                    `bun:"correct_count,notnull"`
	TotalScore     float64                                `bun:"total_score,notnull"`
	MaxScore       float64                                `bun:"max_score,notnull"`
	PassScore      float64                                `bun:"pass_score,notnull"`
	Passed         bool                                   `bun:"passed,notnull"`
	Sections       map[domain.Section]domain.SectionScore `bun:"section_scores,type:jsonb,notnull"`
}

type attemptAnswerModel struct {
	bun.BaseModel `bun:"table:attempt_answers,alias:aa"`

	AttemptID        string  `bun:"attempt_id,pk"`
	QuestionID       string  `bun:"question_id,pk"`
	Section          string  `bun:"section,notnull"`
	OrderIndex       int     `bun:"order_index,notnull"`
	SelectedOptionID *string `bun:"selected_option_id"`
	CorrectOptionID  string  `bun:"correct_option_id,notnull"`
	IsCorrect        bool    `bun:"is_correct,notnull"`
}

func newAttemptModel(a domain.Attempt) attemptModel {
	return attemptModel{
		ID:             a.ID,
		TestID:         a.TestID,
		UserID:         a.UserID,
		Level:          a.Level,
		StartedAt:      a.StartedAt,
		SubmittedAt:    a.SubmittedAt,
		TotalQuestions: a.TotalQuestions,
		CorrectCount:   a.CorrectCount,
		TotalScore:     a.TotalScore,
		MaxScore:       a.MaxScore,
		PassScore:      a.PassScore,
		Passed:         a.Passed,
		Sections:       a.Sections,
	}
}

func (m attemptModel) toDomain(answers []attemptAnswerModel) domain.Attempt {
	a := domain.Attempt{
		ID:             m.ID,
		TestID:         m.TestID,
		UserID:         m.UserID,
		Level:          m.Level,
		StartedAt:      m.StartedAt,
		SubmittedAt:    m.SubmittedAt,
		TotalQuestions: m.TotalQuestions,
		CorrectCount:   m.CorrectCount,
		TotalScore:     m.TotalScore,
		MaxScore:       m.MaxScore,
		PassScore:      m.PassScore,
		Passed:         m.Passed,
		Sections:       m.Sections,
	}
	for _, ans := range answers {
		a.Answers = append(a.Answers, domain.AttemptAnswer{
			QuestionID:       ans.QuestionID,
			Section:          domain.Section(ans.Section),
			OrderIndex:       ans.OrderIndex,
			SelectedOptionID: ans.SelectedOptionID,
			CorrectOptionID:  ans.CorrectOptionID,
			Correct:          ans.IsCorrect,
		})
	}
	return a
}
