package app

import (
	"context"
	"time"

	"jlpt-exam-service/internal/domain"
)

// ExamRepository loads read-only exam definitions (from cache/backing store).
type ExamRepository interface {
	GetExam(ctx context.Context, testID string) (domain.Exam, error)
}

// Repository is the working-state and archive storage used by ExamService.
// Implementations enforce uniqueness of (user, test) sessions and
// (user, test, question) answers.
type Repository interface {
	// GetSession returns domain.ErrNoActiveSession when no row exists.
	GetSession(ctx context.Context, userID, testID string) (domain.Session, error)
	// SaveSession inserts or replaces the session of (UserID, TestID).
	SaveSession(ctx context.Context, session domain.Session) error
	DeleteSession(ctx context.Context, userID, testID string) error
	// CountActiveSessions counts sessions of testID with expiresAt > now.
	CountActiveSessions(ctx context.Context, testID string, now time.Time) (int, error)
	// DeleteExpiredSessions removes sessions with expiresAt <= now together with their answers.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// UpsertAnswer overwrites any previous answer for the same question.
	UpsertAnswer(ctx context.Context, answer domain.CurrentAnswer) error
	ListAnswers(ctx context.Context, userID, testID string) ([]domain.CurrentAnswer, error)
	DeleteAnswers(ctx context.Context, userID, testID string) error

	// CreateAttempt stores the attempt and all of its answers.
	CreateAttempt(ctx context.Context, attempt domain.Attempt) error
	// ListAttempts returns attempts without answers, newest submission first.
	ListAttempts(ctx context.Context, userID, testID string) ([]domain.Attempt, error)
	// GetAttempt returns the attempt with answers, or domain.ErrAttemptNotFound.
	GetAttempt(ctx context.Context, attemptID string) (domain.Attempt, error)
}

// Store is a Repository that can run a unit of work atomically.
type Store interface {
	Repository
	// WithinTx commits everything fn did through repo, or nothing when fn returns an error.
	WithinTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// Locker serializes work on a single key across callers.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (func(), error)
}

// ParticipantCounter reports how many users hold a non-expired session for a test.
type ParticipantCounter interface {
	Track(ctx context.Context, testID, userID string, expiresAt time.Time) error
	Release(ctx context.Context, testID, userID string) error
	ActiveCount(ctx context.Context, testID string, now time.Time) (int, error)
}
