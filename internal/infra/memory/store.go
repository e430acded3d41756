package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"jlpt-exam-service/internal/app"
	"jlpt-exam-service/internal/domain"
)

var errDuplicateAttempt = errors.New("attempt already archived")

type key struct {
	userID string
	testID string
}

type state struct {
	sessions map[key]domain.Session
	answers  map[key]map[string]domain.CurrentAnswer
	attempts map[string]domain.Attempt
}

func newState() *state {
	return &state{
		sessions: make(map[key]domain.Session),
		answers:  make(map[key]map[string]domain.CurrentAnswer),
		attempts: make(map[string]domain.Attempt),
	}
}

// clone copies the mutable maps. Attempts are immutable and shared.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.sessions {
		c.sessions[k] = v
	}
	for k, byQuestion := range s.answers {
		m := make(map[string]domain.CurrentAnswer, len(byQuestion))
		for q, a := range byQuestion {
			m[q] = a
		}
		c.answers[k] = m
	}
	for id, a := range s.attempts {
		c.attempts[id] = a
	}
	return c
}

// Store is an in-memory implementation of app.Store. Transactions run on a
// copy of the state that replaces it on success.
type Store struct {
	mu sync.Mutex
	st *state
}

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repo app.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft := s.st.clone()
	if err := fn(ctx, &repository{st: draft}); err != nil {
		return err
	}
	s.st = draft
	return nil
}

func (s *Store) do(fn func(r *repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repository{st: s.st})
}

func (s *Store) GetSession(ctx context.Context, userID, testID string) (session domain.Session, err error) {
	err = s.do(func(r *repository) error {
		session, err = r.GetSession(ctx, userID, testID)
		return err
	})
	return session, err
}

func (s *Store) SaveSession(ctx context.Context, session domain.Session) error {
	return s.do(func(r *repository) error { return r.SaveSession(ctx, session) })
}

func (s *Store) DeleteSession(ctx context.Context, userID, testID string) error {
	return s.do(func(r *repository) error { return r.DeleteSession(ctx, userID, testID) })
}

func (s *Store) CountActiveSessions(ctx context.Context, testID string, now time.Time) (n int, err error) {
	err = s.do(func(r *repository) error {
		n, err = r.CountActiveSessions(ctx, testID, now)
		return err
	})
	return n, err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (n int, err error) {
	err = s.do(func(r *repository) error {
		n, err = r.DeleteExpiredSessions(ctx, now)
		return err
	})
	return n, err
}

func (s *Store) UpsertAnswer(ctx context.Context, answer domain.CurrentAnswer) error {
	return s.do(func(r *repository) error { return r.UpsertAnswer(ctx, answer) })
}

func (s *Store) ListAnswers(ctx context.Context, userID, testID string) (answers []domain.CurrentAnswer, err error) {
	err = s.do(func(r *repository) error {
		answers, err = r.ListAnswers(ctx, userID, testID)
		return err
	})
	return answers, err
}

func (s *Store) DeleteAnswers(ctx context.Context, userID, testID string) error {
	return s.do(func(r *repository) error { return r.DeleteAnswers(ctx, userID, testID) })
}

func (s *Store) CreateAttempt(ctx context.Context, attempt domain.Attempt) error {
	return s.do(func(r *repository) error { return r.CreateAttempt(ctx, attempt) })
}

func (s *Store) ListAttempts(ctx context.Context, userID, testID string) (attempts []domain.Attempt, err error) {
	err = s.do(func(r *repository) error {
		attempts, err = r.ListAttempts(ctx, userID, testID)
		return err
	})
	return attempts, err
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (attempt domain.Attempt, err error) {
	err = s.do(func(r *repository) error {
		attempt, err = r.GetAttempt(ctx, attemptID)
		return err
	})
	return attempt, err
}

// repository operates on a state without locking; the Store serializes access.
type repository struct {
	st *state
}

func (r *repository) GetSession(_ context.Context, userID, testID string) (domain.Session, error) {
	session, ok := r.st.sessions[key{userID, testID}]
	if !ok {
		return domain.Session{}, domain.ErrNoActiveSession
	}
	return session, nil
}

func (r *repository) SaveSession(_ context.Context, session domain.Session) error {
	r.st.sessions[key{session.UserID, session.TestID}] = session
	return nil
}

func (r *repository) DeleteSession(_ context.Context, userID, testID string) error {
	delete(r.st.sessions, key{userID, testID})
	return nil
}

func (r *repository) CountActiveSessions(_ context.Context, testID string, now time.Time) (int, error) {
	n := 0
	for k, session := range r.st.sessions {
		if k.testID == testID && session.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (r *repository) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	n := 0
	for k, session := range r.st.sessions {
		if session.Expired(now) {
			delete(r.st.sessions, k)
			delete(r.st.answers, k)
			n++
		}
	}
	return n, nil
}

func (r *repository) UpsertAnswer(_ context.Context, answer domain.CurrentAnswer) error {
	k := key{answer.UserID, answer.TestID}
	byQuestion, ok := r.st.answers[k]
	if !ok {
		byQuestion = make(map[string]domain.CurrentAnswer)
		r.st.answers[k] = byQuestion
	}
	byQuestion[answer.QuestionID] = answer
	return nil
}

func (r *repository) ListAnswers(_ context.Context, userID, testID string) ([]domain.CurrentAnswer, error) {
	byQuestion := r.st.answers[key{userID, testID}]
	answers := make([]domain.CurrentAnswer, 0, len(byQuestion))
	for _, a := range byQuestion {
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].QuestionID < answers[j].QuestionID })
	return answers, nil
}

func (r *repository) DeleteAnswers(_ context.Context, userID, testID string) error {
	delete(r.st.answers, key{userID, testID})
	return nil
}

func (r *repository) CreateAttempt(_ context.Context, attempt domain.Attempt) error {
	if _, exists := r.st.attempts[attempt.ID]; exists {
		return errDuplicateAttempt
	}
	r.st.attempts[attempt.ID] = copyAttempt(attempt)
	return nil
}

func (r *repository) ListAttempts(_ context.Context, userID, testID string) ([]domain.Attempt, error) {
	var attempts []domain.Attempt
	for _, a := range r.st.attempts {
		if a.UserID != userID || a.TestID != testID {
			continue
		}
		a.Answers = nil
		attempts = append(attempts, a)
	}
	sort.Slice(attempts, func(i, j int) bool {
		if !attempts[i].SubmittedAt.Equal(attempts[j].SubmittedAt) {
			return attempts[i].SubmittedAt.After(attempts[j].SubmittedAt)
		}
		return attempts[i].ID > attempts[j].ID
	})
	return attempts, nil
}

func (r *repository) GetAttempt(_ context.Context, attemptID string) (domain.Attempt, error) {
	a, ok := r.st.attempts[attemptID]
	if !ok {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

// copyAttempt detaches the answers and sections so callers cannot mutate the archive.
func copyAttempt(a domain.Attempt) domain.Attempt {
	a.Answers = append([]domain.AttemptAnswer(nil), a.Answers...)
	sections := make(map[domain.Section]domain.SectionScore, len(a.Sections))
	for s, ss := range a.Sections {
		sections[s] = ss
	}
	a.Sections = sections
	return a
}
