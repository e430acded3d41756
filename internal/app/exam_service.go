package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"jlpt-exam-service/internal/domain"
	"jlpt-exam-service/internal/scoring"
)

// ExamService contains the mock-test session use cases.
type ExamService struct {
	exams   ExamRepository
	store   Store
	locker  Locker
	counter ParticipantCounter
	engine  *scoring.Engine
	now     func() time.Time
	newID   func() string

	lockWait time.Duration
}

// Option customizes an ExamService.
type Option func(*ExamService)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *ExamService) { s.now = now }
}

// WithParticipantCounter replaces the store-derived counter.
func WithParticipantCounter(counter ParticipantCounter) Option {
	return func(s *ExamService) { s.counter = counter }
}

// WithLockWait bounds how long a call waits for the per-session lock. Zero waits until ctx is done.
func WithLockWait(d time.Duration) Option {
	return func(s *ExamService) { s.lockWait = d }
}

// WithIDGenerator replaces the attempt id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *ExamService) { s.newID = newID }
}

func NewExamService(exams ExamRepository, store Store, locker Locker, engine *scoring.Engine, opts ...Option) *ExamService {
	s := &ExamService{
		exams:   exams,
		store:   store,
		locker:  locker,
		counter: NewStoreCounter(store),
		engine:  engine,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// sessionKey length-prefixes the user id so ids containing ':' cannot collide.
func sessionKey(userID, testID string) string {
	return "session:" + strconv.Itoa(len(userID)) + ":" + userID + ":" + testID
}

func (s *ExamService) lock(ctx context.Context, userID, testID string) (func(), error) {
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}
	unlock, err := s.locker.Lock(ctx, sessionKey(userID, testID))
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return unlock, nil
}

// StartOrResume opens a session for the user, resumes a live one, or restarts a lapsed one.
// Calls for the same user and test are serialized.
func (s *ExamService) StartOrResume(ctx context.Context, userID, testID string) (domain.SessionView, error) {
	exam, err := s.exams.GetExam(ctx, testID)
	if err != nil {
		return domain.SessionView{}, err
	}

	unlock, err := s.lock(ctx, userID, testID)
	if err != nil {
		return domain.SessionView{}, err
	}
	defer unlock()

	now := s.now()
	var (
		session domain.Session
		answers []domain.CurrentAnswer
		resumed bool
		reset   bool
	)
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.GetSession(ctx, userID, testID)
		switch {
		case errors.Is(err, domain.ErrNoActiveSession):
		case err != nil:
			return err
		case !current.Expired(now):
			current.ExpiresAt = now.Add(exam.Test.Duration())
			if err := repo.SaveSession(ctx, current); err != nil {
				return err
			}
			session, resumed = current, true
			answers, err = repo.ListAnswers(ctx, userID, testID)
			return err
		default:
			reset = true
			if err := repo.DeleteSession(ctx, userID, testID); err != nil {
				return err
			}
		}

		// Orphaned answers never survive into a fresh session.
		if err := repo.DeleteAnswers(ctx, userID, testID); err != nil {
			return err
		}
		session = domain.Session{
			UserID:    userID,
			TestID:    testID,
			StartedAt: now,
			ExpiresAt: now.Add(exam.Test.Duration()),
		}
		return repo.SaveSession(ctx, session)
	})
	if err != nil {
		return domain.SessionView{}, fmt.Errorf("start session: %w", err)
	}

	if err := s.counter.Track(ctx, testID, userID, session.ExpiresAt); err != nil {
		log.Warn().Err(err).Str("testID", testID).Str("userID", userID).Msg("StartOrResume: failed to track participant")
	}
	log.Info().
		Str("testID", testID).
		Str("userID", userID).
		Bool("resumed", resumed).
		Bool("reset", reset).
		Time("expiresAt", session.ExpiresAt).
		Msg("session opened")

	selected := answerMap(answers)
	return domain.SessionView{
		TestID:    testID,
		StartedAt: session.StartedAt,
		ExpiresAt: session.ExpiresAt,
		Resumed:   resumed,
		Test:      exam.Test,
		Questions: questionViews(exam, selected, ""),
		Answers:   selected,
	}, nil
}

// ListQuestions returns the exam's questions, optionally limited to one section,
// with the user's current selections attached.
func (s *ExamService) ListQuestions(ctx context.Context, userID, testID string, section domain.Section) ([]domain.QuestionView, error) {
	exam, err := s.exams.GetExam(ctx, testID)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.ListAnswers(ctx, userID, testID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return questionViews(exam, answerMap(answers), section), nil
}

// SubmitAnswer records the user's choice for a question, replacing any earlier one.
func (s *ExamService) SubmitAnswer(ctx context.Context, userID, testID, questionID, optionID string) (domain.CurrentAnswer, error) {
	exam, err := s.exams.GetExam(ctx, testID)
	if err != nil {
		return domain.CurrentAnswer{}, err
	}

	question, ok := exam.Question(questionID)
	if !ok {
		return domain.CurrentAnswer{}, domain.ErrQuestionNotFound
	}
	if !question.HasOption(optionID) {
		return domain.CurrentAnswer{}, domain.ErrInvalidOption
	}

	now := s.now()
	answer := domain.CurrentAnswer{
		UserID:           userID,
		TestID:           testID,
		QuestionID:       questionID,
		SelectedOptionID: optionID,
		UpdatedAt:        now,
	}
	// The session read and the write share a transaction so a concurrent
	// Submit either sees this answer or makes the write fail.
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		session, err := repo.GetSession(ctx, userID, testID)
		if err != nil {
			return err
		}
		if session.Expired(now) {
			return domain.ErrSessionExpired
		}
		if err := repo.UpsertAnswer(ctx, answer); err != nil {
			return fmt.Errorf("save answer: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CurrentAnswer{}, err
	}
	return answer, nil
}

// ListForResume returns the current selections keyed by question id.
func (s *ExamService) ListForResume(ctx context.Context, userID, testID string) (map[string]string, error) {
	answers, err := s.store.ListAnswers(ctx, userID, testID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return answerMap(answers), nil
}

// Submit grades the session and archives it. Archive write and working-state
// clear commit together; on failure the session is left as it was.
func (s *ExamService) Submit(ctx context.Context, userID, testID string) (domain.Result, error) {
	exam, err := s.exams.GetExam(ctx, testID)
	if err != nil {
		return domain.Result{}, err
	}

	unlock, err := s.lock(ctx, userID, testID)
	if err != nil {
		return domain.Result{}, err
	}
	defer unlock()

	now := s.now()
	var attempt domain.Attempt
	err = s.store.WithinTx(ctx, func(ctx context.Context, repo Repository) error {
		session, err := repo.GetSession(ctx, userID, testID)
		if err != nil {
			return err
		}
		if session.Expired(now) {
			return domain.ErrSessionExpired
		}
		answers, err := repo.ListAnswers(ctx, userID, testID)
		if err != nil {
			return fmt.Errorf("list answers: %w", err)
		}

		grade := s.engine.Grade(exam, answerMap(answers))
		attempt = newAttempt(s.newID(), userID, exam.Test, session.StartedAt, now, grade)

		if err := repo.CreateAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		if err := repo.DeleteAnswers(ctx, userID, testID); err != nil {
			return fmt.Errorf("delete answers: %w", err)
		}
		if err := repo.DeleteSession(ctx, userID, testID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveSession) || errors.Is(err, domain.ErrSessionExpired) {
			return domain.Result{}, err
		}
		log.Error().Err(err).Str("testID", testID).Str("userID", userID).Msg("Submit: transaction rolled back")
		return domain.Result{}, fmt.Errorf("%w: %w", domain.ErrTransactionFailed, err)
	}

	if err := s.counter.Release(ctx, testID, userID); err != nil {
		log.Warn().Err(err).Str("testID", testID).Str("userID", userID).Msg("Submit: failed to release participant")
	}
	log.Info().
		Str("attemptID", attempt.ID).
		Str("testID", testID).
		Str("userID", userID).
		Float64("totalScore", attempt.TotalScore).
		Bool("passed", attempt.Passed).
		Msg("attempt archived")

	return attemptResult(attempt), nil
}

// GetCurrentResult grades the working answers of the unsubmitted session without persisting anything.
func (s *ExamService) GetCurrentResult(ctx context.Context, userID, testID string) (domain.Result, error) {
	exam, err := s.exams.GetExam(ctx, testID)
	if err != nil {
		return domain.Result{}, err
	}
	session, err := s.store.GetSession(ctx, userID, testID)
	if err != nil {
		return domain.Result{}, err
	}
	answers, err := s.store.ListAnswers(ctx, userID, testID)
	if err != nil {
		return domain.Result{}, fmt.Errorf("list answers: %w", err)
	}

	g := s.engine.Grade(exam, answerMap(answers))
	expiresAt := session.ExpiresAt
	return domain.Result{
		TestID:         testID,
		Level:          exam.Test.Level,
		TotalQuestions: g.TotalQuestions,
		Answered:       g.Answered,
		CorrectCount:   g.CorrectCount,
		TotalScore:     g.TotalScore,
		MaxScore:       g.MaxScore,
		PassScore:      g.PassScore,
		Passed:         g.Passed,
		Sections:       g.Sections,
		StartedAt:      session.StartedAt,
		ExpiresAt:      &expiresAt,
	}, nil
}

// GetHistory lists the user's archived attempts for a test, newest first.
func (s *ExamService) GetHistory(ctx context.Context, userID, testID string) ([]domain.AttemptSummary, error) {
	attempts, err := s.store.ListAttempts(ctx, userID, testID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].SubmittedAt.After(attempts[j].SubmittedAt)
	})
	summaries := make([]domain.AttemptSummary, 0, len(attempts))
	for _, a := range attempts {
		summaries = append(summaries, a.Summary())
	}
	return summaries, nil
}

// GetAttemptDetail returns the archived per-question review of an attempt owned by userID.
func (s *ExamService) GetAttemptDetail(ctx context.Context, attemptID, userID string) (domain.Attempt, error) {
	attempt, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if attempt.UserID != userID {
		return domain.Attempt{}, domain.ErrUnauthorized
	}
	sort.SliceStable(attempt.Answers, func(i, j int) bool {
		return attempt.Answers[i].OrderIndex < attempt.Answers[j].OrderIndex
	})
	return attempt, nil
}

// GetActiveCount reports how many users currently hold a live session for the test.
func (s *ExamService) GetActiveCount(ctx context.Context, testID string) (int, error) {
	return s.counter.ActiveCount(ctx, testID, s.now())
}

func newAttempt(id, userID string, test domain.Test, startedAt, submittedAt time.Time, g scoring.Grade) domain.Attempt {
	return domain.Attempt{
		ID:             id,
		TestID:         test.ID,
		UserID:         userID,
		Level:          test.Level,
		StartedAt:      startedAt,
		SubmittedAt:    submittedAt,
		TotalQuestions: g.TotalQuestions,
		CorrectCount:   g.CorrectCount,
		TotalScore:     g.TotalScore,
		MaxScore:       g.MaxScore,
		PassScore:      g.PassScore,
		Passed:         g.Passed,
		Sections:       g.Sections,
		Answers:        g.Answers,
	}
}

func attemptResult(a domain.Attempt) domain.Result {
	answered := 0
	for _, ans := range a.Answers {
		if ans.SelectedOptionID != nil {
			answered++
		}
	}
	submittedAt := a.SubmittedAt
	return domain.Result{
		AttemptID:      a.ID,
		TestID:         a.TestID,
		Level:          a.Level,
		TotalQuestions: a.TotalQuestions,
		Answered:       answered,
		CorrectCount:   a.CorrectCount,
		TotalScore:     a.TotalScore,
		MaxScore:       a.MaxScore,
		PassScore:      a.PassScore,
		Passed:         a.Passed,
		Sections:       a.Sections,
		StartedAt:      a.StartedAt,
		SubmittedAt:    &submittedAt,
	}
}

func answerMap(answers []domain.CurrentAnswer) map[string]string {
	out := make(map[string]string, len(answers))
	for _, a := range answers {
		out[a.QuestionID] = a.SelectedOptionID
	}
	return out
}

func questionViews(exam domain.Exam, selected map[string]string, section domain.Section) []domain.QuestionView {
	views := make([]domain.QuestionView, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		if section != "" && q.Section() != section {
			continue
		}
		v := domain.NewQuestionView(q)
		v.SelectedOptionID = selected[q.ID]
		views = append(views, v)
	}
	return views
}
