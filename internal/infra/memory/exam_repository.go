package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"jlpt-exam-service/internal/domain"
)

// ExamLoader fetches exam definitions from a backing store (e.g., Postgres).
type ExamLoader interface {
	LoadExam(ctx context.Context, testID string) (domain.Exam, error)
}

// ExamRepository caches exams with TTL to avoid repeated DB hits.
type ExamRepository struct {
	loader ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedExam
}

type cachedExam struct {
	exam      domain.Exam
	expiresAt time.Time
}

func NewExamRepository(loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedExam),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, testID string) (domain.Exam, error) {
	if exam, ok := r.lookup(testID); ok {
		return exam, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		if exam, ok := r.lookup(testID); ok {
			return exam, nil
		}

		exam, err := r.loader.LoadExam(ctx, testID)
		if err != nil {
			return domain.Exam{}, err
		}

		r.mu.Lock()
		r.cache[testID] = cachedExam{
			exam:      exam,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (r *ExamRepository) lookup(testID string) (domain.Exam, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[testID]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Exam{}, false
	}
	return entry.exam, true
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticExamLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticExamLoader struct {
	exams map[string]domain.Exam
}

// NewStaticExamLoader orders each exam's questions by OrderIndex.
func NewStaticExamLoader(exams map[string]domain.Exam) *StaticExamLoader {
	for id, exam := range exams {
		questions := append([]domain.Question(nil), exam.Questions...)
		sort.SliceStable(questions, func(i, j int) bool {
			return questions[i].OrderIndex < questions[j].OrderIndex
		})
		exam.Questions = questions
		exams[id] = exam
	}
	return &StaticExamLoader{exams: exams}
}

func (l *StaticExamLoader) LoadExam(_ context.Context, testID string) (domain.Exam, error) {
	if exam, ok := l.exams[testID]; ok {
		return exam, nil
	}
	return domain.Exam{}, domain.ErrTestNotFound
}
