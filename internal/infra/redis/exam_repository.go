package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"jlpt-exam-service/internal/domain"
)

// ExamLoader fetches exam definitions from a backing store (e.g., Postgres).
type ExamLoader interface {
	LoadExam(ctx context.Context, testID string) (domain.Exam, error)
}

// ExamRepository caches whole exam definitions in Redis and falls back to a loader on cache miss.
// Exams are stored as: SET exam:{testID}:definition <json> PX <ttl>
type ExamRepository struct {
	client *redis.Client
	loader ExamLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewExamRepository(client *redis.Client, loader ExamLoader, ttl time.Duration) *ExamRepository {
	return &ExamRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ExamRepository) GetExam(ctx context.Context, testID string) (domain.Exam, error) {
	if exam, ok := r.cached(ctx, testID); ok {
		return exam, nil
	}

	result, err, _ := r.sf.Do(testID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if exam, ok := r.cached(ctx, testID); ok {
			return exam, nil
		}

		exam, err := r.loader.LoadExam(ctx, testID)
		if err != nil {
			return domain.Exam{}, err
		}

		data, err := json.Marshal(exam)
		if err != nil {
			return domain.Exam{}, err
		}
		if err := r.client.Set(ctx, r.key(testID), data, r.ttlWithJitter()).Err(); err != nil {
			log.Warn().Err(err).Str("testID", testID).Msg("exam cache fill failed")
		}
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

// Invalidate drops the cached definition so the next read reloads it.
func (r *ExamRepository) Invalidate(ctx context.Context, testID string) error {
	return r.client.Del(ctx, r.key(testID)).Err()
}

func (r *ExamRepository) cached(ctx context.Context, testID string) (domain.Exam, bool) {
	data, err := r.client.Get(ctx, r.key(testID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("testID", testID).Msg("exam cache read failed")
		}
		return domain.Exam{}, false
	}
	var exam domain.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		log.Warn().Err(err).Str("testID", testID).Msg("exam cache entry corrupt")
		return domain.Exam{}, false
	}
	return exam, true
}

func (r *ExamRepository) key(testID string) string {
	return "exam:" + testID + ":definition"
}

func (r *ExamRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
