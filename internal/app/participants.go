package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// StoreCounter derives the participant count from session rows, so a session
// that lapses without a submit stops counting on its own.
type StoreCounter struct {
	repo Repository
}

func NewStoreCounter(repo Repository) *StoreCounter {
	return &StoreCounter{repo: repo}
}

// Track is a no-op; the session row is the slot.
func (c *StoreCounter) Track(context.Context, string, string, time.Time) error { return nil }

// Release is a no-op; deleting the session row frees the slot.
func (c *StoreCounter) Release(context.Context, string, string) error { return nil }

func (c *StoreCounter) ActiveCount(ctx context.Context, testID string, now time.Time) (int, error) {
	return c.repo.CountActiveSessions(ctx, testID, now)
}

// Reaper periodically purges lapsed sessions and their answers.
// It only affects freshness of stored working state; a lapsed session is
// already treated as abandoned on access.
type Reaper struct {
	repo     Repository
	interval time.Duration
	now      func() time.Time
}

func NewReaper(repo Repository, interval time.Duration) *Reaper {
	return &Reaper{repo: repo, interval: interval, now: time.Now}
}

// ReapOnce deletes every session with expiresAt <= now.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	n, err := r.repo.DeleteExpiredSessions(ctx, r.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int("sessions", n).Msg("reaped expired sessions")
	}
	return n, nil
}

// Run reaps on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("reaper: delete expired sessions failed")
			}
		}
	}
}
