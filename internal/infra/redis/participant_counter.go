package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ParticipantCounter keeps one sorted set per test, member = user, score = session expiry (unix ms).
// Counting only scores after now keeps lapsed sessions out without relying on Release.
//
//	ZADD exam:{testID}:participants {expiresAtMs} {userID}
type ParticipantCounter struct {
	client *redis.Client
}

func NewParticipantCounter(client *redis.Client) *ParticipantCounter {
	return &ParticipantCounter{client: client}
}

// Track records or extends the user's slot. Re-tracking the same user never adds a second slot.
func (c *ParticipantCounter) Track(ctx context.Context, testID, userID string, expiresAt time.Time) error {
	return c.client.ZAdd(ctx, c.key(testID), redis.Z{
		Score:  float64(expiresAt.UnixMilli()),
		Member: userID,
	}).Err()
}

func (c *ParticipantCounter) Release(ctx context.Context, testID, userID string) error {
	return c.client.ZRem(ctx, c.key(testID), userID).Err()
}

func (c *ParticipantCounter) ActiveCount(ctx context.Context, testID string, now time.Time) (int, error) {
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)
	key := c.key(testID)

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", nowMs)
	count := pipe.ZCount(ctx, key, "("+nowMs, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(count.Val()), nil
}

func (c *ParticipantCounter) key(testID string) string {
	return "exam:" + testID + ":participants"
}
