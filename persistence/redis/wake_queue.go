package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/persistence"
	"go.uber.org/zap"
)

const WAKE_KEY string = "WAKE"

var _ persistence.WakeQueue = new(redisWakeQueue)

type redisWakeQueue struct {
	baseDao
}

func NewRedisWakeQueue(conf Config) *redisWakeQueue {
	return &redisWakeQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisWakeQueue) Push(runId string, at time.Time) error {
	queueName := rq.getNamespaceKey(WAKE_KEY)
	ctx := context.Background()
	member := rd.Z{
		Score:  float64(at.UnixMilli()),
		Member: runId,
	}
	err := rq.redisClient.ZAdd(ctx, queueName, member).Err()
	if err != nil {
		logger.Error("error while push to wake queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisWakeQueue) PushWithDelay(runId string, delay time.Duration) error {
	return rq.Push(runId, time.Now().Add(delay))
}

func (rq *redisWakeQueue) Pop(now time.Time) ([]string, error) {
	queueName := rq.getNamespaceKey(WAKE_KEY)
	ctx := context.Background()
	max := strconv.FormatInt(now.UnixMilli(), 10)
	pipe := rq.redisClient.Pipeline()

	opt := &rd.ZRangeBy{
		Min: "0",
		Max: max,
	}
	zr := pipe.ZRangeByScore(ctx, queueName, opt)
	pipe.ZRemRangeByScore(ctx, queueName, "0", max)

	_, err := pipe.Exec(ctx)
	if err != nil {
		logger.Error("error while pop from wake queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}

	res, err := zr.Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from wake queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (rq *redisWakeQueue) Cancel(runId string) error {
	queueName := rq.getNamespaceKey(WAKE_KEY)
	ctx := context.Background()
	err := rq.redisClient.ZRem(ctx, queueName, runId).Err()
	if err != nil {
		logger.Error("error cancelling wake", zap.String("runId", runId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
