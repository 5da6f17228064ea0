package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/persistence"
	"go.uber.org/zap"
)

const SEND_KEY string = "SENDQ"

var _ persistence.SendQueue = new(redisSendQueue)

type redisSendQueue struct {
	baseDao
}

func NewRedisSendQueue(conf Config) *redisSendQueue {
	return &redisSendQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisSendQueue) Push(message []byte) error {
	queueName := rq.getNamespaceKey(SEND_KEY)
	ctx := context.Background()
	err := rq.redisClient.LPush(ctx, queueName, message).Err()
	if err != nil {
		logger.Error("error while push to send queue", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisSendQueue) Pop(batchSize int) ([]string, error) {
	queueName := rq.getNamespaceKey(SEND_KEY)
	ctx := context.Background()
	res, err := rq.redisClient.LPopCount(ctx, queueName, batchSize).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from send queue", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}
