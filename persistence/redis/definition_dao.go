package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/util"
	"go.uber.org/zap"
)

const JOURNEY_DEF string = "JOURNEY"

var _ persistence.DefinitionStore = new(redisDefinitionDao)

type redisDefinitionDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.JourneyDef]
}

func NewRedisDefinitionDao(conf Config) *redisDefinitionDao {
	return &redisDefinitionDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.JourneyDef](),
	}
}

func (rds *redisDefinitionDao) Save(def model.JourneyDef) error {
	key := rds.getNamespaceKey(JOURNEY_DEF, def.Name, strconv.Itoa(def.Version))
	ctx := context.Background()
	data, err := rds.encoderDecoder.Encode(def)
	if err != nil {
		return err
	}
	// frozen versions are create-only; only the draft may be rewritten
	if def.Version > 0 {
		ok, err := rds.redisClient.SetNX(ctx, key, data, 0).Result()
		if err != nil {
			logger.Error("error in saving journey definition", zap.String("journey", def.Name), zap.Error(err))
			return persistence.StorageLayerError{Message: err.Error()}
		}
		if !ok {
			return persistence.ErrVersionConflict
		}
		return nil
	}
	if err := rds.redisClient.Set(ctx, key, data, 0).Err(); err != nil {
		logger.Error("error in saving journey definition", zap.String("journey", def.Name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rds *redisDefinitionDao) Get(name string, version int) (*model.JourneyDef, error) {
	key := rds.getNamespaceKey(JOURNEY_DEF, name, strconv.Itoa(version))
	ctx := context.Background()
	val, err := rds.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNotFound
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rds.encoderDecoder.Decode([]byte(val))
}

func (rds *redisDefinitionDao) GetActiveVersion(name string) (int, error) {
	key := rds.getNamespaceKey(JOURNEY_DEF, name, "active")
	ctx := context.Background()
	val, err := rds.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return 0, persistence.ErrNotFound
		}
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return strconv.Atoi(val)
}

func (rds *redisDefinitionDao) SetActiveVersion(name string, version int) error {
	key := rds.getNamespaceKey(JOURNEY_DEF, name, "active")
	ctx := context.Background()
	if err := rds.redisClient.Set(ctx, key, strconv.Itoa(version), 0).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rds *redisDefinitionDao) Delete(name string) error {
	ctx := context.Background()
	version, err := rds.GetActiveVersion(name)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	pipe := rds.redisClient.Pipeline()
	pipe.Del(ctx, rds.getNamespaceKey(JOURNEY_DEF, name, "active"))
	for v := 1; v <= version; v++ {
		pipe.Del(ctx, rds.getNamespaceKey(JOURNEY_DEF, name, strconv.Itoa(v)))
	}
	pipe.Del(ctx, rds.getNamespaceKey(JOURNEY_DEF, name, "0"))
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
