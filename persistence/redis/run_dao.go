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

const RUN_KEY string = "RUN"
const ACTIVE_KEY string = "ACTIVE"
const DUE_KEY string = "DUE"

var _ persistence.RunStore = new(redisRunDao)

type redisRunDao struct {
	baseDao
	encoderDecoder util.EncoderDecoder[model.Run]
}

func NewRedisRunDao(conf Config) *redisRunDao {
	return &redisRunDao{
		baseDao:        *newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Run](),
	}
}

// Create reserves the (journey, subject) active slot and writes the run record
// in one MULTI/EXEC transaction. Either both land or neither does, so a failed
// create can never leave a ghost slot blocking future admissions.
func (rds *redisRunDao) Create(run *model.Run) error {
	ctx := context.Background()
	runKey := rds.getNamespaceKey(RUN_KEY, run.Id)
	activeKey := rds.getNamespaceKey(ACTIVE_KEY, run.Journey)
	dueKey := rds.getNamespaceKey(DUE_KEY)

	run.Version = 1
	data, err := rds.encoderDecoder.Encode(*run)
	if err != nil {
		return err
	}
	var reserve *rd.BoolCmd
	_, err = rds.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		reserve = pipe.HSetNX(ctx, activeKey, run.SubjectId, run.Id)
		pipe.Set(ctx, runKey, data, 0)
		if run.State == model.RUN_WAITING {
			pipe.ZAdd(ctx, dueKey, rdz(run))
		}
		return nil
	})
	if err != nil {
		logger.Error("error creating run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !reserve.Val() {
		// another run holds the slot; discard the record written alongside
		pipe := rds.redisClient.Pipeline()
		pipe.Del(ctx, runKey)
		pipe.ZRem(ctx, dueKey, run.Id)
		pipe.Exec(ctx)
		return persistence.ErrDuplicateActive
	}
	return nil
}

func (rds *redisRunDao) Get(runId string) (*model.Run, error) {
	ctx := context.Background()
	val, err := rds.redisClient.Get(ctx, rds.getNamespaceKey(RUN_KEY, runId)).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrNotFound
		}
		logger.Error("error in getting run", zap.String("runId", runId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rds.encoderDecoder.Decode([]byte(val))
}

// Save is a compare-and-swap on the run's version field. The run record and
// its secondary indexes (active slot, due zset) change in one transaction, so
// a reader never observes a half-applied run.
func (rds *redisRunDao) Save(run *model.Run, expectedVersion int64) error {
	ctx := context.Background()
	runKey := rds.getNamespaceKey(RUN_KEY, run.Id)
	activeKey := rds.getNamespaceKey(ACTIVE_KEY, run.Journey)
	dueKey := rds.getNamespaceKey(DUE_KEY)

	txf := func(tx *rd.Tx) error {
		val, err := tx.Get(ctx, runKey).Result()
		if err != nil {
			if errors.Is(err, rd.Nil) {
				return persistence.ErrNotFound
			}
			return err
		}
		stored, err := rds.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return err
		}
		if stored.Version != expectedVersion {
			return persistence.ErrVersionConflict
		}
		run.Version = expectedVersion + 1
		data, err := rds.encoderDecoder.Encode(*run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
			pipe.Set(ctx, runKey, data, 0)
			if run.State == model.RUN_WAITING {
				pipe.ZAdd(ctx, dueKey, rdz(run))
			} else {
				pipe.ZRem(ctx, dueKey, run.Id)
			}
			if run.State.Terminal() {
				pipe.HDel(ctx, activeKey, run.SubjectId)
			}
			return nil
		})
		return err
	}

	err := rds.redisClient.Watch(ctx, txf, runKey)
	if err != nil {
		if errors.Is(err, rd.TxFailedErr) {
			return persistence.ErrVersionConflict
		}
		if errors.Is(err, persistence.ErrVersionConflict) || errors.Is(err, persistence.ErrNotFound) {
			return err
		}
		logger.Error("error in saving run", zap.String("runId", run.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rds *redisRunDao) FindActive(journey string, subjectId string) (string, error) {
	ctx := context.Background()
	runId, err := rds.redisClient.HGet(ctx, rds.getNamespaceKey(ACTIVE_KEY, journey), subjectId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return "", persistence.ErrNotFound
		}
		return "", persistence.StorageLayerError{Message: err.Error()}
	}
	return runId, nil
}

func (rds *redisRunDao) FindDueBefore(ts int64, limit int) ([]string, error) {
	ctx := context.Background()
	opt := &rd.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(ts, 10),
		Count: int64(limit),
	}
	res, err := rds.redisClient.ZRangeByScore(ctx, rds.getNamespaceKey(DUE_KEY), opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error scanning due runs", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (rds *redisRunDao) Delete(runId string) error {
	run, err := rds.Get(runId)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pipe := rds.redisClient.Pipeline()
	pipe.Del(ctx, rds.getNamespaceKey(RUN_KEY, runId))
	pipe.ZRem(ctx, rds.getNamespaceKey(DUE_KEY), runId)
	pipe.HDel(ctx, rds.getNamespaceKey(ACTIVE_KEY, run.Journey), run.SubjectId)
	if _, err := pipe.Exec(ctx); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func rdz(run *model.Run) rd.Z {
	return rd.Z{
		Score:  float64(run.WaitUntil),
		Member: run.Id,
	}
}
