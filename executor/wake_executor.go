package executor

import (
	"errors"
	"sync"
	"time"

	"github.com/sendloop/journey/engine"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/util"
	"go.uber.org/zap"
)

var _ Executor = new(WakeExecutor)

// WakeExecutor wakes parked runs. Each tick it drains the wake queue and
// sweeps the store's due index - the store sweep is authoritative, so a lost
// wake message only delays a run by one tick. Per-run advancement is fanned
// out to a worker pool; the engine's version check keeps a run from being
// advanced twice.
type WakeExecutor struct {
	engine       *engine.Engine
	wakes        persistence.WakeQueue
	wg           *sync.WaitGroup
	stop         chan struct{}
	pool         *util.Worker
	tickInterval int
	batchSize    int
}

func NewWakeExecutor(eng *engine.Engine, wakes persistence.WakeQueue, tickInterval int, batchSize int, capacity int, wg *sync.WaitGroup) *WakeExecutor {
	ex := &WakeExecutor{
		engine:       eng,
		wakes:        wakes,
		stop:         make(chan struct{}),
		wg:           wg,
		tickInterval: tickInterval,
		batchSize:    batchSize,
	}
	ex.pool = util.NewWorker("run-advancer", wg, ex.advance, capacity)
	return ex
}

func (ex *WakeExecutor) Name() string {
	return "wake-executor"
}

func (ex *WakeExecutor) advance(task util.Task) error {
	runId := task.(string)
	err := ex.engine.Advance(runId, time.Now())
	if err != nil {
		// the due sweep may have beaten the wake message to this run
		if errors.Is(err, engine.ErrRunFinished) {
			return nil
		}
		logger.Error("error advancing woken run", zap.String("runId", runId), zap.Error(err))
	}
	return err
}

func (ex *WakeExecutor) Start() error {
	fn := func() {
		now := time.Now()
		woken, err := ex.wakes.Pop(now)
		if err != nil {
			logger.Error("error while polling wake queue", zap.Error(err))
		}
		for _, runId := range woken {
			ex.pool.Sender() <- runId
		}
		ex.engine.ResumeDue(now, ex.batchSize)
	}
	ex.pool.Start()
	tw := util.NewTickWorker("wake-worker", ex.tickInterval, ex.stop, fn, ex.wg)
	tw.Start()
	logger.Info("wake executor started")
	return nil
}

func (ex *WakeExecutor) Stop() error {
	ex.stop <- struct{}{}
	ex.pool.Stop()
	return nil
}
