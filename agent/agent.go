package agent

import (
	"errors"
	"net/http"
	"sync"

	"github.com/sendloop/journey/config"
	"github.com/sendloop/journey/delivery"
	"github.com/sendloop/journey/engine"
	"github.com/sendloop/journey/executor"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/metadata"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/persistence/memory"
	rd "github.com/sendloop/journey/persistence/redis"
	"github.com/sendloop/journey/rest"
	"github.com/sendloop/journey/service"
	"github.com/sendloop/journey/step"
	"github.com/sendloop/journey/subject"
)

type Agent struct {
	Config          config.Config
	runStore        persistence.RunStore
	definitionStore persistence.DefinitionStore
	wakeQueue       persistence.WakeQueue
	sendQueue       persistence.SendQueue
	lookup          subject.Lookup
	metadataService metadata.MetadataService
	engine          *engine.Engine
	wakeExecutor    *executor.WakeExecutor
	runService      *service.RunService
	httpServer      *rest.Server
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupServices,
		a.setupEngine,
		a.setupWakeExecutor,
		a.setupHttpServer,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_INMEM:
		a.runStore = memory.NewRunStore()
		a.definitionStore = memory.NewDefinitionStore()
		a.wakeQueue = memory.NewWakeQueue()
		a.sendQueue = memory.NewSendQueue()
		a.lookup = subject.NewStaticLookup()
	default:
		conf := rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
		}
		a.runStore = rd.NewRedisRunDao(conf)
		a.definitionStore = rd.NewRedisDefinitionDao(conf)
		a.wakeQueue = rd.NewRedisWakeQueue(conf)
		a.sendQueue = rd.NewRedisSendQueue(conf)
		a.lookup = subject.NewRedisLookup(a.Config.RedisConfig.Addrs, a.Config.RedisConfig.Namespace)
	}
	return nil
}

func (a *Agent) setupServices() error {
	a.metadataService = metadata.NewMetadataService(a.definitionStore)
	return nil
}

func (a *Agent) setupEngine() error {
	env := &step.Environment{
		Lookup:   a.lookup,
		Delivery: delivery.NewQueueService(a.sendQueue),
	}
	a.engine = engine.New(a.runStore, a.wakeQueue, a.metadataService, env)
	a.runService = service.NewRunService(a.engine)
	return nil
}

func (a *Agent) setupWakeExecutor() error {
	a.wakeExecutor = executor.NewWakeExecutor(a.engine, a.wakeQueue,
		a.Config.ResumeIntervalSeconds, a.Config.ResumeBatchSize, a.Config.ExecutorCapacity, &a.wg)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.runService)
	if err != nil {
		return err
	}
	return nil
}

func (a *Agent) Start() error {
	if err := a.wakeExecutor.Start(); err != nil {
		return err
	}
	go func() {
		err := a.httpServer.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.wakeExecutor.Stop,
		a.httpServer.Stop,
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
