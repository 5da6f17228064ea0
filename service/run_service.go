package service

import (
	"time"

	"github.com/sendloop/journey/engine"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"go.uber.org/zap"
)

// RunService is the thin seam between the transport layer and the engine. The
// trigger source calls Trigger when a subject enters a segment; operators use
// StopRun and GetRun.
type RunService struct {
	engine *engine.Engine
}

func NewRunService(eng *engine.Engine) *RunService {
	return &RunService{
		engine: eng,
	}
}

func (s *RunService) Trigger(journey string, subjectId string, data map[string]any) (string, error) {
	logger.Info("trigger received", zap.String("journey", journey), zap.String("subject", subjectId))
	return s.engine.Admit(journey, subjectId, data, time.Now())
}

func (s *RunService) StopRun(runId string) error {
	return s.engine.Stop(runId, time.Now())
}

func (s *RunService) GetRun(runId string) (*model.Run, error) {
	return s.engine.GetRun(runId)
}
