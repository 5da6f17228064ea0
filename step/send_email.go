package step

import (
	"fmt"
	"time"

	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/util"
	"go.uber.org/zap"
)

const LAST_SEND_ID_KEY string = "lastSendId"

var _ Step = new(sendEmailStep)

type sendEmailStep struct {
	baseStep
	templateId string
	params     map[string]any
}

func (s *sendEmailStep) Interpret(run *model.Run, now time.Time, env *Environment) Instruction {
	recipient, err := env.Lookup.ResolveField(run.SubjectId, "email")
	if err != nil {
		return Fail(fmt.Sprintf("recipient not resolved for subject %s", run.SubjectId))
	}
	metadata := util.ResolveParams(run.Data, s.params)
	sendId, err := env.Delivery.EnqueueSend(s.templateId, recipient, metadata)
	if err != nil {
		logger.Error("send rejected", zap.String("step", s.id), zap.String("template", s.templateId), zap.Error(err))
		return Fail(err.Error())
	}
	run.Data[LAST_SEND_ID_KEY] = sendId
	next := s.firstNext(model.EDGE_DEFAULT)
	if len(next) == 0 {
		return Terminate(model.RUN_COMPLETED)
	}
	return GoTo(next)
}
