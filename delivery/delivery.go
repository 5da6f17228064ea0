package delivery

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/util"
	"go.uber.org/zap"
)

var ErrRejected = errors.New("send rejected")

// Service hands a send to the mailer workers. Delivery confirmation and
// retries are the mailer's concern, not the engine's.
type Service interface {
	EnqueueSend(templateId string, recipient string, metadata map[string]any) (string, error)
}

var _ Service = new(queueService)

type queueService struct {
	queue          persistence.SendQueue
	encoderDecoder util.EncoderDecoder[model.SendRequest]
}

func NewQueueService(queue persistence.SendQueue) *queueService {
	return &queueService{
		queue:          queue,
		encoderDecoder: util.NewJsonEncoderDecoder[model.SendRequest](),
	}
}

func (s *queueService) EnqueueSend(templateId string, recipient string, metadata map[string]any) (string, error) {
	if len(templateId) == 0 {
		return "", fmt.Errorf("%w: empty template", ErrRejected)
	}
	if len(recipient) == 0 {
		return "", fmt.Errorf("%w: empty recipient", ErrRejected)
	}
	req := model.SendRequest{
		SendId:     uuid.New().String(),
		TemplateId: templateId,
		Recipient:  recipient,
		Metadata:   metadata,
	}
	data, err := s.encoderDecoder.Encode(req)
	if err != nil {
		return "", err
	}
	if err := s.queue.Push(data); err != nil {
		logger.Error("error enqueuing send", zap.String("template", templateId), zap.Error(err))
		return "", err
	}
	return req.SendId, nil
}
