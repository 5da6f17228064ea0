package memory

import (
	"sync"
	"time"

	"github.com/sendloop/journey/persistence"
)

var _ persistence.WakeQueue = new(WakeQueue)

type WakeQueue struct {
	mu    sync.Mutex
	wakes map[string]int64
}

func NewWakeQueue() *WakeQueue {
	return &WakeQueue{
		wakes: make(map[string]int64),
	}
}

func (q *WakeQueue) Push(runId string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.wakes[runId] = at.UnixMilli()
	return nil
}

func (q *WakeQueue) PushWithDelay(runId string, delay time.Duration) error {
	return q.Push(runId, time.Now().Add(delay))
}

func (q *WakeQueue) Pop(now time.Time) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	ts := now.UnixMilli()
	var due []string
	for runId, at := range q.wakes {
		if at <= ts {
			due = append(due, runId)
			delete(q.wakes, runId)
		}
	}
	return due, nil
}

func (q *WakeQueue) Cancel(runId string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.wakes, runId)
	return nil
}

var _ persistence.SendQueue = new(SendQueue)

type SendQueue struct {
	mu       sync.Mutex
	messages []string
}

func NewSendQueue() *SendQueue {
	return &SendQueue{}
}

func (q *SendQueue) Push(message []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, string(message))
	return nil
}

func (q *SendQueue) Pop(batchSize int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if batchSize > len(q.messages) {
		batchSize = len(q.messages)
	}
	res := q.messages[:batchSize]
	q.messages = q.messages[batchSize:]
	return res, nil
}
