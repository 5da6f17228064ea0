package subject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	rd "github.com/go-redis/redis/v9"
)

var ErrFieldNotFound = errors.New("subject field not found")

// Lookup resolves profile fields of a subject (subscriber). Condition and
// send-email steps consult it; the engine never writes through it.
type Lookup interface {
	ResolveField(subjectId string, field string) (string, error)
}

var _ Lookup = new(redisLookup)

type redisLookup struct {
	redisClient rd.UniversalClient
	namespace   string
}

func NewRedisLookup(addrs []string, namespace string) *redisLookup {
	return &redisLookup{
		redisClient: rd.NewUniversalClient(&rd.UniversalOptions{Addrs: addrs}),
		namespace:   namespace,
	}
}

func (l *redisLookup) ResolveField(subjectId string, field string) (string, error) {
	key := fmt.Sprintf("%s:%s", l.namespace, strings.Join([]string{"SUBJECT", subjectId}, ":"))
	val, err := l.redisClient.HGet(context.Background(), key, field).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return "", ErrFieldNotFound
		}
		return "", err
	}
	return val, nil
}

var _ Lookup = new(StaticLookup)

// StaticLookup serves fields from a fixed map, keyed subjectId -> field ->
// value. Used in tests and single-process setups.
type StaticLookup struct {
	mu       sync.Mutex
	subjects map[string]map[string]string
}

func NewStaticLookup() *StaticLookup {
	return &StaticLookup{
		subjects: make(map[string]map[string]string),
	}
}

func (l *StaticLookup) Set(subjectId string, field string, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields, ok := l.subjects[subjectId]
	if !ok {
		fields = make(map[string]string)
		l.subjects[subjectId] = fields
	}
	fields[field] = value
}

func (l *StaticLookup) ResolveField(subjectId string, field string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fields, ok := l.subjects[subjectId]
	if !ok {
		return "", ErrFieldNotFound
	}
	val, ok := fields[field]
	if !ok {
		return "", ErrFieldNotFound
	}
	return val, nil
}
