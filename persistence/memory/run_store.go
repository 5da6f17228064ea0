package memory

import (
	"sort"
	"sync"

	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/util"
)

var _ persistence.RunStore = new(RunStore)

// RunStore keeps runs in process memory with the same semantics as the redis
// implementation: version-checked saves, an active-slot index per journey and
// a due index over waiting runs. Runs are stored encoded so callers never
// share a pointer with the store.
type RunStore struct {
	mu             sync.Mutex
	runs           map[string][]byte
	versions       map[string]int64
	active         map[string]string
	encoderDecoder util.EncoderDecoder[model.Run]
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs:           make(map[string][]byte),
		versions:       make(map[string]int64),
		active:         make(map[string]string),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Run](),
	}
}

func activeSlot(journey string, subjectId string) string {
	return journey + ":" + subjectId
}

func (s *RunStore) Create(run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot := activeSlot(run.Journey, run.SubjectId)
	if _, ok := s.active[slot]; ok {
		return persistence.ErrDuplicateActive
	}
	run.Version = 1
	data, err := s.encoderDecoder.Encode(*run)
	if err != nil {
		return err
	}
	s.runs[run.Id] = data
	s.versions[run.Id] = run.Version
	s.active[slot] = run.Id
	return nil
}

func (s *RunStore) Get(runId string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.runs[runId]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return s.encoderDecoder.Decode(data)
}

func (s *RunStore) Save(run *model.Run, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.Id]; !ok {
		return persistence.ErrNotFound
	}
	if s.versions[run.Id] != expectedVersion {
		return persistence.ErrVersionConflict
	}
	run.Version = expectedVersion + 1
	data, err := s.encoderDecoder.Encode(*run)
	if err != nil {
		return err
	}
	s.runs[run.Id] = data
	s.versions[run.Id] = run.Version
	if run.State.Terminal() {
		delete(s.active, activeSlot(run.Journey, run.SubjectId))
	}
	return nil
}

func (s *RunStore) FindActive(journey string, subjectId string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runId, ok := s.active[activeSlot(journey, subjectId)]
	if !ok {
		return "", persistence.ErrNotFound
	}
	return runId, nil
}

func (s *RunStore) FindDueBefore(ts int64, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*model.Run
	for _, data := range s.runs {
		run, err := s.encoderDecoder.Decode(data)
		if err != nil {
			return nil, err
		}
		if run.State == model.RUN_WAITING && run.WaitUntil <= ts {
			due = append(due, run)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].WaitUntil < due[j].WaitUntil })
	ids := make([]string, 0, len(due))
	for _, run := range due {
		if limit > 0 && len(ids) >= limit {
			break
		}
		ids = append(ids, run.Id)
	}
	return ids, nil
}

func (s *RunStore) Delete(runId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.runs[runId]
	if !ok {
		return persistence.ErrNotFound
	}
	run, err := s.encoderDecoder.Decode(data)
	if err != nil {
		return err
	}
	delete(s.runs, runId)
	delete(s.versions, runId)
	delete(s.active, activeSlot(run.Journey, run.SubjectId))
	return nil
}
