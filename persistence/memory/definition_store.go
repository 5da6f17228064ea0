package memory

import (
	"sync"

	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
)

var _ persistence.DefinitionStore = new(DefinitionStore)

type defKey struct {
	name    string
	version int
}

type DefinitionStore struct {
	mu     sync.Mutex
	defs   map[defKey]model.JourneyDef
	active map[string]int
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{
		defs:   make(map[defKey]model.JourneyDef),
		active: make(map[string]int),
	}
}

func (s *DefinitionStore) Save(def model.JourneyDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := defKey{name: def.Name, version: def.Version}
	// frozen versions are create-only; only the draft may be rewritten
	if def.Version > 0 {
		if _, ok := s.defs[key]; ok {
			return persistence.ErrVersionConflict
		}
	}
	s.defs[key] = def
	return nil
}

func (s *DefinitionStore) Get(name string, version int) (*model.JourneyDef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.defs[defKey{name: name, version: version}]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return &def, nil
}

func (s *DefinitionStore) GetActiveVersion(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version, ok := s.active[name]
	if !ok {
		return 0, persistence.ErrNotFound
	}
	return version, nil
}

func (s *DefinitionStore) SetActiveVersion(name string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[name] = version
	return nil
}

func (s *DefinitionStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.defs {
		if key.name == name {
			delete(s.defs, key)
		}
	}
	delete(s.active, name)
	return nil
}
