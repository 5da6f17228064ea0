package metadata

import (
	"errors"
	"fmt"
	"strconv"

	c "github.com/patrickmn/go-cache"
	"github.com/sendloop/journey/logger"
	"github.com/sendloop/journey/model"
	"github.com/sendloop/journey/persistence"
	"go.uber.org/zap"
)

const draftVersion int = 0
const maxActivateAttempts int = 3

var ErrInvalidDefinition = errors.New("journey definition invalid")

type MetadataService interface {
	SaveDraft(def model.JourneyDef) (*ValidationResult, error)
	// Activate validates the current draft and freezes it as the next
	// version. Activated versions are never mutated again.
	Activate(name string) (int, *ValidationResult, error)
	GetActive(name string) (*model.JourneyDef, error)
	GetVersion(name string, version int) (*model.JourneyDef, error)
	Delete(name string) error
}

type metadataService struct {
	storage persistence.DefinitionStore
	cache   *c.Cache
}

var _ MetadataService = new(metadataService)

func NewMetadataService(storage persistence.DefinitionStore) *metadataService {
	return &metadataService{
		storage: storage,
		cache:   c.New(c.NoExpiration, 0),
	}
}

func (s *metadataService) SaveDraft(def model.JourneyDef) (*ValidationResult, error) {
	result := Validate(&def)
	if !result.Valid {
		return result, ErrInvalidDefinition
	}
	def.Version = draftVersion
	if err := s.storage.Save(def); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *metadataService) Activate(name string) (int, *ValidationResult, error) {
	draft, err := s.storage.Get(name, draftVersion)
	if err != nil {
		return 0, nil, err
	}
	result := Validate(draft)
	if !result.Valid {
		return 0, result, ErrInvalidDefinition
	}
	current, err := s.storage.GetActiveVersion(name)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return 0, nil, err
	}
	// frozen versions are create-only in the store. A concurrent activation
	// that claimed the number first surfaces as a conflict here; move on to
	// the next free number instead of mutating what runs may be pinned to.
	next := current + 1
	for attempt := 0; attempt < maxActivateAttempts; attempt++ {
		frozen := *draft
		frozen.Version = next
		err := s.storage.Save(frozen)
		if errors.Is(err, persistence.ErrVersionConflict) {
			next++
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		if err := s.storage.SetActiveVersion(name, next); err != nil {
			return 0, nil, err
		}
		logger.Info("journey activated", zap.String("journey", name), zap.Int("version", next))
		return next, result, nil
	}
	return 0, nil, persistence.ErrVersionConflict
}

func (s *metadataService) GetActive(name string) (*model.JourneyDef, error) {
	version, err := s.storage.GetActiveVersion(name)
	if err != nil {
		return nil, err
	}
	return s.GetVersion(name, version)
}

// GetVersion caches indefinitely - an activated version is immutable, so a
// cache entry can never go stale. Drafts bypass the cache.
func (s *metadataService) GetVersion(name string, version int) (*model.JourneyDef, error) {
	if version == draftVersion {
		return s.storage.Get(name, version)
	}
	key := cacheKey(name, version)
	if cached, found := s.cache.Get(key); found {
		def := cached.(model.JourneyDef)
		return &def, nil
	}
	def, err := s.storage.Get(name, version)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, *def, c.NoExpiration)
	return def, nil
}

func (s *metadataService) Delete(name string) error {
	version, err := s.storage.GetActiveVersion(name)
	if err == nil {
		for v := 1; v <= version; v++ {
			s.cache.Delete(cacheKey(name, v))
		}
	}
	return s.storage.Delete(name)
}

func cacheKey(name string, version int) string {
	return fmt.Sprintf("%s:%s", name, strconv.Itoa(version))
}
