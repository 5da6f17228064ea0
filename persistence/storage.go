package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/sendloop/journey/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

var ErrNotFound = errors.New("not found")

// ErrDuplicateActive is returned by RunStore.Create when an ACTIVE or WAITING
// run already holds the (journey, subject) slot.
var ErrDuplicateActive = errors.New("active run exists for subject")

// ErrVersionConflict is returned by RunStore.Save when the stored run's
// version no longer matches the expected one. The caller owns the retry.
var ErrVersionConflict = errors.New("run version conflict")

type RunStore interface {
	Create(run *model.Run) error
	Get(runId string) (*model.Run, error)
	// Save replaces the whole run record atomically iff the stored version
	// equals expectedVersion, and bumps the version by one.
	Save(run *model.Run, expectedVersion int64) error
	// FindActive returns the run id of the ACTIVE or WAITING run for the
	// (journey, subject) pair, or ErrNotFound.
	FindActive(journey string, subjectId string) (string, error)
	// FindDueBefore returns ids of WAITING runs with waitUntil <= ts.
	FindDueBefore(ts int64, limit int) ([]string, error)
	Delete(runId string) error
}

type DefinitionStore interface {
	// Save overwrites the draft (version 0). Activated versions are
	// create-only: saving an already-frozen version returns
	// ErrVersionConflict.
	Save(def model.JourneyDef) error
	Get(name string, version int) (*model.JourneyDef, error)
	GetActiveVersion(name string) (int, error)
	SetActiveVersion(name string, version int) error
	Delete(name string) error
}

type WakeQueue interface {
	Push(runId string, at time.Time) error
	PushWithDelay(runId string, delay time.Duration) error
	// Pop removes and returns run ids whose wake time has passed.
	Pop(now time.Time) ([]string, error)
	Cancel(runId string) error
}

type SendQueue interface {
	Push(message []byte) error
	Pop(batchSize int) ([]string, error)
}
