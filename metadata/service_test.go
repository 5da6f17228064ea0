package metadata

import (
	"testing"

	"github.com/sendloop/journey/persistence"
	"github.com/sendloop/journey/persistence/memory"
	"github.com/stretchr/testify/require"
)

func TestActivateFreezesVersions(t *testing.T) {
	service := NewMetadataService(memory.NewDefinitionStore())

	def := soundDef()
	_, err := service.SaveDraft(def)
	require.NoError(t, err)

	version, _, err := service.Activate("welcome")
	require.NoError(t, err)
	require.Equal(t, 1, version)

	// edit the draft and activate again: a new version appears, v1 is intact
	def.Steps[1].DelaySeconds = 3600
	_, err = service.SaveDraft(def)
	require.NoError(t, err)

	version, _, err = service.Activate("welcome")
	require.NoError(t, err)
	require.Equal(t, 2, version)

	v1, err := service.GetVersion("welcome", 1)
	require.NoError(t, err)
	require.Equal(t, 86400, v1.Steps[1].DelaySeconds)

	active, err := service.GetActive("welcome")
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)
	require.Equal(t, 3600, active.Steps[1].DelaySeconds)
}

func TestFrozenVersionImmutable(t *testing.T) {
	store := memory.NewDefinitionStore()
	service := NewMetadataService(store)

	_, err := service.SaveDraft(soundDef())
	require.NoError(t, err)
	_, _, err = service.Activate("welcome")
	require.NoError(t, err)

	// writing over an activated version is refused by the store
	overwrite := soundDef()
	overwrite.Version = 1
	overwrite.Steps[1].DelaySeconds = 1
	require.ErrorIs(t, store.Save(overwrite), persistence.ErrVersionConflict)

	v1, err := service.GetVersion("welcome", 1)
	require.NoError(t, err)
	require.Equal(t, 86400, v1.Steps[1].DelaySeconds)
}

func TestActivateSkipsFrozenVersion(t *testing.T) {
	store := memory.NewDefinitionStore()
	service := NewMetadataService(store)

	// version 1 is already frozen, as a racing activation would leave it
	taken := soundDef()
	taken.Version = 1
	require.NoError(t, store.Save(taken))

	_, err := service.SaveDraft(soundDef())
	require.NoError(t, err)

	version, _, err := service.Activate("welcome")
	require.NoError(t, err)
	require.Equal(t, 2, version)

	active, err := service.GetActive("welcome")
	require.NoError(t, err)
	require.Equal(t, 2, active.Version)
}

func TestSaveDraftRejectsInvalid(t *testing.T) {
	service := NewMetadataService(memory.NewDefinitionStore())

	def := soundDef()
	def.EntryStep = "nope"
	result, err := service.SaveDraft(def)
	require.ErrorIs(t, err, ErrInvalidDefinition)
	require.False(t, result.Valid)

	_, err = service.GetActive("welcome")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestActivateWithoutDraft(t *testing.T) {
	service := NewMetadataService(memory.NewDefinitionStore())
	_, _, err := service.Activate("ghost")
	require.ErrorIs(t, err, persistence.ErrNotFound)
}
