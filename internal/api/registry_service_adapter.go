package api

import (
	"errors"
	"time"

	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

type registryStoreAdapter struct {
	store Store
}

func newRegistryStoreAdapter(store Store) services.RegistryStore {
	return &registryStoreAdapter{store: store}
}

func (a *registryStoreAdapter) GetExperiment(id string) (*models.Experiment, error) {
	return a.store.GetExperiment(id)
}

func (a *registryStoreAdapter) GetParticipant(id string) (*models.Participant, error) {
	return a.store.GetParticipant(id)
}

func (a *registryStoreAdapter) GetParticipantByExternalID(experimentID, externalID string) (*models.Participant, error) {
	return a.store.GetParticipantByExternalID(experimentID, externalID)
}

func (a *registryStoreAdapter) CreateParticipant(p *models.Participant, tasks []*models.TaskAssignment) error {
	err := a.store.AddParticipantWithTasks(p, tasks)
	switch {
	case errors.Is(err, ErrExternalIDExists):
		return services.ErrExternalIDConflict
	case errors.Is(err, ErrCompletionTokenExists):
		return services.ErrTokenConflict
	default:
		return err
	}
}

func (a *registryStoreAdapter) CountParticipantsByFormat(experimentID string) (map[string]int, error) {
	return a.store.CountParticipantsByFormat(experimentID)
}

func (a *registryStoreAdapter) SetParticipantConsent(id string, t time.Time) (bool, error) {
	return a.store.SetParticipantConsent(id, t)
}

func (a *registryStoreAdapter) SetParticipantInstructions(id string, t time.Time) (bool, error) {
	return a.store.SetParticipantInstructions(id, t)
}

func (a *registryStoreAdapter) SetParticipantCompleted(id string, t time.Time) (bool, error) {
	return a.store.SetParticipantCompleted(id, t)
}

var _ services.RegistryStore = (*registryStoreAdapter)(nil)
