package api

import (
	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

type experimentStoreAdapter struct {
	store Store
}

func newExperimentStoreAdapter(store Store) services.ExperimentStore {
	return &experimentStoreAdapter{store: store}
}

func (a *experimentStoreAdapter) AddExperiment(e *models.Experiment) error {
	return a.store.AddExperiment(e)
}

func (a *experimentStoreAdapter) GetExperiment(id string) (*models.Experiment, error) {
	return a.store.GetExperiment(id)
}

func (a *experimentStoreAdapter) UpdateExperimentStatus(id string, status models.ExperimentStatus) (bool, error) {
	return a.store.UpdateExperimentStatus(id, status)
}

func (a *experimentStoreAdapter) AddPrompts(ps []*models.Prompt) error {
	return a.store.AddPrompts(ps)
}

func (a *experimentStoreAdapter) CountPrompts(experimentID string) (int, error) {
	return a.store.CountPrompts(experimentID)
}

func (a *experimentStoreAdapter) ResetExperimentData(experimentID string) (int, error) {
	return a.store.ResetExperimentData(experimentID)
}

func (a *experimentStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(entry)
}

var _ services.ExperimentStore = (*experimentStoreAdapter)(nil)
