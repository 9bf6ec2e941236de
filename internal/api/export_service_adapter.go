package api

import (
	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

type exportStoreAdapter struct {
	store Store
}

func newExportStoreAdapter(store Store) services.ExportStore {
	return &exportStoreAdapter{store: store}
}

func (a *exportStoreAdapter) GetExperiment(id string) (*models.Experiment, error) {
	return a.store.GetExperiment(id)
}

func (a *exportStoreAdapter) ListParticipantsByExperiment(experimentID string) ([]*models.Participant, error) {
	return a.store.ListParticipantsByExperiment(experimentID)
}

func (a *exportStoreAdapter) ListAnnotationsByExperiment(experimentID string) ([]*models.Annotation, error) {
	return a.store.ListAnnotationsByExperiment(experimentID)
}

func (a *exportStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(entry)
}

var _ services.ExportStore = (*exportStoreAdapter)(nil)
