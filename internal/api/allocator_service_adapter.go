package api

import (
	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

type allocatorStoreAdapter struct {
	store Store
}

func newAllocatorStoreAdapter(store Store) services.AllocatorStore {
	return &allocatorStoreAdapter{store: store}
}

func (a *allocatorStoreAdapter) SamplePrompts(experimentID string, n int, exclude []string) ([]*models.Prompt, error) {
	return a.store.SamplePrompts(experimentID, n, exclude)
}

func (a *allocatorStoreAdapter) CountParticipantsByDesign(experimentID, designType string) (int, error) {
	return a.store.CountParticipantsByDesign(experimentID, designType)
}

func (a *allocatorStoreAdapter) CountAnnotationsByParticipant(participantID string) (int, error) {
	return a.store.CountAnnotationsByParticipant(participantID)
}

func (a *allocatorStoreAdapter) ListAnnotatedPromptIDs(participantID string) ([]string, error) {
	return a.store.ListAnnotatedPromptIDs(participantID)
}

var _ services.AllocatorStore = (*allocatorStoreAdapter)(nil)
