package api

import (
	"time"

	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

type progressStoreAdapter struct {
	store Store
}

func newProgressStoreAdapter(store Store) services.ProgressStore {
	return &progressStoreAdapter{store: store}
}

func (a *progressStoreAdapter) GetParticipant(id string) (*models.Participant, error) {
	return a.store.GetParticipant(id)
}

func (a *progressStoreAdapter) SetParticipantStarted(id string, t time.Time) (bool, error) {
	return a.store.SetParticipantStarted(id, t)
}

func (a *progressStoreAdapter) CountAssignments(participantID string) (int, int, error) {
	return a.store.CountAssignments(participantID)
}

func (a *progressStoreAdapter) NextPendingAssignment(participantID string) (*models.TaskAssignment, error) {
	return a.store.NextPendingAssignment(participantID)
}

func (a *progressStoreAdapter) GetPrompt(id string) (*models.Prompt, error) {
	return a.store.GetPrompt(id)
}

func (a *progressStoreAdapter) GetAssignment(participantID, promptID, format string) (*models.TaskAssignment, error) {
	return a.store.GetAssignment(participantID, promptID, format)
}

func (a *progressStoreAdapter) AddAnnotation(an *models.Annotation, completeTask bool) error {
	return a.store.AddAnnotation(an, completeTask)
}

func (a *progressStoreAdapter) CountAnnotationsByParticipant(participantID string) (int, error) {
	return a.store.CountAnnotationsByParticipant(participantID)
}

var _ services.ProgressStore = (*progressStoreAdapter)(nil)
