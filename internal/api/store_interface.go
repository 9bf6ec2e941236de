package api

import (
	"errors"
	"time"

	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

// Uniqueness-constraint outcomes surfaced by AddParticipantWithTasks. The
// relational store's constraints are the arbiter for registration races; the
// adapters translate these for the registry.
var (
	ErrExternalIDExists      = errors.New("external id exists for experiment")
	ErrCompletionTokenExists = errors.New("completion token exists")
)

// Store is the persistence surface the router wires services onto. Both the
// in-memory store and the sqlite store implement it.
type Store interface {
	AddExperiment(e *models.Experiment) error
	GetExperiment(id string) (*models.Experiment, error)
	UpdateExperimentStatus(id string, status models.ExperimentStatus) (bool, error)

	GetStudyConfig(experimentID string) (map[string]string, error)
	SetStudyConfigValue(experimentID, key, value string, updatedAt time.Time) error

	// AddParticipantWithTasks writes the participant and the whole task queue
	// atomically: all rows or none.
	AddParticipantWithTasks(p *models.Participant, tasks []*models.TaskAssignment) error
	GetParticipant(id string) (*models.Participant, error)
	GetParticipantByExternalID(experimentID, externalID string) (*models.Participant, error)
	SetParticipantConsent(id string, t time.Time) (bool, error)
	SetParticipantInstructions(id string, t time.Time) (bool, error)
	// SetParticipantStarted stamps only the first call; later calls are no-ops.
	SetParticipantStarted(id string, t time.Time) (bool, error)
	SetParticipantCompleted(id string, t time.Time) (bool, error)
	CountParticipantsByFormat(experimentID string) (map[string]int, error)
	CountParticipantsByDesign(experimentID, designType string) (int, error)
	ListParticipantsByExperiment(experimentID string) ([]*models.Participant, error)

	AddPrompts(ps []*models.Prompt) error
	GetPrompt(id string) (*models.Prompt, error)
	// SamplePrompts draws up to n prompts at random from the pool visible to
	// the experiment (its own plus shared), excluding the given ids.
	SamplePrompts(experimentID string, n int, exclude []string) ([]*models.Prompt, error)
	CountPrompts(experimentID string) (int, error)

	CountAssignments(participantID string) (total int, completed int, err error)
	NextPendingAssignment(participantID string) (*models.TaskAssignment, error)
	GetAssignment(participantID, promptID, format string) (*models.TaskAssignment, error)
	ListAssignments(participantID string) ([]*models.TaskAssignment, error)

	// AddAnnotation inserts the row and, when completeTask is set, marks the
	// matching pending assignment completed in the same transaction.
	AddAnnotation(a *models.Annotation, completeTask bool) error
	CountAnnotationsByParticipant(participantID string) (int, error)
	ListAnnotatedPromptIDs(participantID string) ([]string, error)
	ListAnnotationsByExperiment(experimentID string) ([]*models.Annotation, error)

	ResetExperimentData(experimentID string) (int, error)

	AddUser(u *services.User) error
	FindUserByEmail(email string) (*services.User, error)

	AddAudit(e services.AuditEntry)
	ListAudit() []services.AuditEntry
}

var _ Store = (*memoryStore)(nil)
