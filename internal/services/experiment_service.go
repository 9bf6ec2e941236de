package services

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formatlab/annoserve/internal/models"
)

type ErrorCode string

const (
	ErrorInvalid       ErrorCode = "invalid"
	ErrorForbidden     ErrorCode = "forbidden"
	ErrorNotFound      ErrorCode = "not_found"
	ErrorConflict      ErrorCode = "conflict"
	ErrorUnauthorized  ErrorCode = "unauthorized"
	ErrorConfig        ErrorCode = "config"
	ErrorPoolExhausted ErrorCode = "pool_exhausted"
)

type ServiceError struct {
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string { return e.Message }

func NewInvalidError(msg string) error   { return &ServiceError{Code: ErrorInvalid, Message: msg} }
func NewForbiddenError(msg string) error { return &ServiceError{Code: ErrorForbidden, Message: msg} }
func NewNotFoundError(msg string) error  { return &ServiceError{Code: ErrorNotFound, Message: msg} }
func NewConflictError(msg string) error  { return &ServiceError{Code: ErrorConflict, Message: msg} }
func NewUnauthorizedError(msg string) error {
	return &ServiceError{Code: ErrorUnauthorized, Message: msg}
}

// NewConfigError flags operator setup failures (missing experiment, missing or
// malformed required config keys). Not retried automatically.
func NewConfigError(msg string) error { return &ServiceError{Code: ErrorConfig, Message: msg} }

// NewPoolExhaustedError flags an assignment build that needs more prompts than
// the experiment's visible pool contains. Fatal to registration.
func NewPoolExhaustedError(msg string) error {
	return &ServiceError{Code: ErrorPoolExhausted, Message: msg}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ExperimentStore abstracts persistence for experiment administration.
type ExperimentStore interface {
	AddExperiment(e *models.Experiment) error
	GetExperiment(id string) (*models.Experiment, error)
	UpdateExperimentStatus(id string, status models.ExperimentStatus) (bool, error)
	AddPrompts(ps []*models.Prompt) error
	CountPrompts(experimentID string) (int, error)
	ResetExperimentData(experimentID string) (int, error)
	AddAudit(entry AuditEntry)
}

// ExperimentService covers the admin surface: lifecycle, prompt bulk-load and
// explicit study reset. Participant-facing logic lives in the registry,
// allocator and progress services.
type ExperimentService struct {
	store ExperimentStore
	now   func() time.Time
	idGen func() string
}

func NewExperimentService(store ExperimentStore) *ExperimentService {
	return &ExperimentService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(8) },
	}
}

func (s *ExperimentService) Create(name, actor string) (*models.Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewInvalidError("name required")
	}
	e := &models.Experiment{
		ID:        s.idGen(),
		Name:      name,
		Status:    models.ExperimentActive,
		CreatedAt: s.now(),
	}
	if err := s.store.AddExperiment(e); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: e.CreatedAt, Actor: actor, Action: "experiment_create", Target: e.ID, Note: name})
	return e, nil
}

func (s *ExperimentService) Get(id string) (*models.Experiment, error) {
	if id == "" {
		return nil, NewInvalidError("experiment id required")
	}
	e, err := s.store.GetExperiment(id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewNotFoundError("experiment not found")
	}
	return e, nil
}

func (s *ExperimentService) UpdateStatus(id string, status models.ExperimentStatus, actor string) error {
	switch status {
	case models.ExperimentActive, models.ExperimentPaused, models.ExperimentCompleted:
	default:
		return NewInvalidError("unknown status")
	}
	ok, err := s.store.UpdateExperimentStatus(id, status)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("experiment not found")
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "experiment_status", Target: id, Note: string(status)})
	return nil
}

// PromptInput mirrors one inbound prompt in an admin bulk-load.
type PromptInput struct {
	ID        string
	Text      string
	Responses map[string]string
	Source    string
	Category  string
}

// LoadPrompts batch-inserts prompts. When shared is true the prompts carry no
// owner and become visible to every experiment.
func (s *ExperimentService) LoadPrompts(experimentID string, shared bool, inputs []PromptInput, actor string) (int, error) {
	if len(inputs) == 0 {
		return 0, NewInvalidError("no prompts supplied")
	}
	owner := experimentID
	if shared {
		owner = ""
	}
	if !shared {
		e, err := s.store.GetExperiment(experimentID)
		if err != nil {
			return 0, err
		}
		if e == nil {
			return 0, NewNotFoundError("experiment not found")
		}
	}
	now := s.now()
	prompts := make([]*models.Prompt, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Text) == "" {
			return 0, NewInvalidError("prompt text required")
		}
		if len(in.Responses) < 2 || len(in.Responses) > 4 {
			return 0, NewInvalidError("prompts need 2-4 candidate responses")
		}
		id := in.ID
		if id == "" {
			id = shortID(12)
		}
		prompts = append(prompts, &models.Prompt{
			ID:           id,
			ExperimentID: owner,
			Text:         in.Text,
			Responses:    in.Responses,
			Source:       in.Source,
			Category:     in.Category,
			CreatedAt:    now,
		})
	}
	if err := s.store.AddPrompts(prompts); err != nil {
		return 0, err
	}
	s.store.AddAudit(AuditEntry{Time: now, Actor: actor, Action: "prompts_load", Target: experimentID})
	return len(prompts), nil
}

// Reset removes an experiment's participants, assignments and annotations.
// Prompts and config survive; this is the only sanctioned deletion path.
func (s *ExperimentService) Reset(experimentID, actor string) (int, error) {
	e, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, NewNotFoundError("experiment not found")
	}
	removed, err := s.store.ResetExperimentData(experimentID)
	if err != nil {
		return 0, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "experiment_reset", Target: experimentID})
	return removed, nil
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}
