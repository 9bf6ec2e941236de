package services

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/formatlab/annoserve/internal/models"
)

// ProgressStore abstracts persistence for progress reads and annotation
// submission. AddAnnotation with completeTask=true must perform both writes in
// one transaction.
type ProgressStore interface {
	GetParticipant(id string) (*models.Participant, error)
	SetParticipantStarted(id string, t time.Time) (bool, error)
	CountAssignments(participantID string) (total int, completed int, err error)
	NextPendingAssignment(participantID string) (*models.TaskAssignment, error)
	GetPrompt(id string) (*models.Prompt, error)
	GetAssignment(participantID, promptID, format string) (*models.TaskAssignment, error)
	AddAnnotation(a *models.Annotation, completeTask bool) error
	CountAnnotationsByParticipant(participantID string) (int, error)
}

// TaskSelector is the between-subjects on-demand allocator.
// AllocatorService satisfies it.
type TaskSelector interface {
	SelectPrompt(experimentID, participantID string) (*models.Prompt, error)
}

// ProgressPolicy supplies the config the tracker reads: the between-subjects
// cap and the duplicate-submission policy. ConfigService satisfies it.
type ProgressPolicy interface {
	AnnotationsPerFormat(experimentID string) (int, error)
	DuplicatePolicy(experimentID string) (string, error)
}

// ProgressView is the (completed, total) pair plus a convenience percentage.
type ProgressView struct {
	Completed int
	Total     int
	Percent   float64
}

// NextTask is either a done signal or one task joined with its prompt.
type NextTask struct {
	Done      bool
	PromptID  string
	Format    string
	Text      string
	Responses map[string]string
}

// SubmitRequest transports one annotation submission into the service layer.
type SubmitRequest struct {
	ParticipantID string
	PromptID      string
	Format        string
	Answer        json.RawMessage
	TimeSeconds   int
}

// ProgressService is the per-participant state machine: within-subjects
// participants walk their fixed queue FIFO until no pending assignment
// remains; between-subjects participants are capped by annotation count.
type ProgressService struct {
	store    ProgressStore
	selector TaskSelector
	policy   ProgressPolicy
	now      func() time.Time
	idGen    func() string
}

func NewProgressService(store ProgressStore, selector TaskSelector, policy ProgressPolicy) *ProgressService {
	return &ProgressService{
		store:    store,
		selector: selector,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return shortID(12) },
	}
}

func (s *ProgressService) Progress(participantID string) (*ProgressView, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return nil, err
	}
	var completed, total int
	if p.DesignType == DesignWithin {
		total, completed, err = s.store.CountAssignments(p.ID)
		if err != nil {
			return nil, err
		}
	} else {
		completed, err = s.store.CountAnnotationsByParticipant(p.ID)
		if err != nil {
			return nil, err
		}
		total, err = s.policy.AnnotationsPerFormat(p.ExperimentID)
		if err != nil {
			return nil, err
		}
	}
	view := &ProgressView{Completed: completed, Total: total}
	if total > 0 {
		view.Percent = float64(completed) / float64(total) * 100
	}
	return view, nil
}

// NextTask returns the participant's next obligation, or Done when none
// remain. Within-subjects order is FIFO by assignment position, so the block
// order fixed at build time is the order presented.
func (s *ProgressService) NextTask(participantID string) (*NextTask, error) {
	p, err := s.participant(participantID)
	if err != nil {
		return nil, err
	}
	if p.StartedAt == nil {
		if _, err := s.store.SetParticipantStarted(p.ID, s.now()); err != nil {
			return nil, err
		}
	}
	if p.DesignType == DesignWithin {
		a, err := s.store.NextPendingAssignment(p.ID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return &NextTask{Done: true}, nil
		}
		prompt, err := s.store.GetPrompt(a.PromptID)
		if err != nil {
			return nil, err
		}
		if prompt == nil {
			return nil, NewNotFoundError("assigned prompt missing")
		}
		return &NextTask{PromptID: prompt.ID, Format: a.Format, Text: prompt.Text, Responses: prompt.Responses}, nil
	}

	prompt, err := s.selector.SelectPrompt(p.ExperimentID, p.ID)
	if err != nil {
		return nil, err
	}
	if prompt == nil {
		// Cap reached or pool exhausted; both read as done.
		return &NextTask{Done: true}, nil
	}
	return &NextTask{PromptID: prompt.ID, Format: p.FormatAssigned, Text: prompt.Text, Responses: prompt.Responses}, nil
}

// Submit inserts the annotation and, for within-subjects, flips the matching
// assignment to completed in the same transaction. A submission with no
// matching assignment (stale or forged) still records the annotation but
// leaves the queue untouched.
func (s *ProgressService) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.PromptID) == "" {
		return "", NewInvalidError("prompt id required")
	}
	if strings.TrimSpace(req.Format) == "" {
		return "", NewInvalidError("format required")
	}
	p, err := s.participant(req.ParticipantID)
	if err != nil {
		return "", err
	}

	completeTask := false
	if p.DesignType == DesignWithin {
		a, err := s.store.GetAssignment(p.ID, req.PromptID, req.Format)
		if err != nil {
			return "", err
		}
		switch {
		case a == nil:
			// no-op on the queue
		case a.Status == models.AssignmentCompleted:
			policy, err := s.policy.DuplicatePolicy(p.ExperimentID)
			if err != nil {
				return "", err
			}
			if policy == DuplicateReject {
				return "", NewConflictError("task already completed")
			}
		default:
			completeTask = true
		}
	}

	a := &models.Annotation{
		ID:            s.idGen(),
		ParticipantID: p.ID,
		PromptID:      req.PromptID,
		Format:        req.Format,
		Payload:       string(req.Answer),
		TimeSeconds:   req.TimeSeconds,
		SubmittedAt:   s.now(),
	}
	if err := s.store.AddAnnotation(a, completeTask); err != nil {
		return "", err
	}
	return a.ID, nil
}

func (s *ProgressService) participant(id string) (*models.Participant, error) {
	if id == "" {
		return nil, NewInvalidError("participant id required")
	}
	p, err := s.store.GetParticipant(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewNotFoundError("participant not found")
	}
	return p, nil
}
