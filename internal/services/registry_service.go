package services

import (
	"errors"
	"strings"
	"time"

	"github.com/formatlab/annoserve/internal/models"
)

// Store-level conflict signals. CreateParticipant implementations translate
// their uniqueness-constraint violations into these so the registry can tell a
// lost registration race from a token collision.
var (
	ErrExternalIDConflict = errors.New("external id already registered for experiment")
	ErrTokenConflict      = errors.New("completion token already in use")
)

// RegistryStore abstracts persistence for participant registration and the
// timestamped state transitions.
type RegistryStore interface {
	GetExperiment(id string) (*models.Experiment, error)
	GetParticipant(id string) (*models.Participant, error)
	GetParticipantByExternalID(experimentID, externalID string) (*models.Participant, error)
	// CreateParticipant persists the participant and, for within-subjects,
	// the whole task queue in one transaction.
	CreateParticipant(p *models.Participant, tasks []*models.TaskAssignment) error
	CountParticipantsByFormat(experimentID string) (map[string]int, error)
	SetParticipantConsent(id string, t time.Time) (bool, error)
	SetParticipantInstructions(id string, t time.Time) (bool, error)
	SetParticipantCompleted(id string, t time.Time) (bool, error)
}

// ConditionConfig supplies the two config keys registration depends on.
// ConfigService satisfies it.
type ConditionConfig interface {
	DesignType(experimentID string) (string, error)
	FormatsEnabled(experimentID string) ([]string, error)
	StudyActive(experimentID string) (bool, error)
}

// QueueBuilder builds the fixed within-subjects task queue at registration
// time. AllocatorService satisfies it.
type QueueBuilder interface {
	BuildAssignments(experimentID, participantID string) ([]*models.TaskAssignment, error)
}

// RegistrationResult is what the HTTP layer returns to a registering client.
type RegistrationResult struct {
	ParticipantID     string
	CompletionToken   string
	DesignType        string
	FormatAssigned    string
	AlreadyRegistered bool
}

const tokenPrefix = "ANNO-"

// maxTokenRetries bounds the token-collision retry loop. Collisions are
// negligible by construction, so one retry is already generous.
const maxTokenRetries = 3

type RegistryService struct {
	store    RegistryStore
	cfg      ConditionConfig
	queues   QueueBuilder
	now      func() time.Time
	idGen    func() string
	tokenGen func() string
}

func NewRegistryService(store RegistryStore, cfg ConditionConfig, queues QueueBuilder) *RegistryService {
	return &RegistryService{
		store:    store,
		cfg:      cfg,
		queues:   queues,
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    func() string { return shortID(12) },
		tokenGen: func() string { return tokenPrefix + strings.ToUpper(shortID(10)) },
	}
}

// Register is idempotent per (experiment, external id): a repeat call returns
// the existing condition and token without further writes. A lost insert race
// falls back to re-reading the winner's row, so concurrent callers always see
// one consistent participant record.
func (s *RegistryService) Register(experimentID, externalID string) (*RegistrationResult, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, NewInvalidError("external id required")
	}
	exp, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, NewConfigError("experiment not found")
	}
	if exp.Status != models.ExperimentActive {
		return nil, NewConfigError("experiment is not active")
	}
	if existing, err := s.store.GetParticipantByExternalID(experimentID, externalID); err != nil {
		return nil, err
	} else if existing != nil {
		return resultFor(existing, true), nil
	}

	// Replays above still succeed after intake closes; only new participants
	// are turned away.
	active, err := s.cfg.StudyActive(experimentID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, NewConfigError("study intake is closed")
	}

	design, err := s.cfg.DesignType(experimentID)
	if err != nil {
		return nil, err
	}
	formats, err := s.cfg.FormatsEnabled(experimentID)
	if err != nil {
		return nil, err
	}

	format := FormatAll
	if design == DesignBetween {
		format, err = s.pickLeastLoadedFormat(experimentID, formats)
		if err != nil {
			return nil, err
		}
	}

	p := &models.Participant{
		ID:              s.idGen(),
		ExperimentID:    experimentID,
		ExternalID:      externalID,
		DesignType:      design,
		FormatAssigned:  format,
		CompletionToken: s.tokenGen(),
		CreatedAt:       s.now(),
	}

	var tasks []*models.TaskAssignment
	if design == DesignWithin {
		tasks, err = s.queues.BuildAssignments(experimentID, p.ID)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < maxTokenRetries; attempt++ {
		err = s.store.CreateParticipant(p, tasks)
		if err == nil {
			return resultFor(p, false), nil
		}
		if errors.Is(err, ErrExternalIDConflict) {
			// Lost the check-then-act race; the constraint is the arbiter.
			winner, rerr := s.store.GetParticipantByExternalID(experimentID, externalID)
			if rerr != nil {
				return nil, rerr
			}
			if winner != nil {
				return resultFor(winner, true), nil
			}
			return nil, err
		}
		if errors.Is(err, ErrTokenConflict) {
			p.CompletionToken = s.tokenGen()
			continue
		}
		return nil, err
	}
	return nil, err
}

// pickLeastLoadedFormat is the between-subjects greedy balancer: the enabled
// format with the fewest participants wins, ties broken by list order.
func (s *RegistryService) pickLeastLoadedFormat(experimentID string, formats []string) (string, error) {
	counts, err := s.store.CountParticipantsByFormat(experimentID)
	if err != nil {
		return "", err
	}
	best := formats[0]
	for _, f := range formats[1:] {
		if counts[f] < counts[best] {
			best = f
		}
	}
	return best, nil
}

func (s *RegistryService) RecordConsent(participantID string) error {
	return s.transition(participantID, s.store.SetParticipantConsent)
}

func (s *RegistryService) RecordInstructionsDone(participantID string) error {
	return s.transition(participantID, s.store.SetParticipantInstructions)
}

// MarkComplete stamps the completion time and hands back the token the
// participant presents as proof of completion.
func (s *RegistryService) MarkComplete(participantID string) (string, error) {
	p, err := s.store.GetParticipant(participantID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", NewNotFoundError("participant not found")
	}
	if _, err := s.store.SetParticipantCompleted(participantID, s.now()); err != nil {
		return "", err
	}
	return p.CompletionToken, nil
}

func (s *RegistryService) transition(participantID string, set func(string, time.Time) (bool, error)) error {
	if participantID == "" {
		return NewInvalidError("participant id required")
	}
	ok, err := set(participantID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("participant not found")
	}
	return nil
}

func resultFor(p *models.Participant, already bool) *RegistrationResult {
	return &RegistrationResult{
		ParticipantID:     p.ID,
		CompletionToken:   p.CompletionToken,
		DesignType:        p.DesignType,
		FormatAssigned:    p.FormatAssigned,
		AlreadyRegistered: already,
	}
}
