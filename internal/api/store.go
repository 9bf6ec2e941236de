package api

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

// memoryStore is the development/test implementation of Store. It mirrors the
// relational constraints the sqlite store gets for free: unique
// (experiment_id, external_id), unique completion tokens, and atomic batch
// inserts under one mutex.
type memoryStore struct {
	mu           sync.RWMutex
	rnd          *rand.Rand
	experiments  map[string]*models.Experiment
	config       map[string]map[string]string
	participants map[string]*models.Participant
	byExternal   map[string]*models.Participant // key experimentID + "\x00" + externalID
	tokens       map[string]bool
	prompts      map[string]*models.Prompt
	promptOrder  []string
	assignments  map[string][]*models.TaskAssignment // by participant, position order
	annotations  []*models.Annotation
	usersByEmail map[string]*services.User
	audit        []services.AuditEntry
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store { return newMemoryStore() }

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		experiments:  map[string]*models.Experiment{},
		config:       map[string]map[string]string{},
		participants: map[string]*models.Participant{},
		byExternal:   map[string]*models.Participant{},
		tokens:       map[string]bool{},
		prompts:      map[string]*models.Prompt{},
		assignments:  map[string][]*models.TaskAssignment{},
		usersByEmail: map[string]*services.User{},
	}
}

func externalKey(experimentID, externalID string) string {
	return experimentID + "\x00" + externalID
}

func (s *memoryStore) AddExperiment(e *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[e.ID] = e
	return nil
}

func (s *memoryStore) GetExperiment(id string) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.experiments[id], nil
}

func (s *memoryStore) UpdateExperimentStatus(id string, status models.ExperimentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.experiments[id]
	if e == nil {
		return false, nil
	}
	e.Status = status
	return true, nil
}

func (s *memoryStore) GetStudyConfig(experimentID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]string{}
	for k, v := range s.config[experimentID] {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) SetStudyConfigValue(experimentID, key, value string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config[experimentID] == nil {
		s.config[experimentID] = map[string]string{}
	}
	s.config[experimentID][key] = value
	return nil
}

func (s *memoryStore) AddParticipantWithTasks(p *models.Participant, tasks []*models.TaskAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byExternal[externalKey(p.ExperimentID, p.ExternalID)] != nil {
		return ErrExternalIDExists
	}
	if s.tokens[p.CompletionToken] {
		return ErrCompletionTokenExists
	}
	cp := *p
	s.participants[cp.ID] = &cp
	s.byExternal[externalKey(cp.ExperimentID, cp.ExternalID)] = &cp
	s.tokens[cp.CompletionToken] = true
	if len(tasks) > 0 {
		queue := make([]*models.TaskAssignment, 0, len(tasks))
		for _, t := range tasks {
			ct := *t
			queue = append(queue, &ct)
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i].Position < queue[j].Position })
		s.assignments[cp.ID] = queue
	}
	return nil
}

func (s *memoryStore) GetParticipant(id string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participants[id], nil
}

func (s *memoryStore) GetParticipantByExternalID(experimentID, externalID string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byExternal[externalKey(experimentID, externalID)], nil
}

func (s *memoryStore) SetParticipantConsent(id string, t time.Time) (bool, error) {
	return s.stamp(id, func(p *models.Participant) { p.ConsentAt = &t })
}

func (s *memoryStore) SetParticipantInstructions(id string, t time.Time) (bool, error) {
	return s.stamp(id, func(p *models.Participant) { p.InstructionsAt = &t })
}

func (s *memoryStore) SetParticipantStarted(id string, t time.Time) (bool, error) {
	return s.stamp(id, func(p *models.Participant) {
		if p.StartedAt == nil {
			p.StartedAt = &t
		}
	})
}

func (s *memoryStore) SetParticipantCompleted(id string, t time.Time) (bool, error) {
	return s.stamp(id, func(p *models.Participant) { p.CompletedAt = &t })
}

func (s *memoryStore) stamp(id string, apply func(*models.Participant)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.participants[id]
	if p == nil {
		return false, nil
	}
	apply(p)
	return true, nil
}

func (s *memoryStore) CountParticipantsByFormat(experimentID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string]int{}
	for _, p := range s.participants {
		if p.ExperimentID == experimentID {
			out[p.FormatAssigned]++
		}
	}
	return out, nil
}

func (s *memoryStore) CountParticipantsByDesign(experimentID, designType string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.participants {
		if p.ExperimentID == experimentID && p.DesignType == designType {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListParticipantsByExperiment(experimentID string) ([]*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Participant{}
	for _, p := range s.participants {
		if p.ExperimentID == experimentID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) AddPrompts(ps []*models.Prompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range ps {
		if _, ok := s.prompts[p.ID]; !ok {
			s.promptOrder = append(s.promptOrder, p.ID)
		}
		s.prompts[p.ID] = p
	}
	return nil
}

func (s *memoryStore) GetPrompt(id string) (*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts[id], nil
}

func (s *memoryStore) SamplePrompts(experimentID string, n int, exclude []string) ([]*models.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	skip := map[string]bool{}
	for _, id := range exclude {
		skip[id] = true
	}
	pool := make([]*models.Prompt, 0, len(s.promptOrder))
	for _, id := range s.promptOrder {
		p := s.prompts[id]
		if skip[p.ID] {
			continue
		}
		if p.ExperimentID == "" || p.ExperimentID == experimentID {
			pool = append(pool, p)
		}
	}
	s.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool, nil
}

func (s *memoryStore) CountPrompts(experimentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.prompts {
		if p.ExperimentID == "" || p.ExperimentID == experimentID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) CountAssignments(participantID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.assignments[participantID])
	completed := 0
	for _, a := range s.assignments[participantID] {
		if a.Status == models.AssignmentCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (s *memoryStore) NextPendingAssignment(participantID string) (*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments[participantID] {
		if a.Status == models.AssignmentPending {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetAssignment(participantID, promptID, format string) (*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments[participantID] {
		if a.PromptID == promptID && a.Format == format {
			return a, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ListAssignments(participantID string) ([]*models.TaskAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.TaskAssignment(nil), s.assignments[participantID]...), nil
}

func (s *memoryStore) AddAnnotation(a *models.Annotation, completeTask bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations = append(s.annotations, a)
	if completeTask {
		for _, ta := range s.assignments[a.ParticipantID] {
			if ta.PromptID == a.PromptID && ta.Format == a.Format && ta.Status == models.AssignmentPending {
				ta.Status = models.AssignmentCompleted
				done := a.SubmittedAt
				ta.CompletedAt = &done
				break
			}
		}
	}
	return nil
}

func (s *memoryStore) CountAnnotationsByParticipant(participantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.annotations {
		if a.ParticipantID == participantID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListAnnotatedPromptIDs(participantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for _, a := range s.annotations {
		if a.ParticipantID == participantID && !seen[a.PromptID] {
			seen[a.PromptID] = true
			out = append(out, a.PromptID)
		}
	}
	return out, nil
}

func (s *memoryStore) ListAnnotationsByExperiment(experimentID string) ([]*models.Annotation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*models.Annotation{}
	for _, a := range s.annotations {
		p := s.participants[a.ParticipantID]
		if p != nil && p.ExperimentID == experimentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStore) ResetExperimentData(experimentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, p := range s.participants {
		if p.ExperimentID != experimentID {
			continue
		}
		removed++
		delete(s.participants, id)
		delete(s.byExternal, externalKey(p.ExperimentID, p.ExternalID))
		delete(s.tokens, p.CompletionToken)
		delete(s.assignments, id)
	}
	kept := make([]*models.Annotation, 0, len(s.annotations))
	for _, a := range s.annotations {
		if p := s.participants[a.ParticipantID]; p != nil {
			kept = append(kept, a)
		}
	}
	s.annotations = kept
	return removed, nil
}

func (s *memoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByEmail[strings.ToLower(u.Email)] = u
	return nil
}

func (s *memoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByEmail[strings.ToLower(email)], nil
}

func (s *memoryStore) AddAudit(e services.AuditEntry) {
	s.mu.Lock()
	s.audit = append(s.audit, e)
	s.mu.Unlock()
}

func (s *memoryStore) ListAudit() []services.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]services.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}
