package services

import (
	"fmt"
	"time"

	"github.com/formatlab/annoserve/internal/models"
)

// AllocatorStore abstracts the prompt pool and the counts allocation depends
// on. Random ordering is delegated to the store (SamplePrompts returns a
// random draw from the pool visible to the experiment).
type AllocatorStore interface {
	SamplePrompts(experimentID string, n int, exclude []string) ([]*models.Prompt, error)
	CountParticipantsByDesign(experimentID, designType string) (int, error)
	CountAnnotationsByParticipant(participantID string) (int, error)
	ListAnnotatedPromptIDs(participantID string) ([]string, error)
}

// AllocationConfig supplies the config keys the allocator reads.
// ConfigService satisfies it.
type AllocationConfig interface {
	FormatsEnabled(experimentID string) ([]string, error)
	AnnotationsPerFormat(experimentID string) (int, error)
}

// AllocatorService decides which (prompt, format) pairs a participant must
// annotate. Within-subjects queues are built once at registration; the
// between-subjects variant picks one unseen prompt on demand.
type AllocatorService struct {
	store AllocatorStore
	cfg   AllocationConfig
	now   func() time.Time
	idGen func() string
}

func NewAllocatorService(store AllocatorStore, cfg AllocationConfig) *AllocatorService {
	return &AllocatorService{
		store: store,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
		idGen: func() string { return shortID(12) },
	}
}

// BuildAssignments draws annotations_per_format x |formats| distinct prompts
// and partitions them contiguously, one block per format, so no prompt is
// bound to two formats for the same participant. The format block order is
// counterbalanced: successive within-subjects participants cycle through every
// permutation of the enabled formats.
func (s *AllocatorService) BuildAssignments(experimentID, participantID string) ([]*models.TaskAssignment, error) {
	formats, err := s.cfg.FormatsEnabled(experimentID)
	if err != nil {
		return nil, err
	}
	perFormat, err := s.cfg.AnnotationsPerFormat(experimentID)
	if err != nil {
		return nil, err
	}

	seq, err := s.store.CountParticipantsByDesign(experimentID, DesignWithin)
	if err != nil {
		return nil, err
	}
	orders := formatOrders(formats)
	order := orders[seq%len(orders)]

	need := perFormat * len(formats)
	prompts, err := s.store.SamplePrompts(experimentID, need, nil)
	if err != nil {
		return nil, err
	}
	if len(prompts) < need {
		return nil, NewPoolExhaustedError(fmt.Sprintf("assignment build needs %d prompts, pool has %d", need, len(prompts)))
	}

	now := s.now()
	tasks := make([]*models.TaskAssignment, 0, need)
	for i, format := range order {
		block := prompts[i*perFormat : (i+1)*perFormat]
		for _, prompt := range block {
			tasks = append(tasks, &models.TaskAssignment{
				ID:            s.idGen(),
				ParticipantID: participantID,
				PromptID:      prompt.ID,
				Format:        format,
				Status:        models.AssignmentPending,
				Position:      len(tasks) + 1,
				CreatedAt:     now,
			})
		}
	}
	return tasks, nil
}

// SelectPrompt picks one unseen prompt uniformly at random for a
// between-subjects participant. It returns nil (no error) once the
// participant hit the per-format cap or the pool ran dry; the caller turns
// that into a done signal, not a failure.
func (s *AllocatorService) SelectPrompt(experimentID, participantID string) (*models.Prompt, error) {
	limit, err := s.cfg.AnnotationsPerFormat(experimentID)
	if err != nil {
		return nil, err
	}
	done, err := s.store.CountAnnotationsByParticipant(participantID)
	if err != nil {
		return nil, err
	}
	if done >= limit {
		return nil, nil
	}
	seen, err := s.store.ListAnnotatedPromptIDs(participantID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.SamplePrompts(experimentID, 1, seen)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

// formatOrders enumerates every permutation of the enabled formats in a
// stable order, the complete-counterbalancing scheme: participant k gets
// permutation k mod n!.
func formatOrders(formats []string) [][]string {
	if len(formats) <= 1 {
		return [][]string{append([]string(nil), formats...)}
	}
	var orders [][]string
	for i, head := range formats {
		rest := make([]string, 0, len(formats)-1)
		rest = append(rest, formats[:i]...)
		rest = append(rest, formats[i+1:]...)
		for _, tail := range formatOrders(rest) {
			orders = append(orders, append([]string{head}, tail...))
		}
	}
	return orders
}
