package services

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"

	"github.com/formatlab/annoserve/internal/models"
)

type ExportStore interface {
	GetExperiment(id string) (*models.Experiment, error)
	ListParticipantsByExperiment(experimentID string) ([]*models.Participant, error)
	ListAnnotationsByExperiment(experimentID string) ([]*models.Annotation, error)
	AddAudit(entry AuditEntry)
}

// ExportService dumps an experiment's annotations as long-format CSV, one row
// per submission.
type ExportService struct {
	store ExportStore
	now   func() time.Time
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *ExportService) AnnotationsCSV(experimentID, actor string) ([]byte, error) {
	if experimentID == "" {
		return nil, NewInvalidError("experiment id required")
	}
	e, err := s.store.GetExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, NewNotFoundError("experiment not found")
	}
	participants, err := s.store.ListParticipantsByExperiment(experimentID)
	if err != nil {
		return nil, err
	}
	externalByID := make(map[string]string, len(participants))
	for _, p := range participants {
		externalByID[p.ID] = p.ExternalID
	}
	annotations, err := s.store.ListAnnotationsByExperiment(experimentID)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"participant_id", "external_id", "prompt_id", "format", "answer", "time_seconds", "submitted_at"})
	for _, a := range annotations {
		rec := []string{
			a.ParticipantID,
			externalByID[a.ParticipantID],
			a.PromptID,
			a.Format,
			a.Payload,
			strconv.Itoa(a.TimeSeconds),
			a.SubmittedAt.Format(time.RFC3339),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "export_annotations", Target: experimentID})
	return buf.Bytes(), nil
}
