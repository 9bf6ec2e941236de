package services

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/formatlab/annoserve/internal/models"
)

type stubExportStore struct {
	experiment   *models.Experiment
	participants []*models.Participant
	annotations  []*models.Annotation
	audits       []AuditEntry
}

func (s *stubExportStore) GetExperiment(string) (*models.Experiment, error) {
	return s.experiment, nil
}

func (s *stubExportStore) ListParticipantsByExperiment(string) ([]*models.Participant, error) {
	return s.participants, nil
}

func (s *stubExportStore) ListAnnotationsByExperiment(string) ([]*models.Annotation, error) {
	return s.annotations, nil
}

func (s *stubExportStore) AddAudit(entry AuditEntry) { s.audits = append(s.audits, entry) }

func TestAnnotationsCSV(t *testing.T) {
	submitted := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	store := &stubExportStore{
		experiment: &models.Experiment{ID: "exp1", Status: models.ExperimentActive},
		participants: []*models.Participant{
			{ID: "part1", ExternalID: "prolific-42"},
		},
		annotations: []*models.Annotation{
			{ID: "a1", ParticipantID: "part1", PromptID: "pr1", Format: "highlight",
				Payload: `{"choice":"A"}`, TimeSeconds: 12, SubmittedAt: submitted},
		},
	}
	svc := NewExportService(store)

	out, err := svc.AnnotationsCSV("exp1", "admin@lab")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
	if rows[0][0] != "participant_id" || rows[0][6] != "submitted_at" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	row := rows[1]
	if row[0] != "part1" || row[1] != "prolific-42" || row[2] != "pr1" || row[3] != "highlight" {
		t.Fatalf("unexpected row %v", row)
	}
	if row[4] != `{"choice":"A"}` || row[5] != "12" || row[6] != "2026-03-01T10:30:00Z" {
		t.Fatalf("unexpected row %v", row)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "export_annotations" {
		t.Fatalf("expected export audit, got %+v", store.audits)
	}
}

func TestAnnotationsCSVUnknownExperiment(t *testing.T) {
	svc := NewExportService(&stubExportStore{})
	_, err := svc.AnnotationsCSV("ghost", "admin")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}
}
