package models

import "time"

// ExperimentStatus is the lifecycle state of a study run.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentPaused    ExperimentStatus = "paused"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Experiment is a named study run that owns participants, config and annotations.
type Experiment struct {
	ID        string
	Name      string
	Status    ExperimentStatus
	CreatedAt time.Time
}

// Participant is one registered labeler. PII should be minimized; the external
// id is whatever the recruitment platform hands us.
type Participant struct {
	ID              string
	ExperimentID    string
	ExternalID      string
	DesignType      string // "within" or "between"
	FormatAssigned  string // single format name, or "all" for within-subjects
	CompletionToken string
	ConsentAt       *time.Time
	InstructionsAt  *time.Time
	StartedAt       *time.Time // stamped when the first task is served
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// Prompt is one annotation item: text plus 2-4 candidate responses.
// Prompts with an empty ExperimentID are shared across experiments.
type Prompt struct {
	ID           string
	ExperimentID string
	Text         string
	Responses    map[string]string // keyed "A".."D"
	Source       string
	Category     string
	CreatedAt    time.Time
}

// AssignmentStatus models the per-task state machine explicitly so further
// states (skipped, expired) can be added without touching call sites.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentCompleted AssignmentStatus = "completed"
)

// TaskAssignment is a pre-planned (prompt, format) obligation for a
// within-subjects participant. The set is fixed at registration and only the
// status ever changes.
type TaskAssignment struct {
	ID            string
	ParticipantID string
	PromptID      string
	Format        string
	Status        AssignmentStatus
	Position      int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Annotation is one submitted response; immutable once inserted.
type Annotation struct {
	ID            string
	ParticipantID string
	PromptID      string
	Format        string
	Payload       string // raw JSON answer fields
	TimeSeconds   int
	SubmittedAt   time.Time
}
