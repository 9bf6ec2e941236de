package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/formatlab/annoserve/internal/api"
	"github.com/formatlab/annoserve/internal/models"
	"github.com/formatlab/annoserve/internal/services"
)

// SQLiteStore is the production implementation of api.Store. The uniqueness
// constraints in the schema are the arbiters for registration races; this
// store only translates their violations into the api sentinels.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
}

func NewSQLiteStore(db *sql.DB, log *zap.Logger) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if log == nil {
		log = zap.NewNop()
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, log: log}, nil
}

// NewStore exposes the sqlite store behind the api.Store interface.
func NewStore(db *sql.DB, log *zap.Logger) (api.Store, error) {
	return NewSQLiteStore(db, log)
}

var _ api.Store = (*SQLiteStore)(nil)

func encodeResponses(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) decodeResponses(ns sql.NullString) map[string]string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		s.log.Warn("decode prompt responses", zap.Error(err))
		return nil
	}
	return out
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// translateParticipantConflict distinguishes the two uniqueness violations
// registration can hit.
func translateParticipantConflict(err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.Code != sqlite3.ErrConstraint {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "participants.completion_token"):
		return api.ErrCompletionTokenExists
	case strings.Contains(msg, "participants.external_id"):
		return api.ErrExternalIDExists
	default:
		return err
	}
}

// --- Experiments ---

func (s *SQLiteStore) AddExperiment(e *models.Experiment) error {
	_, err := s.db.Exec(
		`INSERT INTO experiments (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.Name, string(e.Status), e.CreatedAt)
	return err
}

func (s *SQLiteStore) GetExperiment(id string) (*models.Experiment, error) {
	row := s.db.QueryRow(
		`SELECT id, name, status, created_at FROM experiments WHERE id = ?`, id)
	var e models.Experiment
	var status string
	if err := row.Scan(&e.ID, &e.Name, &status, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Status = models.ExperimentStatus(status)
	return &e, nil
}

func (s *SQLiteStore) UpdateExperimentStatus(id string, status models.ExperimentStatus) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE experiments SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// --- Study config ---

func (s *SQLiteStore) GetStudyConfig(experimentID string) (map[string]string, error) {
	rows, err := s.db.Query(
		`SELECT key, value FROM study_config WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetStudyConfigValue(experimentID, key, value string, updatedAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO study_config (experiment_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (experiment_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		experimentID, key, value, updatedAt)
	return err
}

// --- Participants ---

func (s *SQLiteStore) AddParticipantWithTasks(p *models.Participant, tasks []*models.TaskAssignment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		`INSERT INTO participants (id, experiment_id, external_id, design_type, format_assigned,
		   completion_token, consent_at, instructions_at, started_at, completed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ExperimentID, p.ExternalID, p.DesignType, p.FormatAssigned,
		p.CompletionToken, nullTime(p.ConsentAt), nullTime(p.InstructionsAt),
		nullTime(p.StartedAt), nullTime(p.CompletedAt), p.CreatedAt)
	if err != nil {
		err = translateParticipantConflict(err)
		return err
	}
	for _, t := range tasks {
		_, err = tx.Exec(
			`INSERT INTO task_assignments (id, participant_id, prompt_id, format, status, position, created_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ParticipantID, t.PromptID, t.Format, string(t.Status), t.Position, t.CreatedAt, nullTime(t.CompletedAt))
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

const participantColumns = `id, experiment_id, external_id, design_type, format_assigned,
	completion_token, consent_at, instructions_at, started_at, completed_at, created_at`

func (s *SQLiteStore) scanParticipant(row interface{ Scan(...any) error }) (*models.Participant, error) {
	var p models.Participant
	var consent, instructions, started, completed sql.NullTime
	err := row.Scan(&p.ID, &p.ExperimentID, &p.ExternalID, &p.DesignType, &p.FormatAssigned,
		&p.CompletionToken, &consent, &instructions, &started, &completed, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.ConsentAt = timePtr(consent)
	p.InstructionsAt = timePtr(instructions)
	p.StartedAt = timePtr(started)
	p.CompletedAt = timePtr(completed)
	return &p, nil
}

func (s *SQLiteStore) GetParticipant(id string) (*models.Participant, error) {
	row := s.db.QueryRow(
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	return s.scanParticipant(row)
}

func (s *SQLiteStore) GetParticipantByExternalID(experimentID, externalID string) (*models.Participant, error) {
	row := s.db.QueryRow(
		`SELECT `+participantColumns+` FROM participants WHERE experiment_id = ? AND external_id = ?`,
		experimentID, externalID)
	return s.scanParticipant(row)
}

func (s *SQLiteStore) SetParticipantConsent(id string, t time.Time) (bool, error) {
	return s.stampParticipant(`UPDATE participants SET consent_at = ? WHERE id = ?`, id, t)
}

func (s *SQLiteStore) SetParticipantInstructions(id string, t time.Time) (bool, error) {
	return s.stampParticipant(`UPDATE participants SET instructions_at = ? WHERE id = ?`, id, t)
}

func (s *SQLiteStore) SetParticipantStarted(id string, t time.Time) (bool, error) {
	// Only the first task fetch sets it.
	return s.stampParticipant(`UPDATE participants SET started_at = ? WHERE id = ? AND started_at IS NULL`, id, t)
}

func (s *SQLiteStore) SetParticipantCompleted(id string, t time.Time) (bool, error) {
	return s.stampParticipant(`UPDATE participants SET completed_at = ? WHERE id = ?`, id, t)
}

func (s *SQLiteStore) stampParticipant(query, id string, t time.Time) (bool, error) {
	res, err := s.db.Exec(query, t, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *SQLiteStore) CountParticipantsByFormat(experimentID string) (map[string]int, error) {
	rows, err := s.db.Query(
		`SELECT format_assigned, COUNT(*) FROM participants WHERE experiment_id = ? GROUP BY format_assigned`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var format string
		var n int
		if err := rows.Scan(&format, &n); err != nil {
			return nil, err
		}
		out[format] = n
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountParticipantsByDesign(experimentID, designType string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM participants WHERE experiment_id = ? AND design_type = ?`,
		experimentID, designType).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListParticipantsByExperiment(experimentID string) ([]*models.Participant, error) {
	rows, err := s.db.Query(
		`SELECT `+participantColumns+` FROM participants WHERE experiment_id = ? ORDER BY created_at, id`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Participant
	for rows.Next() {
		p, err := s.scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Prompts ---

func (s *SQLiteStore) AddPrompts(ps []*models.Prompt) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, p := range ps {
		var responses sql.NullString
		responses, err = encodeResponses(p.Responses)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO prompts (id, experiment_id, text, responses, source, category, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ExperimentID, p.Text, responses, p.Source, p.Category, p.CreatedAt)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

const promptColumns = `id, experiment_id, text, responses, source, category, created_at`

func (s *SQLiteStore) scanPrompt(row interface{ Scan(...any) error }) (*models.Prompt, error) {
	var p models.Prompt
	var responses sql.NullString
	err := row.Scan(&p.ID, &p.ExperimentID, &p.Text, &responses, &p.Source, &p.Category, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Responses = s.decodeResponses(responses)
	return &p, nil
}

func (s *SQLiteStore) GetPrompt(id string) (*models.Prompt, error) {
	row := s.db.QueryRow(
		`SELECT `+promptColumns+` FROM prompts WHERE id = ?`, id)
	return s.scanPrompt(row)
}

// SamplePrompts delegates randomization to sqlite's ORDER BY RANDOM().
func (s *SQLiteStore) SamplePrompts(experimentID string, n int, exclude []string) ([]*models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts WHERE (experiment_id = '' OR experiment_id = ?)`
	args := []any{experimentID}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(",?", len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY RANDOM() LIMIT ?`
	args = append(args, n)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Prompt
	for rows.Next() {
		p, err := s.scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountPrompts(experimentID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM prompts WHERE experiment_id = '' OR experiment_id = ?`,
		experimentID).Scan(&n)
	return n, err
}

// --- Task assignments ---

func (s *SQLiteStore) CountAssignments(participantID string) (int, int, error) {
	var total, completed int
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(status = 'completed'), 0) FROM task_assignments WHERE participant_id = ?`,
		participantID).Scan(&total, &completed)
	return total, completed, err
}

const assignmentColumns = `id, participant_id, prompt_id, format, status, position, created_at, completed_at`

func (s *SQLiteStore) scanAssignment(row interface{ Scan(...any) error }) (*models.TaskAssignment, error) {
	var a models.TaskAssignment
	var status string
	var completed sql.NullTime
	err := row.Scan(&a.ID, &a.ParticipantID, &a.PromptID, &a.Format, &status, &a.Position, &a.CreatedAt, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Status = models.AssignmentStatus(status)
	a.CompletedAt = timePtr(completed)
	return &a, nil
}

func (s *SQLiteStore) NextPendingAssignment(participantID string) (*models.TaskAssignment, error) {
	row := s.db.QueryRow(
		`SELECT `+assignmentColumns+` FROM task_assignments
		 WHERE participant_id = ? AND status = 'pending' ORDER BY position LIMIT 1`,
		participantID)
	return s.scanAssignment(row)
}

func (s *SQLiteStore) GetAssignment(participantID, promptID, format string) (*models.TaskAssignment, error) {
	row := s.db.QueryRow(
		`SELECT `+assignmentColumns+` FROM task_assignments
		 WHERE participant_id = ? AND prompt_id = ? AND format = ?`,
		participantID, promptID, format)
	return s.scanAssignment(row)
}

func (s *SQLiteStore) ListAssignments(participantID string) ([]*models.TaskAssignment, error) {
	rows, err := s.db.Query(
		`SELECT `+assignmentColumns+` FROM task_assignments WHERE participant_id = ? ORDER BY position`,
		participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.TaskAssignment
	for rows.Next() {
		a, err := s.scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Annotations ---

// AddAnnotation performs the submission's two writes in one transaction; a
// timed-out request can never leave the annotation and the queue out of sync.
func (s *SQLiteStore) AddAnnotation(a *models.Annotation, completeTask bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	_, err = tx.Exec(
		`INSERT INTO annotations (id, participant_id, prompt_id, format, payload, time_seconds, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ParticipantID, a.PromptID, a.Format, a.Payload, a.TimeSeconds, a.SubmittedAt)
	if err != nil {
		return err
	}
	if completeTask {
		_, err = tx.Exec(
			`UPDATE task_assignments SET status = 'completed', completed_at = ?
			 WHERE participant_id = ? AND prompt_id = ? AND format = ? AND status = 'pending'`,
			a.SubmittedAt, a.ParticipantID, a.PromptID, a.Format)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *SQLiteStore) CountAnnotationsByParticipant(participantID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM annotations WHERE participant_id = ?`, participantID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListAnnotatedPromptIDs(participantID string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT prompt_id FROM annotations WHERE participant_id = ?`, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListAnnotationsByExperiment(experimentID string) ([]*models.Annotation, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.participant_id, a.prompt_id, a.format, a.payload, a.time_seconds, a.submitted_at
		 FROM annotations a JOIN participants p ON p.id = a.participant_id
		 WHERE p.experiment_id = ? ORDER BY a.submitted_at, a.id`,
		experimentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Annotation
	for rows.Next() {
		var a models.Annotation
		if err := rows.Scan(&a.ID, &a.ParticipantID, &a.PromptID, &a.Format, &a.Payload, &a.TimeSeconds, &a.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- Reset ---

func (s *SQLiteStore) ResetExperimentData(experimentID string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	_, err = tx.Exec(
		`DELETE FROM annotations WHERE participant_id IN (SELECT id FROM participants WHERE experiment_id = ?)`,
		experimentID)
	if err != nil {
		return 0, err
	}
	_, err = tx.Exec(
		`DELETE FROM task_assignments WHERE participant_id IN (SELECT id FROM participants WHERE experiment_id = ?)`,
		experimentID)
	if err != nil {
		return 0, err
	}
	var res sql.Result
	res, err = tx.Exec(`DELETE FROM participants WHERE experiment_id = ?`, experimentID)
	if err != nil {
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	err = tx.Commit()
	return int(removed), err
}

// --- Users ---

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, pass_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PassHash, u.CreatedAt)
	return err
}

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	row := s.db.QueryRow(
		`SELECT id, email, pass_hash, created_at FROM users WHERE email = ?`, strings.ToLower(email))
	var u services.User
	if err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// --- Audit ---

func (s *SQLiteStore) AddAudit(e services.AuditEntry) {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (time, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		e.Time, e.Actor, e.Action, e.Target, e.Note)
	if err != nil {
		s.log.Warn("append audit entry", zap.Error(err))
	}
}

func (s *SQLiteStore) ListAudit() []services.AuditEntry {
	rows, err := s.db.Query(
		`SELECT time, actor, action, target, note FROM audit_log ORDER BY id`)
	if err != nil {
		s.log.Warn("list audit entries", zap.Error(err))
		return nil
	}
	defer rows.Close()
	var out []services.AuditEntry
	for rows.Next() {
		var e services.AuditEntry
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			s.log.Warn("scan audit entry", zap.Error(err))
			return out
		}
		out = append(out, e)
	}
	return out
}
