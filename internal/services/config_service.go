package services

import (
	"strconv"
	"strings"
	"time"
)

// ConfigStore is the per-study key/value collaborator. It performs no
// validation of key names or value types; callers parse.
type ConfigStore interface {
	GetStudyConfig(experimentID string) (map[string]string, error)
	SetStudyConfigValue(experimentID, key, value string, updatedAt time.Time) error
	AddAudit(entry AuditEntry)
}

// ConfigService reads and writes StudyConfig and exposes typed accessors with
// the documented defaults. design_type and formats_enabled are required;
// registration cannot proceed without them.
type ConfigService struct {
	store ConfigStore
	now   func() time.Time
}

func NewConfigService(store ConfigStore) *ConfigService {
	return &ConfigService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConfigService) Get(experimentID string) (map[string]string, error) {
	if experimentID == "" {
		return nil, NewInvalidError("experiment id required")
	}
	return s.store.GetStudyConfig(experimentID)
}

func (s *ConfigService) Set(experimentID, key, value, actor string) error {
	if experimentID == "" {
		return NewInvalidError("experiment id required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return NewInvalidError("key required")
	}
	if err := s.store.SetStudyConfigValue(experimentID, key, value, s.now()); err != nil {
		return err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "config_set", Target: experimentID, Note: key})
	return nil
}

// DesignType returns the experiment's design, or a config error when the key
// is missing or carries an unknown value.
func (s *ConfigService) DesignType(experimentID string) (string, error) {
	cfg, err := s.store.GetStudyConfig(experimentID)
	if err != nil {
		return "", err
	}
	switch v := strings.TrimSpace(cfg[ConfigDesignType]); v {
	case DesignWithin, DesignBetween:
		return v, nil
	case "":
		return "", NewConfigError("design_type not configured")
	default:
		return "", NewConfigError("design_type must be within or between")
	}
}

// FormatsEnabled parses the comma-separated formats_enabled list, preserving
// order. Order matters: it is the between-subjects tie-break order and the
// base ordering that counterbalancing permutes.
func (s *ConfigService) FormatsEnabled(experimentID string) ([]string, error) {
	cfg, err := s.store.GetStudyConfig(experimentID)
	if err != nil {
		return nil, err
	}
	raw := cfg[ConfigFormatsEnabled]
	var formats []string
	for _, f := range strings.Split(raw, ",") {
		if f = strings.TrimSpace(f); f != "" {
			formats = append(formats, f)
		}
	}
	if len(formats) == 0 {
		return nil, NewConfigError("formats_enabled not configured")
	}
	return formats, nil
}

// AnnotationsPerFormat falls back to the default when the key is absent.
func (s *ConfigService) AnnotationsPerFormat(experimentID string) (int, error) {
	cfg, err := s.store.GetStudyConfig(experimentID)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(cfg[ConfigAnnotationsPerFormat])
	if raw == "" {
		return DefaultAnnotationsPerFormat, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, NewConfigError("annotations_per_format must be a positive integer")
	}
	return n, nil
}

// StudyActive is the operator kill switch for intake. Defaults to true so a
// fresh experiment accepts participants without extra setup.
func (s *ConfigService) StudyActive(experimentID string) (bool, error) {
	cfg, err := s.store.GetStudyConfig(experimentID)
	if err != nil {
		return false, err
	}
	raw := strings.TrimSpace(cfg[ConfigStudyActive])
	if raw == "" {
		return true, nil
	}
	active, err := strconv.ParseBool(raw)
	if err != nil {
		return false, NewConfigError("study_active must be a boolean")
	}
	return active, nil
}

// DuplicatePolicy decides whether a second submission for an already-completed
// task is accepted as a correction or rejected. Defaults to allow, which is
// the historical behavior.
func (s *ConfigService) DuplicatePolicy(experimentID string) (string, error) {
	cfg, err := s.store.GetStudyConfig(experimentID)
	if err != nil {
		return "", err
	}
	switch v := strings.TrimSpace(cfg[ConfigDuplicatePolicy]); v {
	case "":
		return DuplicateAllow, nil
	case DuplicateAllow, DuplicateReject:
		return v, nil
	default:
		return "", NewConfigError("duplicate_policy must be allow or reject")
	}
}
