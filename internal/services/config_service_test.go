package services

import (
	"reflect"
	"testing"
	"time"
)

type stubConfigStore struct {
	values map[string]map[string]string
	audits []AuditEntry
}

func newStubConfigStore() *stubConfigStore {
	return &stubConfigStore{values: map[string]map[string]string{}}
}

func (s *stubConfigStore) GetStudyConfig(experimentID string) (map[string]string, error) {
	out := map[string]string{}
	for k, v := range s.values[experimentID] {
		out[k] = v
	}
	return out, nil
}

func (s *stubConfigStore) SetStudyConfigValue(experimentID, key, value string, _ time.Time) error {
	if s.values[experimentID] == nil {
		s.values[experimentID] = map[string]string{}
	}
	s.values[experimentID][key] = value
	return nil
}

func (s *stubConfigStore) AddAudit(entry AuditEntry) { s.audits = append(s.audits, entry) }

func TestConfigSetAndGet(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)

	if err := svc.Set("exp1", ConfigDesignType, DesignWithin, "admin@lab"); err != nil {
		t.Fatalf("set: %v", err)
	}
	cfg, err := svc.Get("exp1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg[ConfigDesignType] != DesignWithin {
		t.Fatalf("expected design_type=within, got %q", cfg[ConfigDesignType])
	}
	if len(store.audits) != 1 || store.audits[0].Action != "config_set" {
		t.Fatalf("expected one config_set audit entry, got %+v", store.audits)
	}
}

func TestConfigSetRejectsEmptyKey(t *testing.T) {
	svc := NewConfigService(newStubConfigStore())
	err := svc.Set("exp1", "  ", "x", "admin")
	se, ok := AsServiceError(err)
	if !ok || se.Code != ErrorInvalid {
		t.Fatalf("expected invalid error, got %v", err)
	}
}

func TestDesignTypeRequired(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)

	if _, err := svc.DesignType("exp1"); err == nil {
		t.Fatal("expected config error for missing design_type")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorConfig {
		t.Fatalf("expected config error, got %v", err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigDesignType, "mixed", time.Now())
	if _, err := svc.DesignType("exp1"); err == nil {
		t.Fatal("expected config error for unknown design_type")
	}

	_ = store.SetStudyConfigValue("exp1", ConfigDesignType, DesignBetween, time.Now())
	design, err := svc.DesignType("exp1")
	if err != nil || design != DesignBetween {
		t.Fatalf("expected between, got %q (%v)", design, err)
	}
}

func TestFormatsEnabledPreservesOrder(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)
	_ = store.SetStudyConfigValue("exp1", ConfigFormatsEnabled, " highlight , dropdown ,freetext", time.Now())

	formats, err := svc.FormatsEnabled("exp1")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	want := []string{"highlight", "dropdown", "freetext"}
	if !reflect.DeepEqual(formats, want) {
		t.Fatalf("expected %v, got %v", want, formats)
	}
}

func TestFormatsEnabledRequired(t *testing.T) {
	svc := NewConfigService(newStubConfigStore())
	if _, err := svc.FormatsEnabled("exp1"); err == nil {
		t.Fatal("expected config error for missing formats_enabled")
	}
}

func TestAnnotationsPerFormatDefault(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)

	n, err := svc.AnnotationsPerFormat("exp1")
	if err != nil || n != DefaultAnnotationsPerFormat {
		t.Fatalf("expected default %d, got %d (%v)", DefaultAnnotationsPerFormat, n, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigAnnotationsPerFormat, "20", time.Now())
	if n, err = svc.AnnotationsPerFormat("exp1"); err != nil || n != 20 {
		t.Fatalf("expected 20, got %d (%v)", n, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigAnnotationsPerFormat, "-3", time.Now())
	if _, err = svc.AnnotationsPerFormat("exp1"); err == nil {
		t.Fatal("expected config error for non-positive value")
	}
}

func TestStudyActiveDefaultsToTrue(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)

	active, err := svc.StudyActive("exp1")
	if err != nil || !active {
		t.Fatalf("expected active by default, got %v (%v)", active, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigStudyActive, "false", time.Now())
	if active, err = svc.StudyActive("exp1"); err != nil || active {
		t.Fatalf("expected inactive, got %v (%v)", active, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigStudyActive, "sometimes", time.Now())
	if _, err = svc.StudyActive("exp1"); err == nil {
		t.Fatal("expected config error for non-boolean value")
	}
}

func TestDuplicatePolicyDefaultsToAllow(t *testing.T) {
	store := newStubConfigStore()
	svc := NewConfigService(store)

	policy, err := svc.DuplicatePolicy("exp1")
	if err != nil || policy != DuplicateAllow {
		t.Fatalf("expected allow, got %q (%v)", policy, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigDuplicatePolicy, DuplicateReject, time.Now())
	if policy, err = svc.DuplicatePolicy("exp1"); err != nil || policy != DuplicateReject {
		t.Fatalf("expected reject, got %q (%v)", policy, err)
	}

	_ = store.SetStudyConfigValue("exp1", ConfigDuplicatePolicy, "maybe", time.Now())
	if _, err = svc.DuplicatePolicy("exp1"); err == nil {
		t.Fatal("expected config error for unknown policy")
	}
}
