package api

import (
	"time"

	"github.com/formatlab/annoserve/internal/services"
)

type configStoreAdapter struct {
	store Store
}

func newConfigStoreAdapter(store Store) services.ConfigStore {
	return &configStoreAdapter{store: store}
}

func (a *configStoreAdapter) GetStudyConfig(experimentID string) (map[string]string, error) {
	return a.store.GetStudyConfig(experimentID)
}

func (a *configStoreAdapter) SetStudyConfigValue(experimentID, key, value string, updatedAt time.Time) error {
	return a.store.SetStudyConfigValue(experimentID, key, value, updatedAt)
}

func (a *configStoreAdapter) AddAudit(entry services.AuditEntry) {
	a.store.AddAudit(entry)
}

var _ services.ConfigStore = (*configStoreAdapter)(nil)
