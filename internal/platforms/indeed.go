package platforms

import (
	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
)

// NewIndeedAdapter builds the Indeed adapter. Indeed has no public search
// API, so the adapter serves scraping, vision and hybrid only.
func NewIndeedAdapter(cfg common.AdapterConfig, selectorsDir string, deps Deps) (*Adapter, error) {
	table, err := LoadSelectorTable(selectorsDir, "indeed")
	if err != nil {
		return nil, err
	}
	return newAdapter("indeed", cfg, table,
		[]models.Capability{
			models.CapabilityJobSearch,
			models.CapabilityJobDetails,
			models.CapabilitySalaryInfo,
			models.CapabilityCompanyReviews,
		},
		nil,
		deps,
	), nil
}
