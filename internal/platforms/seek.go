package platforms

import (
	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/models"
)

// NewSeekAdapter builds the Seek adapter. Seek is the home platform for
// Australian and New Zealand searches, which the registry's selection
// scoring rewards.
func NewSeekAdapter(cfg common.AdapterConfig, selectorsDir string, deps Deps) (*Adapter, error) {
	table, err := LoadSelectorTable(selectorsDir, "seek")
	if err != nil {
		return nil, err
	}
	return newAdapter("seek", cfg, table,
		[]models.Capability{
			models.CapabilityJobSearch,
			models.CapabilityJobDetails,
			models.CapabilitySalaryInfo,
		},
		[]string{"australia", "new zealand", "sydney", "melbourne", "brisbane", "perth", "adelaide", "auckland", "nsw", "vic", "qld"},
		deps,
	), nil
}
