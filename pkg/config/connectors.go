package config

import (
	"fmt"

	"github.com/ajitpratap0/orbit/pkg/models"
)

// validateConnectors checks the declarative connector list. Descriptor
// contents are validated again by the registry on registration.
func (c *Config) validateConnectors() error {
	seen := make(map[string]bool, len(c.Connectors))
	for i, d := range c.Connectors {
		if d.ID == "" {
			return fmt.Errorf("connector #%d: id is required", i)
		}
		if d.Family == "" {
			return fmt.Errorf("connector %s: family is required", d.ID)
		}
		if seen[d.ID] {
			return fmt.Errorf("connector %s: duplicate id", d.ID)
		}
		seen[d.ID] = true
	}
	return nil
}

// validateSchedules checks that declared schedules are well formed and
// reference declared connectors.
func (c *Config) validateSchedules() error {
	connectors := make(map[string]*models.ConnectorDescriptor, len(c.Connectors))
	for i := range c.Connectors {
		connectors[c.Connectors[i].ID] = &c.Connectors[i]
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		} else if seen[s.ID] {
			return fmt.Errorf("schedule %s: duplicate id", name)
		}
		seen[s.ID] = true

		d, ok := connectors[s.ConnectorID]
		if !ok {
			return fmt.Errorf("schedule %s: unknown connector %q", name, s.ConnectorID)
		}
		if !s.Frequency.Valid() {
			return fmt.Errorf("schedule %s: invalid frequency %q", name, s.Frequency)
		}
		if s.Mode != "" && !s.Mode.Valid() {
			return fmt.Errorf("schedule %s: invalid mode %q", name, s.Mode)
		}
		for _, category := range s.Categories {
			if !d.SupportsCategory(category) {
				return fmt.Errorf("schedule %s: connector %s does not support category %q", name, d.ID, category)
			}
		}
	}
	return nil
}
