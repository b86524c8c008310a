package registry

import (
	"fmt"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// Validate checks the required fields of a descriptor
func Validate(d *models.ConnectorDescriptor) error {
	if d == nil {
		return errors.New(errors.ErrorTypeValidation, "descriptor is required")
	}
	if d.ID == "" {
		return errors.New(errors.ErrorTypeValidation, "connector id is required").WithDetail("field", "id")
	}
	if len(d.Categories) == 0 {
		return errors.New(errors.ErrorTypeValidation, "connector must support at least one category").
			WithDetail("connector_id", d.ID)
	}

	seen := make(map[string]bool, len(d.Categories))
	for _, c := range d.Categories {
		if c == "" {
			return errors.New(errors.ErrorTypeValidation, "category names must be non-empty").
				WithDetail("connector_id", d.ID)
		}
		if seen[c] {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("duplicate category %s", c)).
				WithDetail("connector_id", d.ID)
		}
		seen[c] = true
	}

	if d.RateLimit.RequestsPerMinute < 0 || d.RateLimit.RequestsPerHour < 0 || d.RateLimit.CallTimeout < 0 {
		return errors.New(errors.ErrorTypeValidation, "rate limits must be non-negative").
			WithDetail("connector_id", d.ID)
	}

	for category, mapping := range d.Mappings {
		if !seen[category] {
			return errors.New(errors.ErrorTypeValidation,
				fmt.Sprintf("mapping declared for unsupported category %s", category)).
				WithDetail("connector_id", d.ID)
		}
		if err := validateMapping(d.ID, category, mapping); err != nil {
			return err
		}
	}
	return nil
}

func validateMapping(connectorID, category string, mapping models.CategoryMapping) error {
	canonical := make(map[string]bool, len(mapping.Fields))
	native := make(map[string]bool, len(mapping.Fields))
	for i, f := range mapping.Fields {
		if f.Canonical == "" || f.Native == "" {
			return errors.New(errors.ErrorTypeValidation,
				fmt.Sprintf("mapping %d of category %s needs canonical and native names", i, category)).
				WithDetail("connector_id", connectorID)
		}
		if canonical[f.Canonical] || native[f.Native] {
			return errors.New(errors.ErrorTypeValidation,
				fmt.Sprintf("mapping of category %s is not one-to-one at %s->%s", category, f.Canonical, f.Native)).
				WithDetail("connector_id", connectorID)
		}
		canonical[f.Canonical] = true
		native[f.Native] = true
		if !f.Type.Valid() || !f.NativeType.Valid() {
			return errors.New(errors.ErrorTypeValidation,
				fmt.Sprintf("unknown field type on %s.%s", category, f.Canonical)).
				WithDetail("connector_id", connectorID)
		}
	}
	return nil
}
