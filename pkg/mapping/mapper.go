// Package mapping translates records between a connector's native field
// names and encodings and the canonical schema of a data category.
//
// Mapping is a 1:1 rename driven by the descriptor's mapping table, plus an
// optional declared coercion between string, number, boolean and date values.
// It is pure: identical input always yields identical output and a Mapper is
// safe for concurrent use.
package mapping

import (
	"fmt"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// DescriptorSource looks up connector descriptors.
type DescriptorSource interface {
	Get(id string) (*models.ConnectorDescriptor, error)
}

// Mapper maps records using the descriptors of a registry.
type Mapper struct {
	descriptors DescriptorSource
}

// NewMapper creates a mapper over the descriptor source.
func NewMapper(descriptors DescriptorSource) *Mapper {
	return &Mapper{descriptors: descriptors}
}

// Table returns the compiled mapping table of a connector category.
func (m *Mapper) Table(connectorID, category string) (*Table, error) {
	d, err := m.descriptors.Get(connectorID)
	if err != nil {
		return nil, err
	}
	return TableFor(d, category)
}

// ToCanonical maps a native record to the canonical schema.
func (m *Mapper) ToCanonical(connectorID, category string, native models.Record) (models.Record, error) {
	t, err := m.Table(connectorID, category)
	if err != nil {
		return models.Record{}, err
	}
	return t.ToCanonical(native)
}

// ToNative maps a canonical record to the connector's native schema.
func (m *Mapper) ToNative(connectorID, category string, canonical models.Record) (models.Record, error) {
	t, err := m.Table(connectorID, category)
	if err != nil {
		return models.Record{}, err
	}
	return t.ToNative(canonical)
}

// Table is the immutable mapping of one connector category. A category
// without a declared mapping passes records through unchanged.
type Table struct {
	connectorID string
	category    string
	fields      []models.FieldMapping
	passThrough bool
}

// TableFor compiles the mapping table of a descriptor category.
func TableFor(d *models.ConnectorDescriptor, category string) (*Table, error) {
	if !d.SupportsCategory(category) {
		return nil, errors.New(errors.ErrorTypeMapping,
			fmt.Sprintf("connector %s does not support category %s", d.ID, category))
	}
	mapping, ok := d.Mappings[category]
	return &Table{
		connectorID: d.ID,
		category:    category,
		fields:      append([]models.FieldMapping(nil), mapping.Fields...),
		passThrough: !ok || len(mapping.Fields) == 0,
	}, nil
}

// ToCanonical maps a native record to the canonical schema.
func (t *Table) ToCanonical(native models.Record) (models.Record, error) {
	if t.passThrough {
		return native.Clone(), nil
	}
	out := models.NewRecord(native.Ref, make(map[string]interface{}, len(t.fields)))
	for _, f := range t.fields {
		v, err := t.resolve(native, f.Native, f)
		if err != nil {
			return models.Record{}, err
		}
		if v == nil {
			continue
		}
		coerced, err := Coerce(v, f.Type, f.DateLayout)
		if err != nil {
			return models.Record{}, t.mappingError(native.Ref, f.Canonical, err.Error())
		}
		out.Data[f.Canonical] = coerced
	}
	return out, nil
}

// ToNative maps a canonical record to the connector's native schema.
func (t *Table) ToNative(canonical models.Record) (models.Record, error) {
	if t.passThrough {
		return canonical.Clone(), nil
	}
	out := models.NewRecord(canonical.Ref, make(map[string]interface{}, len(t.fields)))
	for _, f := range t.fields {
		v, err := t.resolve(canonical, f.Canonical, f)
		if err != nil {
			return models.Record{}, err
		}
		if v == nil {
			continue
		}
		nativeType := f.NativeType
		if nativeType == models.FieldTypeAny {
			nativeType = f.Type
		}
		coerced, err := Coerce(v, nativeType, f.DateLayout)
		if err != nil {
			return models.Record{}, t.mappingError(canonical.Ref, f.Canonical, err.Error())
		}
		out.Data[f.Native] = coerced
	}
	return out, nil
}

// resolve returns the source value, the declared default, or nil for an
// absent optional field.
func (t *Table) resolve(r models.Record, name string, f models.FieldMapping) (interface{}, error) {
	if v, ok := r.Get(name); ok {
		return v, nil
	}
	if f.Default != nil {
		return f.Default, nil
	}
	if f.Optional {
		return nil, nil
	}
	return nil, t.mappingError(r.Ref, f.Canonical, fmt.Sprintf("required field %s is missing", name))
}

func (t *Table) mappingError(ref, field, msg string) error {
	return errors.New(errors.ErrorTypeMapping, msg).
		WithDetail("connector_id", t.connectorID).
		WithDetail("category", t.category).
		WithDetail("field", field).
		WithDetail("record_ref", ref)
}
