package models

import (
	"fmt"
	"time"
)

// FieldType is the declared type of a mapped field value.
type FieldType string

const (
	// FieldTypeAny leaves the value untouched
	FieldTypeAny FieldType = ""
	// FieldTypeString coerces to string
	FieldTypeString FieldType = "string"
	// FieldTypeNumber coerces to float64
	FieldTypeNumber FieldType = "number"
	// FieldTypeBoolean coerces to bool
	FieldTypeBoolean FieldType = "boolean"
	// FieldTypeDate coerces to time.Time
	FieldTypeDate FieldType = "date"
)

// Valid reports whether the field type is known.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeAny, FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate:
		return true
	}
	return false
}

// FieldMapping maps one canonical field onto one native field.
type FieldMapping struct {
	Canonical string `yaml:"canonical" json:"canonical" bson:"canonical"`
	Native    string `yaml:"native" json:"native" bson:"native"`

	// Type is the canonical value type
	Type FieldType `yaml:"type,omitempty" json:"type,omitempty" bson:"type,omitempty"`
	// NativeType is how the connector encodes the value; empty means same as Type
	NativeType FieldType `yaml:"native_type,omitempty" json:"native_type,omitempty" bson:"native_type,omitempty"`

	// Optional fields may be absent on either side; fields are required otherwise
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty" bson:"optional,omitempty"`
	// Default is used when the source value is absent
	Default interface{} `yaml:"default,omitempty" json:"default,omitempty" bson:"default,omitempty"`
	// DateLayout is the Go time layout for string encoded dates (RFC3339Nano when empty)
	DateLayout string `yaml:"date_layout,omitempty" json:"date_layout,omitempty" bson:"date_layout,omitempty"`
}

// CategoryMapping is the mapping table for one data category.
type CategoryMapping struct {
	Fields []FieldMapping `yaml:"fields" json:"fields" bson:"fields"`
}

// RateLimitPolicy bounds how hard a connector may be called.
// Limits apply to batch-level calls, zero means unlimited.
type RateLimitPolicy struct {
	RequestsPerMinute int      `yaml:"requests_per_minute" json:"requests_per_minute" bson:"requests_per_minute"`
	RequestsPerHour   int      `yaml:"requests_per_hour" json:"requests_per_hour" bson:"requests_per_hour"`
	CallTimeout       Duration `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty" bson:"call_timeout,omitempty"`
}

// ConnectorDescriptor describes an external record-keeping system.
// Descriptors are immutable once registered and replaced wholesale on update.
type ConnectorDescriptor struct {
	ID      string `yaml:"id" json:"id" bson:"_id"`
	Name    string `yaml:"name" json:"name" bson:"name"`
	Family  string `yaml:"family" json:"family" bson:"family"`
	Version string `yaml:"version" json:"version" bson:"version"`
	Active  bool   `yaml:"active" json:"active" bson:"active"`

	Categories []string                   `yaml:"categories" json:"categories" bson:"categories"`
	Mappings   map[string]CategoryMapping `yaml:"mappings" json:"mappings" bson:"mappings"`
	RateLimit  RateLimitPolicy            `yaml:"rate_limit" json:"rate_limit" bson:"rate_limit"`

	// CredentialRef is resolved by the secrets resolver; never a secret itself
	CredentialRef string `yaml:"credential_ref,omitempty" json:"credential_ref,omitempty" bson:"credential_ref,omitempty"`
	// Options carries family specific settings such as base_url or topic names
	Options map[string]string `yaml:"options,omitempty" json:"options,omitempty" bson:"options,omitempty"`
}

// SupportsCategory reports whether the connector serves the category.
func (d *ConnectorDescriptor) SupportsCategory(category string) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Option returns a family option or the fallback.
func (d *ConnectorDescriptor) Option(key, fallback string) string {
	if v, ok := d.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Clone returns a deep copy of the descriptor.
func (d *ConnectorDescriptor) Clone() *ConnectorDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	out.Categories = append([]string(nil), d.Categories...)
	if d.Mappings != nil {
		out.Mappings = make(map[string]CategoryMapping, len(d.Mappings))
		for category, m := range d.Mappings {
			out.Mappings[category] = CategoryMapping{Fields: append([]FieldMapping(nil), m.Fields...)}
		}
	}
	if d.Options != nil {
		out.Options = make(map[string]string, len(d.Options))
		for k, v := range d.Options {
			out.Options[k] = v
		}
	}
	return &out
}

// Duration is a time.Duration that encodes as a Go duration string ("30s")
// in YAML and JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}
