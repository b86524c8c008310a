// Package models provides the data model shared by the Orbit components:
// connector descriptors, sync requests and jobs, schedules, custom endpoint
// definitions and the record envelope exchanged with connectors.
//
// Records travel in two shapes. Native records use the field names and value
// encodings of the external system. Canonical records use the connector
// independent schema of a data category. Both use the same envelope so that
// the originating record reference survives mapping.
package models

// Record is a single record exchanged with a connector or canonical storage.
type Record struct {
	// Ref identifies the record on the originating side (primary key, offset, ...)
	Ref string `json:"ref,omitempty" bson:"ref,omitempty"`

	// Data holds the field values
	Data map[string]interface{} `json:"data" bson:"data"`
}

// NewRecord creates a record with the given reference and data.
func NewRecord(ref string, data map[string]interface{}) Record {
	if data == nil {
		data = make(map[string]interface{})
	}
	return Record{Ref: ref, Data: data}
}

// Get returns a field value and whether it is present and non-nil.
func (r Record) Get(field string) (interface{}, bool) {
	v, ok := r.Data[field]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Clone returns a shallow copy of the record with its own data map.
func (r Record) Clone() Record {
	data := make(map[string]interface{}, len(r.Data))
	for k, v := range r.Data {
		data[k] = v
	}
	return Record{Ref: r.Ref, Data: data}
}

// RecordOutcome is the per-record result of writing a batch.
type RecordOutcome struct {
	// Index is the position of the record in the submitted batch
	Index int `json:"index"`
	// Ref echoes the record reference
	Ref string `json:"ref,omitempty"`
	// Accepted reports whether the receiver accepted the record
	Accepted bool `json:"accepted"`
	// Reason explains a rejection
	Reason string `json:"reason,omitempty"`
	// Kind overrides the error type recorded for a rejection; empty means
	// connector_rejected
	Kind string `json:"kind,omitempty"`
}

// Accepted builds an accepted outcome.
func Accepted(index int, ref string) RecordOutcome {
	return RecordOutcome{Index: index, Ref: ref, Accepted: true}
}

// Rejected builds a rejected outcome.
func Rejected(index int, ref, reason string) RecordOutcome {
	return RecordOutcome{Index: index, Ref: ref, Reason: reason}
}

// Unencodable builds the outcome of a record the adapter could not put on
// the wire. It is never sent, so it fails as a mapping error.
func Unencodable(index int, ref, reason string) RecordOutcome {
	return RecordOutcome{Index: index, Ref: ref, Reason: reason, Kind: "mapping"}
}
