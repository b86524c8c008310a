package mapping

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/orbit/pkg/connector/registry"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	reg := registry.NewRegistry(nil)
	require.NoError(t, reg.Register(&models.ConnectorDescriptor{
		ID:         "shop",
		Family:     "memory",
		Active:     true,
		Categories: []string{"orders", "customers", "inventory"},
		Mappings: map[string]models.CategoryMapping{
			"orders": {Fields: []models.FieldMapping{
				{Canonical: "id", Native: "ext_id", Type: models.FieldTypeString},
				{Canonical: "total", Native: "amount", Type: models.FieldTypeNumber, NativeType: models.FieldTypeString},
				{Canonical: "paid", Native: "is_paid", Type: models.FieldTypeBoolean, NativeType: models.FieldTypeNumber},
				{Canonical: "placed_at", Native: "created", Type: models.FieldTypeDate, NativeType: models.FieldTypeString,
					DateLayout: "2006-01-02 15:04:05"},
				{Canonical: "note", Native: "memo", Optional: true},
				{Canonical: "currency", Native: "ccy", Default: "EUR"},
			}},
			"customers": {Fields: []models.FieldMapping{
				{Canonical: "id", Native: "customer_no"},
				{Canonical: "email", Native: "mail"},
			}},
		},
	}))
	return NewMapper(reg)
}

func TestToCanonical(t *testing.T) {
	m := newTestMapper(t)

	native := models.NewRecord("o-1", map[string]interface{}{
		"ext_id":  "o-1",
		"amount":  "12.50",
		"is_paid": 1,
		"created": "2026-03-01 09:30:00",
		"extra":   "dropped",
	})
	got, err := m.ToCanonical("shop", "orders", native)
	require.NoError(t, err)

	assert.Equal(t, "o-1", got.Ref)
	assert.Equal(t, map[string]interface{}{
		"id":        "o-1",
		"total":     12.5,
		"paid":      true,
		"placed_at": time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		"currency":  "EUR",
	}, got.Data)
}

func TestToCanonicalErrors(t *testing.T) {
	m := newTestMapper(t)
	base := func() map[string]interface{} {
		return map[string]interface{}{"ext_id": "o-1", "amount": "3", "is_paid": 0, "created": "2026-03-01 09:30:00"}
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		field  string
	}{
		{name: "missing required", mutate: func(d map[string]interface{}) { delete(d, "amount") }, field: "total"},
		{name: "nil required", mutate: func(d map[string]interface{}) { d["amount"] = nil }, field: "total"},
		{name: "bad number", mutate: func(d map[string]interface{}) { d["amount"] = "twelve" }, field: "total"},
		{name: "bad boolean", mutate: func(d map[string]interface{}) { d["is_paid"] = 7 }, field: "paid"},
		{name: "bad date", mutate: func(d map[string]interface{}) { d["created"] = "yesterday" }, field: "placed_at"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := base()
			tt.mutate(data)
			_, err := m.ToCanonical("shop", "orders", models.NewRecord("o-1", data))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeMapping))

			var mappingErr *errors.Error
			require.True(t, errors.As(err, &mappingErr))
			assert.Equal(t, tt.field, mappingErr.Details["field"])
			assert.Equal(t, "o-1", mappingErr.Details["record_ref"])
		})
	}
}

func TestRoundTrip(t *testing.T) {
	m := newTestMapper(t)

	records := []models.Record{
		models.NewRecord("o-1", map[string]interface{}{
			"id":        "o-1",
			"total":     42.25,
			"paid":      false,
			"placed_at": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			"note":      "gift",
			"currency":  "USD",
		}),
		models.NewRecord("o-2", map[string]interface{}{
			"id":        "o-2",
			"total":     0.1,
			"paid":      true,
			"placed_at": time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			"currency":  "EUR",
		}),
	}

	for _, r := range records {
		native, err := m.ToNative("shop", "orders", r)
		require.NoError(t, err)
		back, err := m.ToCanonical("shop", "orders", native)
		require.NoError(t, err)
		assert.Equal(t, r, back)

		// deterministic
		again, err := m.ToNative("shop", "orders", r)
		require.NoError(t, err)
		assert.Equal(t, native, again)
	}
}

func TestToNativeEncodings(t *testing.T) {
	m := newTestMapper(t)
	native, err := m.ToNative("shop", "orders", models.NewRecord("o-9", map[string]interface{}{
		"id":        "o-9",
		"total":     7.0,
		"paid":      true,
		"placed_at": time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC),
		"currency":  "GBP",
	}))
	require.NoError(t, err)
	assert.Equal(t, "7", native.Data["amount"])
	assert.Equal(t, float64(1), native.Data["is_paid"])
	assert.Equal(t, "2026-05-06 07:08:09", native.Data["created"])
	assert.NotContains(t, native.Data, "memo")
}

func TestPassThroughAndUnsupported(t *testing.T) {
	m := newTestMapper(t)

	rec := models.NewRecord("sku-1", map[string]interface{}{"sku": "sku-1", "qty": 3})
	got, err := m.ToCanonical("shop", "inventory", rec)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = m.ToCanonical("shop", "invoices", rec)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMapping))

	_, err = m.ToCanonical("missing", "orders", rec)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		in      interface{}
		typ     models.FieldType
		want    interface{}
		wantErr bool
	}{
		{name: "int to number", in: 3, typ: models.FieldTypeNumber, want: float64(3)},
		{name: "string to number", in: " 2.5 ", typ: models.FieldTypeNumber, want: 2.5},
		{name: "bool to number", in: true, typ: models.FieldTypeNumber, want: float64(1)},
		{name: "number to string", in: 2.5, typ: models.FieldTypeString, want: "2.5"},
		{name: "bool to string", in: false, typ: models.FieldTypeString, want: "false"},
		{name: "yes to bool", in: "Yes", typ: models.FieldTypeBoolean, want: true},
		{name: "zero to bool", in: 0, typ: models.FieldTypeBoolean, want: false},
		{name: "unix to date", in: int64(0), typ: models.FieldTypeDate, want: time.Unix(0, 0).UTC()},
		{name: "date only", in: "2026-02-03", typ: models.FieldTypeDate, want: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)},
		{name: "any untouched", in: []int{1}, typ: models.FieldTypeAny, want: []int{1}},
		{name: "map to string fails", in: map[string]int{}, typ: models.FieldTypeString, wantErr: true},
		{name: "date to number fails", in: time.Now(), typ: models.FieldTypeNumber, wantErr: true},
		{name: "NaN string fails", in: "NaN", typ: models.FieldTypeNumber, wantErr: true},
		{name: "infinity string fails", in: "-Infinity", typ: models.FieldTypeNumber, wantErr: true},
		{name: "NaN json number fails", in: json.Number("NaN"), typ: models.FieldTypeNumber, wantErr: true},
		{name: "exact int64 to number", in: int64(1 << 53), typ: models.FieldTypeNumber, want: float64(1 << 53)},
		{name: "inexact int64 fails", in: int64(1<<53 + 1), typ: models.FieldTypeNumber, wantErr: true},
		{name: "inexact uint64 fails", in: uint64(1 << 63), typ: models.FieldTypeNumber, wantErr: true},
		{name: "large int64 to string", in: int64(9007199254740993), typ: models.FieldTypeString, want: "9007199254740993"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.typ, "")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
