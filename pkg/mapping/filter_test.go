package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/orbit/pkg/models"
)

func TestMatch(t *testing.T) {
	rec := models.NewRecord("o-1", map[string]interface{}{
		"status":    "shipped",
		"total":     19.99,
		"paid":      true,
		"placed_at": time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	tests := []struct {
		name string
		cond models.Condition
		want bool
	}{
		{name: "string eq", cond: models.Condition{Field: "status", Op: models.FilterEq, Value: "shipped"}, want: true},
		{name: "string ne", cond: models.Condition{Field: "status", Op: models.FilterNe, Value: "shipped"}, want: false},
		{name: "number gt", cond: models.Condition{Field: "total", Op: models.FilterGt, Value: 10}, want: true},
		{name: "number lte from string", cond: models.Condition{Field: "total", Op: models.FilterLte, Value: "19.99"}, want: true},
		{name: "bool eq", cond: models.Condition{Field: "paid", Op: models.FilterEq, Value: "true"}, want: true},
		{name: "date gte", cond: models.Condition{Field: "placed_at", Op: models.FilterGte, Value: "2026-02-01"}, want: true},
		{name: "date lt", cond: models.Condition{Field: "placed_at", Op: models.FilterLt, Value: "2026-02-01"}, want: false},
		{name: "exists", cond: models.Condition{Field: "status", Op: models.FilterExists}, want: true},
		{name: "missing exists", cond: models.Condition{Field: "memo", Op: models.FilterExists}, want: false},
		{name: "missing ne", cond: models.Condition{Field: "memo", Op: models.FilterNe, Value: "x"}, want: true},
		{name: "incomparable", cond: models.Condition{Field: "total", Op: models.FilterEq, Value: "abc"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &models.Filter{Conditions: []models.Condition{tt.cond}}
			assert.Equal(t, tt.want, Match(f, rec))
		})
	}

	assert.True(t, Match(nil, rec))
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter(nil))
	assert.NoError(t, ValidateFilter(&models.Filter{Conditions: []models.Condition{{Field: "a", Op: models.FilterExists}}}))
	assert.Error(t, ValidateFilter(&models.Filter{Conditions: []models.Condition{{Op: models.FilterEq, Value: 1}}}))
	assert.Error(t, ValidateFilter(&models.Filter{Conditions: []models.Condition{{Field: "a", Op: "like", Value: 1}}}))
	assert.Error(t, ValidateFilter(&models.Filter{Conditions: []models.Condition{{Field: "a", Op: models.FilterEq}}}))
}
