package mapping

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/models"
)

// ValidateFilter checks the conditions of a request filter.
func ValidateFilter(f *models.Filter) error {
	if f.Empty() {
		return nil
	}
	for i, c := range f.Conditions {
		if c.Field == "" {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("filter condition %d has no field", i))
		}
		if !c.Op.Valid() {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("filter condition %d has unknown op %q", i, c.Op))
		}
		if c.Op != models.FilterExists && c.Value == nil {
			return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("filter condition %d needs a value", i))
		}
	}
	return nil
}

// Match reports whether a canonical record satisfies every condition.
// Values that cannot be compared do not match.
func Match(f *models.Filter, r models.Record) bool {
	if f.Empty() {
		return true
	}
	for _, c := range f.Conditions {
		if !matchCondition(c, r) {
			return false
		}
	}
	return true
}

func matchCondition(c models.Condition, r models.Record) bool {
	v, ok := r.Get(c.Field)
	if c.Op == models.FilterExists {
		return ok
	}
	if !ok {
		return c.Op == models.FilterNe
	}

	cmp, ok := compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case models.FilterEq:
		return cmp == 0
	case models.FilterNe:
		return cmp != 0
	case models.FilterGt:
		return cmp > 0
	case models.FilterGte:
		return cmp >= 0
	case models.FilterLt:
		return cmp < 0
	case models.FilterLte:
		return cmp <= 0
	}
	return false
}

// compare orders a record value against a condition value, coercing the
// condition value to the record value's type.
func compare(v, target interface{}) (int, bool) {
	switch x := v.(type) {
	case time.Time:
		t, err := toDate(target, time.RFC3339Nano)
		if err != nil {
			return 0, false
		}
		return x.Compare(t.(time.Time)), true
	case bool:
		b, err := toBool(target)
		if err != nil {
			return 0, false
		}
		if x == b.(bool) {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case string:
		s, err := toString(target, time.RFC3339Nano)
		if err != nil {
			return 0, false
		}
		switch {
		case x < s.(string):
			return -1, true
		case x > s.(string):
			return 1, true
		}
		return 0, true
	}
	if f, ok := asFloat(v); ok {
		n, err := toNumber(target)
		if err != nil {
			return 0, false
		}
		switch {
		case f < n.(float64):
			return -1, true
		case f > n.(float64):
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
