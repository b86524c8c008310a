package mapping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/orbit/pkg/models"
)

// dateFallbacks are tried after the declared layout when parsing dates.
var dateFallbacks = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// maxExactInt bounds the integers a float64 holds without rounding.
const maxExactInt = 1 << 53

// Coerce converts v to the declared type. Dates are normalized to UTC.
// Numbers are always float64; NaN, infinities and integers beyond 2^53 are
// refused rather than rounded.
func Coerce(v interface{}, t models.FieldType, layout string) (interface{}, error) {
	if layout == "" {
		layout = time.RFC3339Nano
	}
	switch t {
	case models.FieldTypeAny:
		return v, nil
	case models.FieldTypeString:
		return toString(v, layout)
	case models.FieldTypeNumber:
		return toNumber(v)
	case models.FieldTypeBoolean:
		return toBool(v)
	case models.FieldTypeDate:
		return toDate(v, layout)
	}
	return nil, fmt.Errorf("unknown field type %q", t)
}

func toString(v interface{}, layout string) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(layout), nil
	case json.Number:
		return x.String(), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	if s, ok := formatInteger(v); ok {
		return s, nil
	}
	if f, ok := asFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return nil, fmt.Errorf("cannot convert %T to string", v)
}

func toNumber(v interface{}) (interface{}, error) {
	var f float64
	switch x := v.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", x)
		}
		f = parsed
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to number", x.String())
		}
		f = parsed
	case bool:
		if x {
			return float64(1), nil
		}
		return float64(0), nil
	default:
		parsed, ok := asFloat(v)
		if !ok {
			if _, isInt := formatInteger(v); isInt {
				return nil, fmt.Errorf("integer %v exceeds the exact number range", v)
			}
			return nil, fmt.Errorf("cannot convert %T to number", v)
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", v)
	}
	return f, nil
}

func toBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		}
		return nil, fmt.Errorf("cannot convert %q to boolean", x)
	}
	if f, ok := asFloat(v); ok {
		switch f {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
		return nil, fmt.Errorf("cannot convert %v to boolean", f)
	}
	return nil, fmt.Errorf("cannot convert %T to boolean", v)
}

func toDate(v interface{}, layout string) (interface{}, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
		for _, fallback := range dateFallbacks {
			if t, err := time.Parse(fallback, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("cannot parse %q as date", x)
	}
	if f, ok := asFloat(v); ok {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to date", v)
}

// asFloat widens numeric values. Integers outside ±2^53 are not widened.
func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return exactInt(int64(x))
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return exactInt(x)
	case uint:
		return exactUint(uint64(x))
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return exactUint(x)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

func exactInt(x int64) (float64, bool) {
	if x > maxExactInt || x < -maxExactInt {
		return 0, false
	}
	return float64(x), true
}

func exactUint(x uint64) (float64, bool) {
	if x > maxExactInt {
		return 0, false
	}
	return float64(x), true
}

func formatInteger(v interface{}) (string, bool) {
	switch x := v.(type) {
	case int:
		return strconv.FormatInt(int64(x), 10), true
	case int8:
		return strconv.FormatInt(int64(x), 10), true
	case int16:
		return strconv.FormatInt(int64(x), 10), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint8:
		return strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	}
	return "", false
}
