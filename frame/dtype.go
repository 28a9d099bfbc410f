package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/tessera/errors"
)

// DType is the logical type of a column.
type DType int

const (
	Int64 DType = iota
	Float64
	Boolean
	String
	Datetime
)

var dtypeNames = [...]string{"Int64", "Float64", "Boolean", "String", "Datetime"}

func (d DType) String() string {
	if d < 0 || int(d) >= len(dtypeNames) {
		return fmt.Sprintf("DType(%d)", int(d))
	}
	return dtypeNames[d]
}

// IsNumeric reports whether statistics such as mean apply to the type.
func (d DType) IsNumeric() bool {
	return d == Int64 || d == Float64
}

// ParseDType accepts the canonical names plus common aliases, case-insensitive.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int64", "int", "integer", "i64":
		return Int64, nil
	case "float64", "float", "double", "f64", "number":
		return Float64, nil
	case "boolean", "bool":
		return Boolean, nil
	case "string", "str", "utf8", "text":
		return String, nil
	case "datetime", "timestamp", "date":
		return Datetime, nil
	}
	return 0, errors.NewInvalidRequestError("unknown dtype %q", s)
}

func (d DType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DType) UnmarshalText(b []byte) error {
	parsed, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Layouts tried, in order, when reading text as a timestamp.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006 15:04:05",
}

// ParseTime parses s with the first matching layout, returning UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ToFloat converts a numeric cell to float64. Null and non-numeric cells report false.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case int32:
		return float64(x), true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

// FormatValue renders a cell for display and for string casts. Null renders empty.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

// CastValue converts v to the representation of dtype.
// Values that cannot be represented become null rather than failing the scan.
func CastValue(v any, to DType) any {
	if v == nil {
		return nil
	}
	switch to {
	case String:
		return FormatValue(v)
	case Int64:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil
			}
			return int64(x)
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return int64(f)
			}
		case time.Time:
			return x.UnixMilli()
		}
	case Float64:
		if f, ok := ToFloat(v); ok {
			return f
		}
		switch x := v.(type) {
		case bool:
			if x {
				return 1.0
			}
			return 0.0
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	case Boolean:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case float64:
			return x != 0
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b
			}
		}
	case Datetime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC()
		case int64:
			return time.UnixMilli(x).UTC()
		case string:
			if t, ok := ParseTime(x); ok {
				return t
			}
		}
	}
	return nil
}
