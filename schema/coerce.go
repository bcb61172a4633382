package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the value family a field is coerced into when read back.
type Kind int

const (
	KindAny Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
	KindTime
	KindBytes
)

// KindOf maps a SQL type name to a Kind.
func KindOf(sqlType string) Kind {
	t := strings.ToLower(strings.TrimSpace(sqlType))
	if i := strings.IndexByte(t, '('); i >= 0 {
		if t == "tinyint(1)" {
			return KindBool
		}
		t = strings.TrimSpace(t[:i])
	}
	switch t {
	case "int", "integer", "bigint", "smallint", "tinyint", "int2", "int4", "int8",
		"serial", "bigserial", "smallserial":
		return KindInt
	case "real", "float", "float4", "float8", "double", "double precision":
		return KindFloat
	case "text", "varchar", "char", "character", "character varying", "string", "citext":
		return KindString
	case "bool", "boolean", "bit":
		return KindBool
	case "timestamp", "timestamptz", "timestamp with time zone", "timestamp without time zone",
		"date", "datetime", "time":
		return KindTime
	case "bytea", "blob", "binary", "varbinary":
		return KindBytes
	}
	return KindAny
}

// Coerce converts a value read from the backend into the field's Go form:
// enums become int, booleans are normalised from integer or string truthy
// encodings and integers are widened to int64.
func (f *Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Enum {
		n, err := toInt64(v)
		if err != nil {
			return nil, fmt.Errorf("enum %s: %w", f.Property, err)
		}
		return int(n), nil
	}
	switch f.Kind {
	case KindInt:
		return toInt64(v)
	case KindFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
		if n, err := toInt64(v); err == nil {
			return float64(n), nil
		}
		return v, nil
	case KindString:
		switch s := v.(type) {
		case []byte:
			return string(s), nil
		case string:
			return s, nil
		}
		return fmt.Sprint(v), nil
	case KindBool:
		return truthy(v), nil
	}
	return v, nil
}

// Encode converts a property value into the form written to the backend.
// Enums are written as integers; everything else passes through.
func (f *Field) Encode(v any) any {
	if v == nil || !f.Enum {
		return v
	}
	if n, err := toInt64(v); err == nil {
		return n
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	case string:
		return strconv.ParseInt(n, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case []byte:
		return truthyString(string(b))
	case string:
		return truthyString(b)
	}
	n, err := toInt64(v)
	return err == nil && n != 0
}

func truthyString(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	}
	return false
}

// Normalize folds a key value into a canonical comparable form: every
// integer width becomes int64, floats become float64 and byte slices become
// strings. Values from the backend and values set by callers then compare
// equal regardless of the driver's native types.
func Normalize(v any) any {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, _ := toInt64(n)
		return i
	case float32:
		return float64(n)
	case []byte:
		return string(n)
	}
	return v
}
