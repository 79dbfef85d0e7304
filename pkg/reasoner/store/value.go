package store

import (
	"fmt"
	"strconv"

	"github.com/cognicore/graphreason/pkg/reasoner/internalerr"
)

// Value type names used in schema definitions and persisted rows.
const (
	ValueString  = "string"
	ValueLong    = "long"
	ValueDouble  = "double"
	ValueBoolean = "boolean"
)

// EncodeValue renders an attribute value for persistence.
func EncodeValue(v any) (valueType, text string, err error) {
	switch x := v.(type) {
	case nil:
		return "", "", nil
	case string:
		return ValueString, x, nil
	case bool:
		return ValueBoolean, strconv.FormatBool(x), nil
	case int:
		return ValueLong, strconv.FormatInt(int64(x), 10), nil
	case int32:
		return ValueLong, strconv.FormatInt(int64(x), 10), nil
	case int64:
		return ValueLong, strconv.FormatInt(x, 10), nil
	case float32:
		return ValueDouble, strconv.FormatFloat(float64(x), 'g', -1, 64), nil
	case float64:
		return ValueDouble, strconv.FormatFloat(x, 'g', -1, 64), nil
	}
	return "", "", fmt.Errorf("unsupported attribute value %T: %w", v, internalerr.ErrInvalidInput)
}

// DecodeValue parses a persisted attribute value.
func DecodeValue(valueType, text string) (any, error) {
	switch valueType {
	case "":
		return nil, nil
	case ValueString:
		return text, nil
	case ValueBoolean:
		return strconv.ParseBool(text)
	case ValueLong:
		return strconv.ParseInt(text, 10, 64)
	case ValueDouble:
		return strconv.ParseFloat(text, 64)
	}
	return nil, fmt.Errorf("unknown value type %q: %w", valueType, internalerr.ErrInvalidInput)
}

// NormalizeValue converts a value to the canonical Go type of valueType, so
// YAML integers and Go ints compare and persist the same way.
func NormalizeValue(valueType string, v any) (any, error) {
	vt, text, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	if valueType == "" {
		valueType = vt
	}
	if vt == ValueLong && valueType == ValueDouble {
		vt = ValueDouble
	}
	if vt != valueType {
		return nil, fmt.Errorf("value %v is %s, want %s: %w", v, vt, valueType, internalerr.ErrInvalidInput)
	}
	return DecodeValue(valueType, text)
}
