package messages

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DataType is the declared type of a time-series value.
type DataType string

// Supported data types.
const (
	TypeBool   DataType = "bool"
	TypeInt    DataType = "int"
	TypeFloat  DataType = "float"
	TypeString DataType = "string"
	TypeArray  DataType = "array"
	TypeObject DataType = "object"
)

// DataTypes lists every supported type in display order.
var DataTypes = []DataType{TypeBool, TypeInt, TypeFloat, TypeString, TypeArray, TypeObject}

// ParseDataType validates s as a DataType.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DataTypes {
		if dt == known {
			return dt, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %v)", ErrInvalidDataType, s, DataTypes)
}

// ConvertValue converts raw command-line text to a value of type dt.
//
// Booleans accept true/1/yes/on (case-insensitive) as true and anything
// else as false. Arrays and objects must be JSON of the matching kind.
func ConvertValue(dt DataType, raw string) (any, error) {
	switch dt {
	case TypeBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "on":
			return true, nil
		default:
			return false, nil
		}
	case TypeInt:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an int", ErrInvalidValue, raw)
		}
		return v, nil
	case TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a float", ErrInvalidValue, raw)
		}
		return v, nil
	case TypeString:
		return raw, nil
	case TypeArray:
		var v []any
		if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: %q is not a JSON array", ErrInvalidValue, raw)
		}
		return v, nil
	case TypeObject:
		var v map[string]any
		if err := json.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			return nil, fmt.Errorf("%w: %q is not a JSON object", ErrInvalidValue, raw)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataType, dt)
	}
}

// ConvertValues converts every raw value, failing on the first bad one.
func ConvertValues(dt DataType, raws []string) ([]any, error) {
	values := make([]any, 0, len(raws))
	for i, raw := range raws {
		v, err := ConvertValue(dt, raw)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// Display renders an inbound payload for humans: valid JSON is
// re-indented, anything else is returned as text.
func Display(payload []byte) string {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return string(payload)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(payload)
	}
	return string(out)
}
