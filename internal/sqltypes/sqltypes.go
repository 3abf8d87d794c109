package sqltypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type JSONStringSlice []string

func (s JSONStringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}

	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONStringSlice: could not encode value as JSON: %w", err)
	}

	return string(b), nil
}

func (s *JSONStringSlice) Scan(src interface{}) error {
	switch src := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		if err := json.Unmarshal(src, s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	case string:
		if err := json.Unmarshal([]byte(src), s); err != nil {
			return fmt.Errorf("sqltypes.JSONStringSlice: could not decode input (%T) as JSON: %w", src, err)
		}
		return nil
	default:
		return fmt.Errorf("sqltypes.JSONStringSlice: could not scan input type of %T", src)
	}
}

// JSONObject is a free-form JSON object column. A nil map is stored as
// "{}" and read back as an empty map.
type JSONObject map[string]interface{}

func (o JSONObject) Value() (driver.Value, error) {
	if len(o) == 0 {
		return "{}", nil
	}

	b, err := json.Marshal(map[string]interface{}(o))
	if err != nil {
		return nil, fmt.Errorf("sqltypes.JSONObject: could not encode value as JSON: %w", err)
	}

	return string(b), nil
}

func (o *JSONObject) Scan(src interface{}) error {
	var b []byte

	switch src := src.(type) {
	case nil:
		*o = JSONObject{}
		return nil
	case []byte:
		b = src
	case string:
		b = []byte(src)
	default:
		return fmt.Errorf("sqltypes.JSONObject: could not scan input type of %T", src)
	}

	m := make(map[string]interface{})
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("sqltypes.JSONObject: could not decode input as JSON: %w", err)
	}

	*o = m

	return nil
}
