package models

import (
	"database/sql/driver"
	"encoding/json"
)

// Metadata holds additional free-form context on attempt and event records
type Metadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = make(Metadata)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrBadRequest
	}

	var out map[string]interface{}
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*m = Metadata(out)
	return nil
}

// Value implements driver.Valuer for JSONB
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// MarshalJSON implements json.Marshaler
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(m))
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*m = Metadata(out)
	return nil
}
