package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONB represents a JSON document column. Postgres stores it as jsonb,
// sqlite as TEXT.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, j)
	case string:
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// APIKey is a stored API credential. The raw key is shown once at creation;
// only the bcrypt hash and the lookup prefix are persisted.
type APIKey struct {
	KeyID      string     `db:"key_id"`
	Prefix     string     `db:"prefix"`
	KeyHash    string     `db:"key_hash"`
	UserID     string     `db:"user_id"`
	Name       string     `db:"name"`
	Disabled   bool       `db:"disabled"`
	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
}

// marshalColumn serializes a value for a JSON document column. Nil maps,
// slices, and pointers become SQL NULL rather than the literal "null".
func marshalColumn(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// unmarshalColumn deserializes a JSON document column into dst. NULL columns
// leave dst untouched.
func unmarshalColumn(data []byte, dst interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
