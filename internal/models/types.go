package models

import (
	"database/sql/driver"
	"encoding/json"
)

// JSONB custom type for PostgreSQL jsonb columns.
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(j))
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}

// StringArray custom type for PostgreSQL text[] columns.
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return "{" + stringArrayJoin(s) + "}", nil
}

func stringArrayJoin(arr []string) string {
	result := ""
	for i, v := range arr {
		if i > 0 {
			result += ","
		}
		result += "\"" + v + "\""
	}
	return result
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return s.parsePostgresArray(string(v))
	case string:
		return s.parsePostgresArray(v)
	}
	return nil
}

func (s *StringArray) parsePostgresArray(str string) error {
	if str == "{}" || str == "" {
		*s = []string{}
		return nil
	}

	str = str[1 : len(str)-1]

	var result []string
	var current string
	inQuotes := false

	for _, char := range str {
		switch char {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				result = append(result, current)
				current = ""
			} else {
				current += string(char)
			}
		default:
			current += string(char)
		}
	}

	if current != "" {
		result = append(result, current)
	}

	*s = result
	return nil
}

// Contains reports whether the array holds v.
func (s StringArray) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}
