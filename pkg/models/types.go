package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// StringArray is a custom type for []string with JSON marshaling for GORM/SQLite
// Implements driver.Valuer and sql.Scanner
// Use for ParticipantIDs

type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	return json.Marshal(a)
}

func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	return json.Unmarshal(bytes, a)
}

// Contains reports whether s is one of the array's elements.
func (a StringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// JSONMap is an open key/value bag stored as JSON text.
// Implements driver.Valuer and sql.Scanner.

type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	return json.Unmarshal(bytes, m)
}

// Int reads an integer-valued key, tolerating the float64 representation
// JSON round-trips produce.
func (m JSONMap) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// ContributionMap maps a participant ID to the amount that participant has
// submitted. Amounts are serialized as strings so fixed-point precision
// survives the JSON round trip.

type ContributionMap map[string]decimal.Decimal

func (c ContributionMap) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	raw := make(map[string]string, len(c))
	for k, v := range c {
		raw[k] = v.StringFixed(2)
	}
	return json.Marshal(raw)
}

func (c *ContributionMap) Scan(value interface{}) error {
	if value == nil {
		*c = ContributionMap{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	raw := map[string]string{}
	if err := json.Unmarshal(bytes, &raw); err != nil {
		return err
	}
	out := make(ContributionMap, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid contribution amount for %s: %w", k, err)
		}
		out[k] = d
	}
	*c = out
	return nil
}

// Total sums all contribution amounts.
func (c ContributionMap) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range c {
		total = total.Add(v)
	}
	return total
}
