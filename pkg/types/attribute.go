package types

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Attribute instantiates a Schema for one Entity. A relation attribute points
// at DestinationID. Deleted attributes are tombstones: they keep their values
// but are excluded from every read.
type Attribute struct {
	AttributeID   string    `json:"attribute_id"`
	EntityID      string    `json:"entity_id"`
	Code          string    `json:"code"`
	Title         string    `json:"title"`
	SchemaID      string    `json:"schema_id"`
	IsMultiple    bool      `json:"is_multiple"`
	IsRelation    bool      `json:"is_relation"`
	DestinationID string    `json:"destination_id,omitempty"`
	IsTimeSeries  bool      `json:"is_time_series"`
	Deleted       bool      `json:"deleted"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BindSchema copies the schema-derived flags onto the attribute.
func (a *Attribute) BindSchema(s *Schema) {
	a.SchemaID = s.SchemaID
	a.IsMultiple = s.IsMultiple
	a.IsRelation = s.IsRelation
	a.IsTimeSeries = s.IsTimeSeries
	if a.Title == "" {
		a.Title = s.Title
	}
}

// Value is one stored datum of an attribute. EntityID, Code and UniqueScope
// are denormalized from the attribute and schema so the store can enforce
// uniqueness with indexes.
type Value struct {
	ValueID     string      `json:"value_id"`
	AttributeID string      `json:"attribute_id"`
	EntityID    string      `json:"entity_id"`
	Code        string      `json:"code"`
	UniqueScope UniqueScope `json:"unique_scope"`
	Value       any         `json:"value"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ValueKey returns the canonical JSON encoding of a payload used for equality
// lookups. Null payloads have no key.
func ValueKey(v any) (string, bool, error) {
	if v == nil {
		return "", false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false, errors.Wrap(ErrInvalidData, err.Error())
	}
	if string(b) == "null" {
		return "", false, nil
	}
	return string(b), true, nil
}

// MigrationCheckpoint tracks an in-flight class migration so it can resume
// after the last fully processed entity.
type MigrationCheckpoint struct {
	ClassID      string    `json:"class_id"`
	LastEntityID string    `json:"last_entity_id"`
	Added        []string  `json:"added"`
	Removed      []string  `json:"removed"`
	Updated      []string  `json:"updated"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
