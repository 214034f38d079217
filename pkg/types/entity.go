package types

import "time"

// Entity is an instance of an EntityClass. EntityID is the stable UUID used
// for every external reference.
type Entity struct {
	EntityID  string    `json:"entity_id"`
	ClassID   string    `json:"class_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document is the read/write shape of an entity's data:
// {type, uuid, attributes: {code -> value-or-values}}.
type Document struct {
	Type       string         `json:"type"`
	UUID       string         `json:"uuid"`
	Attributes map[string]any `json:"attributes"`
}

// TimedValue is one entry of a time-series attribute.
type TimedValue struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// DataOptions controls Document assembly. The zero value returns every value
// of every attribute; use DefaultDataOptions for the newest-only view.
type DataOptions struct {
	LastOnly bool
	From     time.Time
	To       time.Time
}

// DefaultDataOptions returns only the newest value of each attribute.
func DefaultDataOptions() DataOptions {
	return DataOptions{LastOnly: true}
}

// Link is a directed edge: a live relation attribute of Source pointing at
// Destination.
type Link struct {
	AttributeID   string `json:"attribute_id"`
	Code          string `json:"code"`
	SourceID      string `json:"source_id"`
	DestinationID string `json:"destination_id"`
}
