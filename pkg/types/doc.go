// Package types defines the Storage and Table storage interfaces, the EAVL
// model (schemas, entity classes, entities, attributes, values) and the error
// taxonomy shared by the schema registry, entity store, graph engine,
// migration engine and class registry.
//
// Entities are rows, not columns: an entity's fields are Attribute rows bound
// to versioned Schemas, and each Attribute holds one or more timestamped
// Value rows.
package types
