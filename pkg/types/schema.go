package types

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// FieldType is the storage-level code of a schema's value type. The mapping
// between codes and names is fixed; codes are persisted.
type FieldType int

// Field types.
const (
	FieldNested FieldType = iota
	FieldBoolean
	FieldDate
	FieldDateTime
	FieldDecimal
	FieldEmail
	FieldEnum
	FieldFloat
	FieldIP
	FieldInteger
	FieldRaw
	FieldString
	FieldTime
	FieldTimeDuration
	FieldURL
	FieldUUID
	FieldList
)

var fieldTypeNames = map[FieldType]string{
	FieldNested:       "nested",
	FieldBoolean:      "boolean",
	FieldDate:         "date",
	FieldDateTime:     "datetime",
	FieldDecimal:      "decimal",
	FieldEmail:        "email",
	FieldEnum:         "enum",
	FieldFloat:        "float",
	FieldIP:           "ip",
	FieldInteger:      "integer",
	FieldRaw:          "raw",
	FieldString:       "string",
	FieldTime:         "time",
	FieldTimeDuration: "timeduration",
	FieldURL:          "url",
	FieldUUID:         "uuid",
	FieldList:         "list",
}

var fieldTypesByName = func() map[string]FieldType {
	m := make(map[string]FieldType, len(fieldTypeNames))
	for ft, name := range fieldTypeNames {
		m[name] = ft
	}
	return m
}()

// FieldTypeFromCode maps a persisted code to a FieldType.
// Returns ErrInvalidFieldType for unmapped codes.
func FieldTypeFromCode(code int) (FieldType, error) {
	ft := FieldType(code)
	if _, ok := fieldTypeNames[ft]; !ok {
		return 0, errors.Wrapf(ErrInvalidFieldType, "code %d", code)
	}
	return ft, nil
}

// ParseFieldType maps a field type name ("string", "integer", ...) to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	ft, ok := fieldTypesByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidFieldType, "%q", name)
	}
	return ft, nil
}

// Valid reports whether ft is a mapped field type.
func (ft FieldType) Valid() bool {
	_, ok := fieldTypeNames[ft]
	return ok
}

func (ft FieldType) String() string {
	if name, ok := fieldTypeNames[ft]; ok {
		return name
	}
	return "unknown"
}

func (ft FieldType) MarshalText() ([]byte, error) {
	if !ft.Valid() {
		return nil, errors.Wrapf(ErrInvalidFieldType, "code %d", int(ft))
	}
	return []byte(ft.String()), nil
}

func (ft *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*ft = parsed
	return nil
}

// UniqueScope is the per-schema value uniqueness policy.
type UniqueScope int

// Uniqueness scopes. Global: a value may appear once per attribute code across
// all entities. Entity: a value may appear once per attribute code within
// one entity.
const (
	UniqueNone UniqueScope = iota
	UniqueGlobal
	UniqueEntity
)

var uniqueScopeNames = map[UniqueScope]string{
	UniqueNone:   "none",
	UniqueGlobal: "global",
	UniqueEntity: "entity",
}

func (u UniqueScope) String() string {
	if name, ok := uniqueScopeNames[u]; ok {
		return name
	}
	return "unknown"
}

func (u UniqueScope) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UniqueScope) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "" {
		*u = UniqueNone
		return nil
	}
	for scope, name := range uniqueScopeNames {
		if name == s {
			*u = scope
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidData, "unknown unique scope %q", s)
}

// Schema is a versioned field definition. Identity is (Name, Version).
// Once an entity class references a Schema it is never mutated in place.
type Schema struct {
	SchemaID     string      `json:"schema_id"`
	Name         string      `json:"name"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Version      string      `json:"version"`
	FieldType    FieldType   `json:"field_type"`
	IsMultiple   bool        `json:"is_multiple"`
	IsTimeSeries bool        `json:"is_time_series"`
	IsRelation   bool        `json:"is_relation"`
	UniqueScope  UniqueScope `json:"unique_scope"`
	Validators   []Validator `json:"validators,omitempty"`
	Default      any         `json:"default,omitempty"`
	Ref          string      `json:"$ref,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// DefaultVersion is assigned to new schemas saved without a version.
const DefaultVersion = "1.0"

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validate checks the schema definition itself (not a value against it).
func (s *Schema) Validate() error {
	if !schemaNamePattern.MatchString(s.Name) {
		return errors.Wrapf(ErrInvalidName, "schema name %q must be letters, digits, '-' or '_'", s.Name)
	}
	if !s.FieldType.Valid() {
		return errors.Wrapf(ErrInvalidFieldType, "code %d", int(s.FieldType))
	}
	if s.IsRelation && s.FieldType != FieldUUID {
		return errors.Wrapf(ErrInvalidData, "relation schema %q must use field type uuid", s.Name)
	}
	if _, ok := uniqueScopeNames[s.UniqueScope]; !ok {
		return errors.Wrapf(ErrInvalidData, "unique scope %d", int(s.UniqueScope))
	}
	for i, v := range s.Validators {
		if err := v.Validate(); err != nil {
			return errors.Wrapf(err, "validator %d", i)
		}
	}
	return nil
}

// Copy returns a deep copy of the schema definition.
func (s *Schema) Copy() *Schema {
	cp := *s
	cp.Validators = make([]Validator, len(s.Validators))
	for i, v := range s.Validators {
		cp.Validators[i] = v.Copy()
	}
	return &cp
}

// HasDefault reports whether the schema declares a default value.
func (s *Schema) HasDefault() bool {
	return s.Default != nil
}

// Document renders the schema as the JSON-shaped structure exchanged at the
// engine boundary. Multiple-valued schemas become an array of the field type.
func (s *Schema) Document() SchemaDocument {
	doc := SchemaDocument{
		Ref:         s.Ref,
		Name:        s.Name,
		Title:       s.Title,
		Description: s.Description,
		Version:     s.Version,
		Type:        s.FieldType.String(),
		TimeSeries:  s.IsTimeSeries,
		Relation:    s.IsRelation,
		Unique:      s.UniqueScope.String(),
		Validators:  s.Validators,
		Default:     s.Default,
	}
	if s.IsMultiple {
		doc.Items = &SchemaDocument{Type: doc.Type}
		doc.Type = ArrayType
	}
	return doc
}

// ArrayType is the document type of multiple-valued schemas.
const ArrayType = "array"

// SchemaDocument is the boundary representation of a schema:
// {type, title, validators: [{type, params}], ...}. It may carry a remote
// reference in "$ref" that is dereferenced before validation.
type SchemaDocument struct {
	Ref         string          `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Name        string          `json:"name,omitempty" yaml:"name,omitempty"`
	Title       string          `json:"title,omitempty" yaml:"title,omitempty"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string          `json:"version,omitempty" yaml:"version,omitempty"`
	Type        string          `json:"type,omitempty" yaml:"type,omitempty"`
	Items       *SchemaDocument `json:"items,omitempty" yaml:"items,omitempty"`
	TimeSeries  bool            `json:"time_series,omitempty" yaml:"time_series,omitempty"`
	Relation    bool            `json:"relation,omitempty" yaml:"relation,omitempty"`
	Unique      string          `json:"unique,omitempty" yaml:"unique,omitempty"`
	Validators  []Validator     `json:"validators,omitempty" yaml:"validators,omitempty"`
	Default     any             `json:"default,omitempty" yaml:"default,omitempty"`
}

// Schema converts the document to a Schema definition (without identity).
// Returns ErrInvalidFieldType when the type or item type is not mapped.
func (d SchemaDocument) Schema() (*Schema, error) {
	s := &Schema{
		Name:         d.Name,
		Title:        d.Title,
		Description:  d.Description,
		Version:      d.Version,
		IsTimeSeries: d.TimeSeries,
		IsRelation:   d.Relation,
		Validators:   d.Validators,
		Default:      d.Default,
		Ref:          d.Ref,
	}
	typeName := d.Type
	if typeName == ArrayType {
		if d.Items == nil {
			return nil, errors.Wrap(ErrInvalidFieldType, "array schema without items")
		}
		s.IsMultiple = true
		typeName = d.Items.Type
	}
	if typeName == "" && d.Ref != "" {
		typeName = FieldRaw.String()
	}
	ft, err := ParseFieldType(typeName)
	if err != nil {
		return nil, err
	}
	s.FieldType = ft
	if err := s.UniqueScope.UnmarshalText([]byte(d.Unique)); err != nil {
		return nil, err
	}
	if s.Title == "" {
		s.Title = s.Name
	}
	return s, nil
}
