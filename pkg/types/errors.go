package types

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Engine error taxonomy. Callers match these with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrNotUnique          = errors.New("value is not unique")
	ErrConflict           = errors.New("conflict")
	ErrHasIncomingLinks   = errors.New("entity has incoming links")
	ErrInvalidFieldType   = errors.New("invalid field type")
	ErrSchemaResolution   = errors.New("schema resolution failed")
	ErrMigration          = errors.New("migration error")
	ErrValidation         = errors.New("validation failed")
	ErrFutureTimestamp    = errors.New("timestamp is in the future")
	ErrInvalidID          = errors.New("invalid ID")
	ErrInvalidData        = errors.New("invalid data")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidVersion     = errors.New("invalid version")
	ErrInvalidFilter      = errors.New("invalid filter value type")
	ErrInvalidParent      = errors.New("invalid parent class")
	ErrInvalidValidator   = errors.New("invalid validator")
	ErrMissingDestination = errors.New("relation attribute requires a destination")
)

// Storage lifecycle errors.
var (
	ErrDetached        = errors.New("storage is detached")
	ErrAlreadyAttached = errors.New("storage is already attached")
	ErrTableNotFound   = errors.New("table not found")
)

// ValidationError is one field-addressed violation. Field is the attribute
// code, optionally followed by a JSON pointer into the value ("tags/2").
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every violation found in one validation pass.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(v), strings.Join(msgs, "; "))
}

// Is reports ErrValidation so callers can match the whole list.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// ByField groups the messages by field.
func (v ValidationErrors) ByField() map[string][]string {
	out := make(map[string][]string)
	for _, e := range v {
		out[e.Field] = append(out[e.Field], e.Message)
	}
	return out
}

// MigrationError records a conversion or rebind failure for one attribute of
// one entity. Migration logs it and carries on.
type MigrationError struct {
	EntityID string
	Code     string
	From     FieldType
	To       FieldType
	Err      error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migrating %s.%s from %s to %s: %v", e.EntityID, e.Code, e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

func (e *MigrationError) Is(target error) bool { return target == ErrMigration }
