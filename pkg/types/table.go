package types

// Filter selects rows in Table.Fetch. Keys are column names understood by the
// concrete table plus the paging keys "limit", "offset" and "order".
type Filter map[string]any

// Table provides uniform CRUD operations for a single row type.
// Get and Fetch return any; callers type-assert to the concrete struct.
type Table interface {
	// Get retrieves the row with the given ID.
	// Returns ErrNotFound if no row exists with that ID.
	Get(id string) (any, error)

	// Set creates or updates a row. When id is empty a new ID is generated.
	// Returns the actual ID used (generated or provided).
	Set(id string, data any) (string, error)

	// Delete removes the row with the given ID.
	// Returns ErrNotFound if no row exists with that ID.
	Delete(id string) error

	// Fetch returns all rows matching the filter. An empty filter
	// returns every row in the table.
	Fetch(filter Filter) ([]any, error)
}

// BatchTable is implemented by tables that can insert many rows in a single
// transaction. Either every row is stored or none is.
type BatchTable interface {
	Table
	SetMany(rows []any) ([]string, error)
}
