package types

// Storage is the narrow persistence collaborator behind the engine. A
// backend is attached once, hands out one Table per concept and is
// detached when the engine closes.
type Storage interface {
	// GetTable returns the table registered under name, or ErrTableNotFound.
	GetTable(name string) (Table, error)

	// Attach opens the backend and applies pending DDL. Attaching twice
	// returns ErrAlreadyAttached.
	Attach(config Config) error

	// Detach closes the backend. Calling it again is a no-op; tables
	// obtained earlier return ErrDetached afterwards.
	Detach() error
}
