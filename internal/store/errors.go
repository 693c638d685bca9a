package store

import "errors"

// Sentinel errors for store operations.
var (
	ErrPersistence  = errors.New("persistence failure")
	ErrTaskNotFound = errors.New("task not found")
	ErrUnknownField = errors.New("unknown task field")
)

// PersistenceError reports a failed read or write against the database.
// errors.Is(err, ErrPersistence) matches any PersistenceError.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
