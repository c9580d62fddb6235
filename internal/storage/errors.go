package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("download not found")
	ErrAlreadyExists = errors.New("download already exists")
)

// OperationError is returned by repositories when a backend call fails.
type OperationError struct {
	Op  string // The repository operation, e.g. "create_download"
	ID  uint32 // The download id involved, 0 for bulk operations
	Err error  // Underlying error
}

func (e *OperationError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("%s for download %d: %v", e.Op, e.ID, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
