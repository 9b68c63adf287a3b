package models

import (
	"errors"
	"fmt"
)

var (
	ErrEngineNotReady = errors.New("analytical engine is not initialized")
	ErrEngineClosed   = errors.New("analytical engine is closed")
	ErrBusy           = errors.New("another dataset operation is in progress")
)

// IngestionError reports a file that could not be decoded as tabular data.
type IngestionError struct {
	File string
	Err  error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("File %s: cannot be read as a spreadsheet - %v", e.File, e.Err)
	}
	return fmt.Sprintf("File %s: cannot be read as a spreadsheet", e.File)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// StorageError reports a failed row store operation. A failed replace leaves the previous
// dataset in place.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("row store %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EngineInitError reports a failed engine start or batch load. The engine has been torn down.
type EngineInitError struct {
	Stage string
	Batch int
	Err   error
}

func (e *EngineInitError) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("engine initialization failed at %s (batch %d): %v", e.Stage, e.Batch, e.Err)
	}
	return fmt.Sprintf("engine initialization failed at %s: %v", e.Stage, e.Err)
}

func (e *EngineInitError) Unwrap() error { return e.Err }

// QueryError reports a read that could not be answered, including reads against an engine that
// is not ready.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
