package datamodel

import "fmt"

// NoSuchPathError is raised by the schema registry, the instance store, and
// the path resolver whenever a path has no corresponding schema entry (or, in
// the store, no corresponding row).
type NoSuchPathError struct {
	Path string
}

func (e *NoSuchPathError) Error() string {
	return fmt.Sprintf("no such path: %s", e.Path)
}

// NewNoSuchPathError builds a NoSuchPathError for path.
func NewNoSuchPathError(path string) error {
	return &NoSuchPathError{Path: path}
}

// NotWritableError is raised when a Set targets a read-only parameter.
type NotWritableError struct {
	Path string
}

func (e *NotWritableError) Error() string {
	return fmt.Sprintf("parameter is not writable: %s", e.Path)
}

// NotImplementedError is raised by insert/delete against a schema-supported
// row shape this store does not yet know how to build or tear down.
type NotImplementedError struct {
	Path string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("not implemented: %s", e.Path)
}
