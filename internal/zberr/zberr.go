// Package zberr defines the error taxonomy surfaced by the core engine.
//
// Every error the engine returns to a caller is one of the five variants
// below, constructed directly at the site that detects the failure.
// Callers discriminate with errors.As rather than string matching.
package zberr

import "fmt"

// StoreCorruption reports any I/O or schema-integrity failure in the
// BlobCache, Cellar, Database, Linker, or Relocator that must abort the
// current command.
type StoreCorruption struct {
	Message string
	Err     error
}

func (e *StoreCorruption) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store corruption: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("store corruption: %s", e.Message)
}

func (e *StoreCorruption) Unwrap() error { return e.Err }

// StoreCorruptionf constructs a StoreCorruption with a formatted message.
func StoreCorruptionf(format string, args ...any) *StoreCorruption {
	return &StoreCorruption{Message: fmt.Sprintf(format, args...)}
}

// WrapStoreCorruption wraps an underlying error as a StoreCorruption.
func WrapStoreCorruption(err error, message string) *StoreCorruption {
	return &StoreCorruption{Message: message, Err: err}
}

// NotInstalled reports that an operation expected a keg that is absent.
type NotInstalled struct {
	Name string
}

func (e *NotInstalled) Error() string {
	return fmt.Sprintf("%q is not installed", e.Name)
}

// LinkConflict reports a prefix path that already exists and is not owned
// by the current install.
type LinkConflict struct {
	Path  string
	Owner string
}

func (e *LinkConflict) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("%s already exists", e.Path)
	}
	return fmt.Sprintf("%s already exists (owned by %s)", e.Path, e.Owner)
}

// ResolutionFailed reports that the download collaborator could not
// produce a bottle for a formula.
type ResolutionFailed struct {
	Name   string
	Reason string
}

func (e *ResolutionFailed) Error() string {
	return fmt.Sprintf("could not resolve %q: %s", e.Name, e.Reason)
}

// Bootstrap reports that init/reset could not set up <root> or <prefix>.
type Bootstrap struct {
	Message string
	Err     error
}

func (e *Bootstrap) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bootstrap failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("bootstrap failed: %s", e.Message)
}

func (e *Bootstrap) Unwrap() error { return e.Err }
