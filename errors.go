package sdl

import "fmt"

// Error kinds of the request surface. Each is a distinct Go type so
// handlers can discriminate with errors.As; lower layers wrap with
// fmt.Errorf("op: %w", err) throughout.

// ConfigError reports invalid caller input: a bad path, an unsupported
// language, or a path-traversal attempt. Never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// StorageError reports a transient I/O failure or constraint violation at
// the storage layer. Nothing in this package retries an operation that
// failed with it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IndexError reports a single-file parse or extract failure. It is
// recovered locally by the Indexer: logged, the file is skipped, and the
// refresh continues — it is never returned from index.refresh itself.
type IndexError struct {
	Path string
	Err  error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index error: %s: %v", e.Path, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// ValidationError reports a schema mismatch on a request payload, carrying
// the offending field so the caller can self-correct.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// PolicyError reports a denial from the external policy evaluator that
// gates raw-code access. It carries enough structure for the caller to
// self-correct without a second round trip.
type PolicyError struct {
	Message               string
	NextBestAction        string
	RequiredFieldsForNext []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy error: %s", e.Message)
}

// NotFoundError reports that a requested repo, symbol, version, or handle
// does not exist (or, for handles, has expired).
type NotFoundError struct {
	Kind string // "repo" | "symbol" | "version" | "handle"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
