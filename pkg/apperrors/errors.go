package apperrors

import "errors"

var (
	// ErrConnection indicates the source database could not be reached or
	// authenticated against. Not retried at this layer.
	ErrConnection = errors.New("connection failed")

	// ErrIntrospection indicates schema enumeration failed. Partial results
	// are allowed; the cache entry stays invalidated.
	ErrIntrospection = errors.New("schema introspection failed")

	// ErrUnknownEntity indicates the requested table or collection is absent
	// from the cached schema.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrValidation indicates a malformed payload for the requested operation.
	ErrValidation = errors.New("invalid payload")

	// ErrExecution indicates the underlying engine rejected the operation.
	ErrExecution = errors.New("execution failed")

	// ErrTimeout indicates an engine call exceeded its bound.
	ErrTimeout = errors.New("operation timed out")

	// ErrUnsupported indicates the engine cannot provide the requested
	// capability (e.g. collection enumeration on a locked-down server).
	ErrUnsupported = errors.New("capability not supported")
)
