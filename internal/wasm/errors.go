package wasm

import "errors"

// Compile-time failures raised by the back end. All are fatal; the
// pipeline does not attempt recovery. Runtime failures are not errors
// here: they are encoded into the produced module as the sentinel
// exit code 42.
var (
	// ErrInvalidAST marks an AST variant the back end considers a
	// design-time impossibility (e.g. pointer expressions).
	ErrInvalidAST = errors.New("invalid AST node")

	// ErrUnresolvedIdentifier marks a variable reference without a
	// storage entry; it indicates a bug in typing or prior lowering.
	ErrUnresolvedIdentifier = errors.New("unresolved identifier")

	// ErrStorageKindMismatch marks a variable whose stored kind is
	// inconsistent with its use site.
	ErrStorageKindMismatch = errors.New("storage kind mismatch")

	// ErrDuplicateSymbol marks a duplicate function label or global
	// name during module construction or merging.
	ErrDuplicateSymbol = errors.New("duplicate symbol")

	// ErrConflictingImport marks two imports under the same
	// (module, name) key with different signatures.
	ErrConflictingImport = errors.New("conflicting import")

	// ErrInvalidSize marks a non-positive static allocation request.
	ErrInvalidSize = errors.New("invalid allocation size")
)
