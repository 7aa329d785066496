// Package errors provides structured error types for the wasm-interp library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes context: a path (section, import, or
// export names), the offending value, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindTypeMismatch).
//		Path("env", "now").
//		Detail("import signature differs from registered binding").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingImport("env", "now")
//	err := errors.OutOfBounds(errors.PhaseDecode, path, 10, 5)
//
// All errors implement the standard error interface and support errors.Is/As.
//
// Runtime traps of the interpreted program are NOT this package's concern;
// see engine.Trap.
package errors
