// Package errors provides structured error types for the wasm-devirt rewriter.
//
// Errors are categorized by Phase (which pass of the pipeline failed) and
// Kind (the category of failure). The Error type carries a field path and
// an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRewrite, errors.KindTypeMismatch).
//		Path("func", "7", "callsite", "2").
//		Detail("callees share no common signature").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBounds(errors.PhaseResolve, path, 10, 5)
//	err := errors.NotFound(errors.PhaseFastcall, "export", "_start")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
