// Package errors provides the structured error type used by parsing,
// compilation, loading and rendering.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the template name, line and column, the error context
// (the construct being compiled or evaluated) and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCompile, errors.KindSequence).
//		Template("page.njk").
//		At(3, 12).
//		Context("FunCall").
//		Detail("sequence marker on a template variable").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.UndefinedLock(line, col, "!db")
//	err := errors.NotFound(errors.PhaseRender, "filter", "shout")
//
// Is matches on Phase and Kind, so a caller can test for a category:
//
//	errors.Is(err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindNotFound})
package errors
