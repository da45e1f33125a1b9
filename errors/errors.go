package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // template source to AST
	PhaseAnalyze  Phase = "analyze"  // async propagation and sequence locks
	PhaseCompile  Phase = "compile"  // AST to IR
	PhaseRender   Phase = "render"   // IR execution
	PhaseLoad     Phase = "load"     // template loading
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseInternal Phase = "internal" // compiler consistency checks
)

// Kind categorizes the error
type Kind string

const (
	KindSyntax         Kind = "syntax"
	KindSequence       Kind = "sequence"
	KindUndefinedLock  Kind = "undefined_lock"
	KindDuplicateBlock Kind = "duplicate_block"
	KindInvalidCommand Kind = "invalid_command"
	KindTypeMismatch   Kind = "type_mismatch"
	KindNotFound       Kind = "not_found"
	KindCall           Kind = "call"
	KindPoison         Kind = "poison"
	KindInternal       Kind = "internal"
	KindInvalidInput   Kind = "invalid_input"
	KindCancelled      Kind = "cancelled"
	KindLimit          Kind = "limit"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Template string
	Context  string
	Detail   string
	Line     int
	Col      int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Template != "" || e.Line > 0 {
		b.WriteString(" at ")
		if e.Template != "" {
			b.WriteString(e.Template)
		}
		if e.Line > 0 {
			if e.Template != "" {
				b.WriteByte(':')
			}
			b.WriteString(strconv.Itoa(e.Line))
			b.WriteByte(':')
			b.WriteString(strconv.Itoa(e.Col))
		}
	}

	if e.Context != "" {
		b.WriteString(" in ")
		b.WriteString(e.Context)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// HasPosition reports whether the error points at template source.
func (e *Error) HasPosition() bool {
	return e.Line > 0
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Template sets the template name
func (b *Builder) Template(name string) *Builder {
	b.err.Template = name
	return b
}

// At sets the source position
func (b *Builder) At(line, col int) *Builder {
	b.err.Line = line
	b.err.Col = col
	return b
}

// Context sets the human-readable construct description
func (b *Builder) Context(ctx string) *Builder {
	b.err.Context = ctx
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Syntax creates a parse error at a source position
func Syntax(template string, line, col int, detail string) *Error {
	return &Error{
		Phase:    PhaseParse,
		Kind:     KindSyntax,
		Template: template,
		Line:     line,
		Col:      col,
		Detail:   detail,
	}
}

// Sequence creates a sequence-marker misuse error
func Sequence(line, col int, context, detail string) *Error {
	return &Error{
		Phase:   PhaseAnalyze,
		Kind:    KindSequence,
		Line:    line,
		Col:     col,
		Context: context,
		Detail:  detail,
	}
}

// UndefinedLock creates an error for a lock usage without a defining call
func UndefinedLock(line, col int, key string) *Error {
	return &Error{
		Phase:  PhaseAnalyze,
		Kind:   KindUndefinedLock,
		Line:   line,
		Col:    col,
		Detail: fmt.Sprintf("sequence lock %q is not defined: you must define a sequential path before checking it", key),
	}
}

// DuplicateBlock creates a duplicate block definition error
func DuplicateBlock(line, col int, name string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindDuplicateBlock,
		Line:   line,
		Col:    col,
		Detail: fmt.Sprintf("block %q defined more than once", name),
	}
}

// InvalidCommand creates an invalid output command error
func InvalidCommand(line, col int, detail string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidCommand,
		Line:   line,
		Col:    col,
		Detail: detail,
	}
}

// TypeMismatch creates an error for a node in an unexpected position
func TypeMismatch(phase Phase, line, col int, context, detail string) *Error {
	return &Error{
		Phase:   phase,
		Kind:    KindTypeMismatch,
		Line:    line,
		Col:     col,
		Context: context,
		Detail:  detail,
	}
}

// Internal creates a compiler consistency error
func Internal(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseInternal,
		Kind:   KindInternal,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Render wraps a runtime failure with the location of the construct that failed
func Render(template string, line, col int, context string, cause error) *Error {
	return &Error{
		Phase:    PhaseRender,
		Kind:     KindCall,
		Template: template,
		Line:     line,
		Col:      col,
		Context:  context,
		Cause:    cause,
	}
}

// Load creates a template loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNotFound,
		Detail: detail,
		Cause:  cause,
	}
}

// Config creates a configuration error
func Config(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// WithTemplate returns a copy of err with the template name filled in, or err
// unchanged when it is not an *Error or already names a template.
func WithTemplate(err error, template string) error {
	e, ok := err.(*Error)
	if !ok || e.Template != "" {
		return err
	}
	cp := *e
	cp.Template = template
	return &cp
}
