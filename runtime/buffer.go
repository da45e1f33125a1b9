package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/geleto/cascada/errors"
)

// TextHandler names the implicit handler receiving template text.
const TextHandler = "text"

// Buffer is one nesting level of output. Items are text strings, nested
// buffers, commands and poison markers, kept in document order.
type Buffer struct {
	mu    sync.Mutex
	items []any
}

// Command is an output command addressed to a named handler.
type Command struct {
	Handler string
	Method  string
	Args    []any
}

// PoisonMarker records that output for Handler failed. An empty Handler
// marks a failure no handler or variable carries.
type PoisonMarker struct {
	Handler string
	Err     error
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Write appends text.
func (b *Buffer) Write(s string) {
	if s == "" {
		return
	}
	b.add(s)
}

// Reserve appends a nested buffer and returns it. The nested buffer keeps
// its position however late it is filled.
func (b *Buffer) Reserve() *Buffer {
	c := NewBuffer()
	b.add(c)
	return c
}

// Command appends a command for handler.
func (b *Buffer) Command(handler, method string, args []any) {
	b.add(Command{Handler: handler, Method: method, Args: args})
}

// Poison appends a poison marker for handler.
func (b *Buffer) Poison(handler string, err error) {
	b.add(PoisonMarker{Handler: handler, Err: err})
}

func (b *Buffer) add(item any) {
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
}

func (b *Buffer) snapshot() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]any, len(b.items))
	copy(out, b.items)
	return out
}

// Poisoned returns the errors of the markers, at any depth, whose handler
// match accepts.
func (b *Buffer) Poisoned(match func(handler string) bool) []error {
	var errs []error
	for _, item := range b.snapshot() {
		switch it := item.(type) {
		case *Buffer:
			errs = append(errs, it.Poisoned(match)...)
		case PoisonMarker:
			if match(it.Handler) {
				errs = append(errs, it.Err)
			}
		}
	}
	return errs
}

// Strip removes, at any depth, every entry addressed to a handler match
// accepts: text for the text handler, commands and markers for theirs.
func (b *Buffer) Strip(match func(handler string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.items[:0]
	for _, item := range b.items {
		switch it := item.(type) {
		case string:
			if match(TextHandler) {
				continue
			}
		case *Buffer:
			it.Strip(match)
		case Command:
			if match(it.Handler) {
				continue
			}
		case PoisonMarker:
			if match(it.Handler) {
				continue
			}
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(b.items); i++ {
		b.items[i] = nil
	}
	b.items = kept
}

// Flatten writes b depth-first into the handlers of out. It returns every
// failure found: poison markers, unknown handlers and rejected commands.
func (b *Buffer) Flatten(out *Outputs) error {
	var errs []error
	b.flatten(out, &errs)
	return NewPoison(errs...)
}

func (b *Buffer) flatten(out *Outputs, errs *[]error) {
	for _, item := range b.snapshot() {
		switch it := item.(type) {
		case string:
			out.text.WriteString(it)
		case *Buffer:
			it.flatten(out, errs)
		case Command:
			h, err := out.handler(it.Handler)
			if err == nil {
				err = h.Command(it.Method, it.Args)
			}
			if err != nil {
				*errs = append(*errs, commandError(it, err))
			}
		case PoisonMarker:
			*errs = append(*errs, it.Err)
		}
	}
}

func commandError(c Command, err error) error {
	if _, ok := err.(*errors.Error); ok {
		return err
	}
	return errors.New(errors.PhaseRender, errors.KindInvalidCommand).
		Context("@" + c.Handler + "." + c.Method).
		Cause(err).
		Build()
}

// flattenText renders b as text only, as used for captured bodies and macro
// calls. Commands for other handlers are dropped.
func flattenText(b *Buffer) (string, error) {
	out := newOutputs(nil)
	var errs []error
	b.flattenTextOnly(out, &errs)
	return out.text.String(), NewPoison(errs...)
}

func (b *Buffer) flattenTextOnly(out *Outputs, errs *[]error) {
	for _, item := range b.snapshot() {
		switch it := item.(type) {
		case string:
			out.text.WriteString(it)
		case *Buffer:
			it.flattenTextOnly(out, errs)
		case Command:
			if it.Handler == TextHandler {
				if err := out.text.Command(it.Method, it.Args); err != nil {
					*errs = append(*errs, commandError(it, err))
				}
				continue
			}
			Logger().Debug("command dropped from captured output", zap.String("handler", it.Handler))
		case PoisonMarker:
			*errs = append(*errs, it.Err)
		}
	}
}
