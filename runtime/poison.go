package runtime

import (
	"reflect"

	"go.uber.org/multierr"
)

// Poison is the failure carried by a value computed from several failed
// operands.
type Poison struct {
	errs []error
}

// NewPoison combines errs. Nested poisons and multierr values are flattened
// and repeated errors dropped. A single remaining error is returned as is.
func NewPoison(errs ...error) error {
	var flat []error
	seen := make(map[error]bool)
	var add func(err error)
	add = func(err error) {
		switch e := err.(type) {
		case nil:
			return
		case *Poison:
			for _, inner := range e.errs {
				add(inner)
			}
			return
		}
		if inner := multierr.Errors(err); len(inner) > 1 {
			for _, e := range inner {
				add(e)
			}
			return
		}
		if reflect.TypeOf(err).Comparable() {
			if seen[err] {
				return
			}
			seen[err] = true
		}
		flat = append(flat, err)
	}
	for _, err := range errs {
		add(err)
	}
	switch len(flat) {
	case 0:
		return nil
	case 1:
		return flat[0]
	}
	return &Poison{errs: flat}
}

// Errors returns the individual failures.
func (p *Poison) Errors() []error {
	return p.errs
}

func (p *Poison) Error() string {
	return multierr.Combine(p.errs...).Error()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (p *Poison) Unwrap() []error {
	return p.errs
}
