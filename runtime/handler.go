package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/geleto/cascada/errors"
)

// DataHandler names the built-in structured output handler.
const DataHandler = "data"

// Handler receives the output commands addressed to one named output.
// A render creates a fresh handler for every name it uses.
type Handler interface {
	// Command applies one command. Method is empty for the call form
	// `@name(args)`.
	Command(method string, args []any) error
	// Result returns the assembled output.
	Result() any
}

// HandlerFactory creates a handler for one render.
type HandlerFactory func() Handler

// Outputs holds the handlers of one render.
type Outputs struct {
	text      *textHandler
	factories map[string]HandlerFactory
	handlers  map[string]Handler
}

func newOutputs(factories map[string]HandlerFactory) *Outputs {
	return &Outputs{
		text:      &textHandler{},
		factories: factories,
		handlers:  make(map[string]Handler),
	}
}

func (o *Outputs) handler(name string) (Handler, error) {
	if name == TextHandler {
		return o.text, nil
	}
	if h, ok := o.handlers[name]; ok {
		return h, nil
	}
	factory, ok := o.factories[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRender, "output handler", name)
	}
	h := factory()
	o.handlers[name] = h
	return h, nil
}

// Text returns the text output.
func (o *Outputs) Text() string {
	return o.text.String()
}

// Results returns the result of every non-text handler that received a
// command.
func (o *Outputs) Results() map[string]any {
	if len(o.handlers) == 0 {
		return nil
	}
	out := make(map[string]any, len(o.handlers))
	for name, h := range o.handlers {
		out[name] = h.Result()
	}
	return out
}

type textHandler struct {
	strings.Builder
}

func (h *textHandler) Command(method string, args []any) error {
	if method != "" {
		return fmt.Errorf("the text handler has no method %q", method)
	}
	for _, a := range args {
		h.WriteString(ToString(a))
	}
	return nil
}

func (h *textHandler) Result() any {
	return h.String()
}

// NewDataHandler returns the built-in data handler. Commands address a
// dotted path in a nested map:
//
//	@data.set("user.name", "Ada")     set a value
//	@data.push("user.tags", "admin")  append to a list
//	@data.merge("user", {"id": 7})    merge a dict into a dict
//
// An empty path addresses the root.
func NewDataHandler() Handler {
	return &dataHandler{root: make(map[string]any)}
}

type dataHandler struct {
	root map[string]any
}

func (h *dataHandler) Result() any {
	return h.root
}

func (h *dataHandler) Command(method string, args []any) error {
	if len(args) == 0 {
		return fmt.Errorf("@data.%s needs a path", method)
	}
	path, err := dataPath(args[0])
	if err != nil {
		return err
	}
	var value any
	if len(args) > 1 {
		value = args[1]
	}

	switch method {
	case "set":
		if len(path) == 0 {
			m, ok := toMap(value)
			if !ok {
				return fmt.Errorf("@data.set on the root needs a dict, got %s", typeName(value))
			}
			h.root = m
			return nil
		}
		parent, err := h.container(path[:len(path)-1])
		if err != nil {
			return err
		}
		parent[path[len(path)-1]] = value
		return nil

	case "push":
		if len(path) == 0 {
			return fmt.Errorf("@data.push needs a path")
		}
		parent, err := h.container(path[:len(path)-1])
		if err != nil {
			return err
		}
		key := path[len(path)-1]
		switch cur := parent[key].(type) {
		case nil:
			parent[key] = []any{value}
		case []any:
			parent[key] = append(cur, value)
		default:
			return fmt.Errorf("@data.push: %q holds %s, not a list", strings.Join(path, "."), typeName(cur))
		}
		return nil

	case "merge":
		src, ok := toMap(value)
		if !ok {
			return fmt.Errorf("@data.merge needs a dict, got %s", typeName(value))
		}
		dst, err := h.container(path)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst[k] = src[k]
		}
		return nil
	}
	return fmt.Errorf("unknown data command %q", method)
}

// container walks path from the root, creating dicts as needed.
func (h *dataHandler) container(path []string) (map[string]any, error) {
	cur := h.root
	for i, seg := range path {
		next, ok := cur[seg]
		if !ok || next == nil {
			m := make(map[string]any)
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q holds %s, not a dict", strings.Join(path[:i+1], "."), typeName(next))
		}
		cur = m
	}
	return cur, nil
}

func dataPath(v any) ([]string, error) {
	switch p := v.(type) {
	case nil, undefined:
		return nil, nil
	case string:
		if p == "" {
			return nil, nil
		}
		return strings.Split(p, "."), nil
	case []any:
		out := make([]string, len(p))
		for i, seg := range p {
			out[i] = ToString(seg)
		}
		return out, nil
	}
	return nil, fmt.Errorf("data path must be a string or a list, got %s", typeName(v))
}
