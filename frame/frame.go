// Package frame tracks compile-time lexical scopes.
//
// Frames live in an [Arena] and refer to their parent by index. Each frame
// records the variables declared in it and, while the synchronization unit
// that owns it is being compiled, how many times each outer variable is
// written (write counts) and which outer variables are read (read vars).
// Names starting with [LockPrefix] are sequence locks and always resolve to
// the root frame.
package frame

import (
	"sort"
	"strings"

	"github.com/geleto/cascada/errors"
)

// LockPrefix marks variable names that hold sequence locks, e.g. "!account".
const LockPrefix = "!"

// ID indexes a frame in its arena.
type ID int

// None is the parent of the root frame.
const None ID = -1

// Counts maps a variable name to a number of pending writes.
type Counts map[string]int

// Record is one frame.
type Record struct {
	Parent ID
	// CreateScope marks a genuine lexical scope. Frames without it are
	// pass-through frames used only for synchronization bookkeeping.
	CreateScope bool
	// IsolateWrites stops write resolution at this frame (macro bodies).
	IsolateWrites bool
	// SequentialLoopBody is set when the frame is a loop body whose
	// iterations must run one after another.
	SequentialLoopBody bool

	Declared    map[string]bool
	Variables   map[string]string
	WriteCounts Counts
	ReadVars    map[string]bool
}

// Arena holds every frame created while compiling one template.
type Arena struct {
	frames []Record
	// track enables declaration tracking; sync compilation does not need it.
	track bool
}

// NewArena returns an arena holding only the root frame (ID 0).
func NewArena(track bool) *Arena {
	a := &Arena{track: track}
	a.frames = append(a.frames, newRecord(None, true, false))
	return a
}

func newRecord(parent ID, createScope, isolate bool) Record {
	return Record{
		Parent:        parent,
		CreateScope:   createScope,
		IsolateWrites: isolate,
		Declared:      make(map[string]bool),
		Variables:     make(map[string]string),
		WriteCounts:   make(Counts),
		ReadVars:      make(map[string]bool),
	}
}

// Root returns the root frame.
func (a *Arena) Root() ID { return 0 }

// Len returns the number of frames created so far.
func (a *Arena) Len() int { return len(a.frames) }

// Get returns the record for id. The pointer is invalidated by Push.
func (a *Arena) Get(id ID) *Record { return &a.frames[id] }

// Parent returns the parent of id, or None for the root.
func (a *Arena) Parent(id ID) ID { return a.frames[id].Parent }

// Push creates a child frame of parent.
func (a *Arena) Push(parent ID, createScope, isolateWrites bool) ID {
	a.frames = append(a.frames, newRecord(parent, createScope, isolateWrites))
	return ID(len(a.frames) - 1)
}

// Pop closes id and returns its parent along with the frame's read snapshot
// list and write map. It fails with an internal error when a read-snapshot
// name is declared in id itself.
func (a *Arena) Pop(id ID) (ID, []string, Counts, error) {
	reads, writes, err := a.Close(id)
	return a.frames[id].Parent, reads, writes, err
}

// Close returns the sorted read snapshot list and a copy of the write counts
// of id.
func (a *Arena) Close(id ID) ([]string, Counts, error) {
	r := &a.frames[id]
	reads := make([]string, 0, len(r.ReadVars))
	for name := range r.ReadVars {
		if r.Declared[name] {
			return nil, nil, errors.Internal("ReadVar in declaration scope: %s", name)
		}
		reads = append(reads, name)
	}
	sort.Strings(reads)
	writes := make(Counts, len(r.WriteCounts))
	for k, v := range r.WriteCounts {
		writes[k] = v
	}
	return reads, writes, nil
}

// DeclareVar records name as declared in id. It is a no-op when tracking is
// disabled.
func (a *Arena) DeclareVar(id ID, name string) {
	if a.track {
		a.frames[id].Declared[name] = true
	}
}

// Set binds name to a storage handle in the frame that owns it, declaring it
// in the nearest scope-creating frame when no owner is found.
func (a *Arena) Set(id ID, name, handle string) {
	owner, ok := a.Resolve(id, name, true)
	if !ok {
		owner = a.ScopeFrame(id)
	}
	a.frames[owner].Variables[name] = handle
}

// Lookup returns the storage handle bound to name as seen from id.
func (a *Arena) Lookup(id ID, name string) (string, bool) {
	for f := id; f != None; f = a.frames[f].Parent {
		if h, ok := a.frames[f].Variables[name]; ok {
			return h, true
		}
	}
	return "", false
}

// Resolve finds the frame declaring name, starting at id. When forWrite is
// set the search stops at a frame with IsolateWrites.
func (a *Arena) Resolve(id ID, name string, forWrite bool) (ID, bool) {
	if strings.HasPrefix(name, LockPrefix) {
		root := a.Root()
		return root, a.frames[root].Declared[name]
	}
	for f := id; f != None; f = a.frames[f].Parent {
		r := &a.frames[f]
		if r.Declared[name] {
			return f, true
		}
		if forWrite && r.IsolateWrites {
			break
		}
	}
	return None, false
}

// ScopeFrame returns the nearest frame at or above id that creates a scope.
func (a *Arena) ScopeFrame(id ID) ID {
	for f := id; f != None; f = a.frames[f].Parent {
		if a.frames[f].CreateScope {
			return f
		}
	}
	return a.Root()
}

// IsDeclared reports whether name is visible from id.
func (a *Arena) IsDeclared(id ID, name string) bool {
	_, ok := a.Resolve(id, name, false)
	return ok
}

// UpdateFrameWrites records a write of name from id. The variable is
// declared in the nearest scope-creating frame if it was never seen. Every
// frame from id up to, but excluding, the declaring frame has its count
// bumped; the bump propagates to the parent only on a frame's first write.
// It returns the declaring frame.
func (a *Arena) UpdateFrameWrites(id ID, name string) ID {
	decl, ok := a.Resolve(id, name, true)
	if !ok {
		if strings.HasPrefix(name, LockPrefix) {
			decl = a.Root()
		} else {
			decl = a.ScopeFrame(id)
		}
		a.frames[decl].Declared[name] = true
	}
	for f := id; f != decl && f != None; f = a.frames[f].Parent {
		r := &a.frames[f]
		if n, seen := r.WriteCounts[name]; seen {
			r.WriteCounts[name] = n + 1
			break
		}
		r.WriteCounts[name] = 1
	}
	return decl
}

// UpdateFrameReads records a read of name from id. Names not declared in any
// frame are context variables and need no snapshot. Otherwise each frame from
// id up to the declaring frame records the read, stopping early at a frame
// that already reads or writes the name.
func (a *Arena) UpdateFrameReads(id ID, name string) {
	decl, ok := a.Resolve(id, name, false)
	if !ok {
		return
	}
	for f := id; f != decl && f != None; f = a.frames[f].Parent {
		r := &a.frames[f]
		if r.ReadVars[name] {
			return
		}
		if _, w := r.WriteCounts[name]; w {
			return
		}
		r.ReadVars[name] = true
	}
}

// CountsTo1 reduces counts to "written at all": every present name maps to 1.
func CountsTo1(c Counts) Counts {
	if len(c) == 0 {
		return nil
	}
	out := make(Counts, len(c))
	for k := range c {
		out[k] = 1
	}
	return out
}

// CombineWriteCounts sums counts across sibling compilations.
func CombineWriteCounts(counts ...Counts) Counts {
	out := make(Counts)
	for _, c := range counts {
		for k, v := range c {
			out[k] += v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Names returns the keys of c in sorted order.
func (c Counts) Names() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of c.
func (c Counts) Clone() Counts {
	if c == nil {
		return nil
	}
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
