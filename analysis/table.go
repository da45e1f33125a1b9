// Package analysis computes per-node compile metadata for a parsed template.
//
// Analysis results are kept in a [Table] indexed by [ast.NodeID] so the
// syntax tree itself stays immutable. Two passes fill the table:
//  1. [PropagateIsAsync] marks nodes whose evaluation may suspend
//  2. the [Analyzer] finds sequence locks (`path!` markers), classifies
//     lock activity per subtree and decides which subtrees get their own
//     synchronization block
package analysis

import (
	"sort"
	"strings"

	"github.com/geleto/cascada/ast"
)

// SeqOp summarizes what a subtree does with one sequence lock.
type SeqOp uint8

const (
	OpNone SeqOp = iota
	// OpPath waits for the lock without acquiring it.
	OpPath
	// OpLock acquires the lock (a marked call).
	OpLock
	// OpContended means the subtree holds more than one operation on the
	// key that are not all plain waits.
	OpContended
)

func (o SeqOp) String() string {
	switch o {
	case OpPath:
		return "PATH"
	case OpLock:
		return "LOCK"
	case OpContended:
		return "CONTENDED"
	}
	return "NONE"
}

// merge combines two classifications of the same key meeting at a node.
func merge(a, b SeqOp) SeqOp {
	switch {
	case a == OpNone:
		return b
	case b == OpNone:
		return a
	case a == OpPath && b == OpPath:
		return OpPath
	}
	return OpContended
}

// Ops maps a lock key to its classification within a subtree.
type Ops map[string]SeqOp

// Keys returns the lock keys in sorted order.
func (o Ops) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o Ops) String() string {
	var b strings.Builder
	for i, k := range o.Keys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(o[k].String())
	}
	return b.String()
}

// Meta is the analysis result for one node.
type Meta struct {
	// Async is set when evaluating the node may suspend.
	Async bool
	// Wrap asks the compiler to give the node its own synchronization block.
	Wrap bool
	// Ops is the lock activity of the node's subtree.
	Ops Ops
	// Own is set when the node itself contributes to Ops (a marked call or a
	// path read of a declared lock).
	Own bool
	// LockKey is the lock the node itself participates in.
	LockKey string
	// CallLocked is set on a call that acquires LockKey.
	CallLocked bool
}

// Table holds one Meta per numbered node.
type Table struct {
	meta []Meta
}

// NewTable sizes a table for a tree numbered by [ast.Number].
func NewTable(count int) *Table {
	return &Table{meta: make([]Meta, count+1)}
}

// NewTableFor numbers root if needed and returns a table for it.
func NewTableFor(root ast.Node) *Table {
	if root.ID() == 0 {
		return NewTable(ast.Number(root))
	}
	max := 0
	ast.Inspect(root, func(n ast.Node) bool {
		if int(n.ID()) > max {
			max = int(n.ID())
		}
		return true
	})
	return NewTable(max)
}

// Get returns the metadata for n. Unnumbered nodes get a throwaway record.
func (t *Table) Get(n ast.Node) *Meta {
	id := int(n.ID())
	if id <= 0 || id >= len(t.meta) {
		return &Meta{}
	}
	return &t.meta[id]
}

// IsAsync reports whether n was marked async.
func (t *Table) IsAsync(n ast.Node) bool {
	if n == nil {
		return false
	}
	return t.Get(n).Async
}

// Count returns how many nodes are marked async and wrapped.
func (t *Table) Count() (async, wrapped int) {
	for _, m := range t.meta {
		if m.Async {
			async++
		}
		if m.Wrap {
			wrapped++
		}
	}
	return async, wrapped
}
