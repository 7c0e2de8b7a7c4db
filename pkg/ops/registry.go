// Package ops defines the static operation catalog: operation ids mapped to
// handlers with typed argument schemas. The registry is populated at startup
// and never mutated afterwards.
package ops

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownOperation is returned when an operation id does not resolve.
var ErrUnknownOperation = errors.New("unknown operation")

// InputKind describes what a handler consumes.
type InputKind string

// OutputKind describes what a handler produces.
type OutputKind string

// Input and output kinds.
const (
	InputFile  InputKind = "file"  // handler reads the artifact path itself
	InputTable InputKind = "table" // executor loads the file into memory first

	OutputFile  OutputKind = "file"
	OutputTable OutputKind = "table"
	OutputBoth  OutputKind = "both"
)

// ProgressFunc receives periodic progress ticks from a running handler.
// percent is 0–100; message is a short human-readable status.
type ProgressFunc func(percent int, message string)

// Input is the artifact handed to a handler. Data is populated when the
// operation's InputKind is InputTable.
type Input struct {
	Path string
	Data []byte
}

// Result is the artifact produced by a handler.
type Result struct {
	Data []byte
	Ext  string // output file extension including the dot, e.g. ".csv"
}

// Handler is an opaque operation implementation.
type Handler func(ctx context.Context, in Input, args map[string]any, progress ProgressFunc) (*Result, error)

// Operation is one catalog entry.
type Operation struct {
	ID         string
	Intent     string // intent kind this operation serves (catalog grouping)
	Suffix     string // filename suffix for produced artifacts, e.g. "extracted"
	InputKind  InputKind
	OutputKind OutputKind
	Args       map[string]ArgField
	Handler    Handler
}

// Registry is the process-wide read-only operation catalog.
type Registry struct {
	ops map[string]*Operation
}

// NewRegistry builds a registry from the given operations.
// Duplicate ids are a programming error and panic at startup.
func NewRegistry(operations ...*Operation) *Registry {
	r := &Registry{ops: make(map[string]*Operation, len(operations))}
	for _, op := range operations {
		if _, dup := r.ops[op.ID]; dup {
			panic(fmt.Sprintf("duplicate operation id %q", op.ID))
		}
		r.ops[op.ID] = op
	}
	return r
}

// Get resolves an operation id.
func (r *Registry) Get(id string) (*Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	return op, nil
}

// Has reports whether the id resolves.
func (r *Registry) Has(id string) bool {
	_, ok := r.ops[id]
	return ok
}

// Len returns the number of registered operations.
func (r *Registry) Len() int { return len(r.ops) }

// IDs returns all operation ids sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GroupedByIntent returns operation ids grouped by their intent kind,
// each group sorted. Used by the catalog endpoint.
func (r *Registry) GroupedByIntent() map[string][]string {
	grouped := make(map[string][]string)
	for id, op := range r.ops {
		grouped[op.Intent] = append(grouped[op.Intent], id)
	}
	for intent := range grouped {
		sort.Strings(grouped[intent])
	}
	return grouped
}
