// Package registry maps node-type names to pluggable executors. The
// registry is populated once at process start and read-only afterwards, so
// it is shared across concurrent runs without locking.
package registry

import (
	"context"
	"fmt"

	"nodeflow/internal/domain"
)

// Executor is the one capability the scheduler needs from a node type: an
// opaque, possibly side-effecting, possibly failing unit of work.
type Executor func(ctx context.Context, config, input map[string]any) (map[string]any, error)

// Descriptor declares a node type: its schemas and its executor.
type Descriptor struct {
	Type    string
	Config  Schema
	Input   Schema
	Output  Schema
	Execute Executor
}

type Registry struct {
	types map[string]Descriptor
}

func New() *Registry {
	return &Registry{types: make(map[string]Descriptor)}
}

// Register adds a node type. Registering the same type name twice is a
// programming error, fatal at startup.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == "" {
		return fmt.Errorf("registry: empty node type name")
	}
	if d.Execute == nil {
		return fmt.Errorf("registry: node type %q has no executor", d.Type)
	}
	if _, exists := r.types[d.Type]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateNodeType, d.Type)
	}
	r.types[d.Type] = d
	return nil
}

// MustRegister panics on registration failure; for process-start wiring.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Resolve looks up a node type descriptor.
func (r *Registry) Resolve(typeName string) (Descriptor, error) {
	d, ok := r.types[typeName]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", domain.ErrUnknownNodeType, typeName)
	}
	return d, nil
}
