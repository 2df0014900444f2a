package main

import (
	"context"
	"fmt"
	"time"

	"nodeflow/internal/condition"
	"nodeflow/internal/registry"
)

// registerBuiltins wires the generic node types every deployment gets.
// Domain-specific nodes (LLM calls, document writers, integrations) are
// registered by the embedding application the same way.
func registerBuiltins(reg *registry.Registry) {
	reg.MustRegister(registry.Descriptor{
		Type: "echo",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			return input, nil
		},
	})

	// set copies its config values into the output, on top of the input.
	reg.MustRegister(registry.Descriptor{
		Type: "set",
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			out := make(map[string]any, len(input)+len(config))
			for k, v := range input {
				out[k] = v
			}
			for k, v := range config {
				out[k] = v
			}
			return out, nil
		},
	})

	// pick extracts a single dot-path from the input into a named key.
	reg.MustRegister(registry.Descriptor{
		Type: "pick",
		Config: registry.Schema{
			"path": {Type: registry.FieldString, Required: true},
			"as":   {Type: registry.FieldString, Required: true},
		},
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			path := config["path"].(string)
			val, ok := condition.Lookup(input, path)
			if !ok {
				return nil, fmt.Errorf("pick: path %q not found in input", path)
			}
			return map[string]any{config["as"].(string): val}, nil
		},
	})

	reg.MustRegister(registry.Descriptor{
		Type: "delay",
		Config: registry.Schema{
			"duration_ms": {Type: registry.FieldNumber, Required: true},
		},
		Execute: func(ctx context.Context, config, input map[string]any) (map[string]any, error) {
			ms, _ := config["duration_ms"].(float64)
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return input, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
}
