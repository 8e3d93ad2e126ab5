package engine

import "errors"

var (
	// ErrNotRegistered means no virtual array with that name is known to
	// the engine.
	ErrNotRegistered = errors.New("virtual array not registered")

	// ErrCallback wraps the failure cause reported by the callback runtime.
	ErrCallback = errors.New("callback failed")

	// ErrIncompleteWrite means the callback returned without observably
	// writing the output buffer (watermark check: it never fetched it).
	ErrIncompleteWrite = errors.New("callback wrote no output cells")

	// ErrNoRuntime means no callback runtime is registered for the
	// descriptor's language; such callbacks can be resolved and registered
	// but not materialized in-process.
	ErrNoRuntime = errors.New("no runtime for callback language")
)
