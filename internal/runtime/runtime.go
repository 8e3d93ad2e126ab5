// Package runtime invokes callback code against a bound execution context.
// The engine treats a Runtime as a capability: one synchronous Invoke per
// materialization, success or a failure cause.
package runtime

import (
	"context"
	"errors"

	"virtualds/internal/broker"
	"virtualds/internal/resolver"
)

// ErrForbiddenImport is returned before execution when callback code imports
// a package outside the allow-list.
var ErrForbiddenImport = errors.New("callback imports forbidden package")

// Runtime executes a resolved callback once against a bound context.
type Runtime interface {
	// Language names the callback source language this runtime executes.
	Language() string

	// Invoke runs the callback entry point with the bound buffers. It
	// returns the callback's failure cause, if any. On ctx expiry Invoke
	// returns ctx.Err() but lets the callback run to completion in the
	// background; there is no forced preemption.
	Invoke(ctx context.Context, d *resolver.Descriptor, binding *broker.ExecutionContext) error
}
