package broker

import (
	"fmt"
	"sync/atomic"

	"virtualds/internal/array"
)

type view struct {
	shape array.Shape
	typ   array.ElementType
	data  interface{}
}

// UnknownArrayError is thrown (as a panic inside the callback runtime, which
// recovers it) when a callback asks for a name that was not bound.
type UnknownArrayError struct {
	Name string
}

func (e UnknownArrayError) Error() string {
	return fmt.Sprintf("unknown array %q", e.Name)
}

// ExecutionContext is the per-materialization binding of names to buffers.
// It is what the callback runtime exposes to user code: GetData and GetDims
// resolve the exact names used in the callback source, with the output name
// resolving to the mutable output buffer.
//
// The context is not safe for use after Release.
type ExecutionContext struct {
	broker     *Broker
	inputs     map[string]*view
	outputName string
	output     *view
	reused     bool

	outputReads atomic.Int64
	released    atomic.Bool
}

// GetData returns the flat row-major cell buffer bound to name as a typed
// slice ([]int8 .. []float64). The output buffer is returned for the output
// name and is mutable; input buffers are snapshots and writes to them are
// discarded after the run. Panics with UnknownArrayError for unbound names.
func (c *ExecutionContext) GetData(name string) interface{} {
	if name == c.outputName {
		c.outputReads.Add(1)
		return c.output.data
	}
	v, ok := c.inputs[name]
	if !ok {
		panic(UnknownArrayError{Name: name})
	}
	return v.data
}

// GetDims returns the shape bound to name. Panics with UnknownArrayError
// for unbound names.
func (c *ExecutionContext) GetDims(name string) []int {
	if name == c.outputName {
		return c.output.shape.Clone()
	}
	v, ok := c.inputs[name]
	if !ok {
		panic(UnknownArrayError{Name: name})
	}
	return v.shape.Clone()
}

// OutputName returns the bound output array name.
func (c *ExecutionContext) OutputName() string { return c.outputName }

// OutputShape returns the bound output shape.
func (c *ExecutionContext) OutputShape() array.Shape { return c.output.shape.Clone() }

// OutputTouched reports whether the callback ever fetched the output buffer.
// A callback that never asked for it cannot have written a single cell, the
// best-effort watermark behind the incomplete-write check.
func (c *ExecutionContext) OutputTouched() bool { return c.outputReads.Load() > 0 }

// BufferReused reports whether the output buffer came from the pool.
func (c *ExecutionContext) BufferReused() bool { return c.reused }

// OutputHandle serializes the output buffer into a committed array handle.
func (c *ExecutionContext) OutputHandle() (*array.Handle, error) {
	buf, err := array.Encode(c.output.data, c.output.typ)
	if err != nil {
		return nil, err
	}
	return &array.Handle{
		Name:   c.outputName,
		Shape:  c.output.shape.Clone(),
		Type:   c.output.typ,
		Buffer: buf,
	}, nil
}

// Release returns the output buffer to the broker pool. Safe to call more
// than once; every materialization exit path must end up here.
func (c *ExecutionContext) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.broker.release(c.outputName)
	}
}
