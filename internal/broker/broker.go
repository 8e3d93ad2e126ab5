// Package broker binds named arrays to live buffers for one materialization.
// Inputs become read-only typed snapshots of the container's buffers
// (copy-on-bind, so a store mutation mid-flight cannot corrupt a running
// callback), and the output becomes a zero-initialized mutable buffer that
// the broker owns until the engine commits or discards it.
package broker

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"virtualds/internal/array"
	"virtualds/internal/resolver"
	"virtualds/internal/store"
)

// Broker allocates output buffers and binds execution contexts. Buffers for
// repeated materializations of the same virtual array are pooled per output
// name to avoid reallocation.
type Broker struct {
	logger *zap.Logger

	mu   sync.Mutex
	pool map[string]*pooledBuffer
}

type pooledBuffer struct {
	shape array.Shape
	typ   array.ElementType
	data  interface{}
	inUse bool
}

// New returns an empty broker.
func New(logger *zap.Logger) *Broker {
	return &Broker{
		logger: logger.Named("broker"),
		pool:   map[string]*pooledBuffer{},
	}
}

// Bind reads every input buffer from the container, allocates (or reuses)
// the output buffer, and returns the execution context the callback runtime
// runs against. Unknown input names surface store.ErrUnknownArray.
func (b *Broker) Bind(d *resolver.Descriptor, outputShape array.Shape, outputType array.ElementType, st store.Store) (*ExecutionContext, error) {
	inputs := make(map[string]*view, len(d.InputNames))
	for _, name := range d.InputNames {
		shape, typ, err := st.ReadMetadata(name)
		if err != nil {
			return nil, fmt.Errorf("binding input %s: %w", name, err)
		}
		buf, err := st.ReadBuffer(name)
		if err != nil {
			return nil, fmt.Errorf("binding input %s: %w", name, err)
		}
		data, err := array.Decode(buf, typ)
		if err != nil {
			return nil, fmt.Errorf("binding input %s: %w", name, err)
		}
		// Metadata and buffer are read in two calls; a store mutation in
		// between can leave them inconsistent. Catch that here instead of
		// handing the callback a short slice.
		if got := array.TypedLen(data); got != shape.Elems() {
			return nil, fmt.Errorf("binding input %s: %w: buffer holds %d cells, metadata says %d",
				name, store.ErrBufferSize, got, shape.Elems())
		}
		inputs[name] = &view{shape: shape, typ: typ, data: data}
	}

	out, reused, err := b.acquireOutput(d.OutputName, outputShape, outputType)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("bound execution context",
		zap.String("output", d.OutputName),
		zap.Int("inputs", len(inputs)),
		zap.Bool("buffer_reused", reused))

	return &ExecutionContext{
		broker:     b,
		inputs:     inputs,
		outputName: d.OutputName,
		output:     &view{shape: outputShape.Clone(), typ: outputType, data: out},
		reused:     reused,
	}, nil
}

// acquireOutput hands out the pooled buffer for an output name when its
// shape and type still match and it is not already bound, allocating
// otherwise. Reused buffers are re-zeroed so a materialization never sees
// cells from the previous run.
func (b *Broker) acquireOutput(name string, shape array.Shape, typ array.ElementType) (interface{}, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p, ok := b.pool[name]; ok && !p.inUse && p.shape.Equal(shape) && p.typ == typ {
		p.inUse = true
		zeroTyped(p.data)
		return p.data, true, nil
	}

	data, err := array.NewTyped(typ, shape.Elems())
	if err != nil {
		return nil, false, err
	}
	b.pool[name] = &pooledBuffer{shape: shape.Clone(), typ: typ, data: data, inUse: true}
	return data, false, nil
}

// release marks an output buffer as available again. The engine serializes
// materializations per output name, so at most one context holds a given
// pooled buffer at a time.
func (b *Broker) release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pool[name]; ok {
		p.inUse = false
	}
}

// Drop evicts the pooled buffer for an output name, used when a virtual
// array is unregistered or its resolved shape changes.
func (b *Broker) Drop(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pool, name)
}

func zeroTyped(data interface{}) {
	switch v := data.(type) {
	case []int8:
		for i := range v {
			v[i] = 0
		}
	case []uint8:
		for i := range v {
			v[i] = 0
		}
	case []int16:
		for i := range v {
			v[i] = 0
		}
	case []uint16:
		for i := range v {
			v[i] = 0
		}
	case []int32:
		for i := range v {
			v[i] = 0
		}
	case []uint32:
		for i := range v {
			v[i] = 0
		}
	case []int64:
		for i := range v {
			v[i] = 0
		}
	case []uint64:
		for i := range v {
			v[i] = 0
		}
	case []float32:
		for i := range v {
			v[i] = 0
		}
	case []float64:
		for i := range v {
			v[i] = 0
		}
	}
}
