// Package store provides the array container abstraction the engine runs
// against: named, typed, shaped arrays with full-buffer reads and writes,
// plus registration of virtual arrays whose contents are computed on demand.
package store

import (
	"errors"

	"virtualds/internal/array"
)

var (
	// ErrUnknownArray is returned when a name is neither a stored array nor
	// a registered virtual array.
	ErrUnknownArray = errors.New("unknown array")

	// ErrExists is returned when a Put or RegisterVirtual collides with an
	// existing name.
	ErrExists = errors.New("array already exists")

	// ErrNotMaterialized is returned when reading a virtual array that has
	// no committed buffer yet. The caller is expected to materialize first.
	ErrNotMaterialized = errors.New("virtual array not materialized")

	// ErrBufferSize is returned when a written buffer does not match the
	// array's registered shape and element type.
	ErrBufferSize = errors.New("buffer size mismatch")
)

// Store is the engine-facing contract of the container. Implementations must
// be safe for concurrent use.
type Store interface {
	// ReadMetadata returns the shape and element type registered for name.
	ReadMetadata(name string) (array.Shape, array.ElementType, error)

	// ReadBuffer returns the full contents of name. Virtual arrays serve
	// their last committed buffer, or ErrNotMaterialized.
	ReadBuffer(name string) ([]byte, error)

	// WriteBuffer replaces the full contents of name. For a virtual array
	// this commits a materialized buffer.
	WriteBuffer(name string, buf []byte) error

	// RegisterVirtual records a virtual array's resolved shape and type so
	// metadata reads succeed before the first materialization.
	RegisterVirtual(name string, shape array.Shape, t array.ElementType) error

	// IsVirtual reports whether name is a registered virtual array.
	IsVirtual(name string) bool

	// Invalidate drops a virtual array's committed buffer so the next read
	// forces a fresh materialization. A no-op for stored arrays.
	Invalidate(name string)
}

// Notifier is implemented by stores that can report content changes, used to
// invalidate committed virtual buffers when their inputs move underneath them.
type Notifier interface {
	// OnChange registers fn to be called with the name of any array whose
	// contents changed. Callbacks must not block.
	OnChange(fn func(name string))
}
