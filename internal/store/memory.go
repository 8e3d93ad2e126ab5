package store

import (
	"fmt"
	"sync"

	"virtualds/internal/array"
)

type memoryEntry struct {
	shape     array.Shape
	typ       array.ElementType
	buf       []byte
	virtual   bool
	committed bool
}

// MemoryStore keeps every array in process memory behind a mutex. It is the
// reference Store implementation and the one tests run against.
type MemoryStore struct {
	mu        sync.RWMutex
	arrays    map[string]*memoryEntry
	listeners []func(string)
}

var (
	_ Store    = (*MemoryStore)(nil)
	_ Notifier = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty in-memory container.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{arrays: map[string]*memoryEntry{}}
}

// Put creates a stored array from a handle. The buffer is copied.
func (s *MemoryStore) Put(h *array.Handle) error {
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.arrays[h.Name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, h.Name)
	}
	buf := make([]byte, len(h.Buffer))
	copy(buf, h.Buffer)
	s.arrays[h.Name] = &memoryEntry{shape: h.Shape.Clone(), typ: h.Type, buf: buf}
	return nil
}

func (s *MemoryStore) ReadMetadata(name string) (array.Shape, array.ElementType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.arrays[name]
	if !ok {
		return nil, array.TypeInvalid, fmt.Errorf("%w: %s", ErrUnknownArray, name)
	}
	return e.shape.Clone(), e.typ, nil
}

func (s *MemoryStore) ReadBuffer(name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArray, name)
	}
	if e.virtual && !e.committed {
		return nil, fmt.Errorf("%w: %s", ErrNotMaterialized, name)
	}
	buf := make([]byte, len(e.buf))
	copy(buf, e.buf)
	return buf, nil
}

func (s *MemoryStore) WriteBuffer(name string, buf []byte) error {
	s.mu.Lock()
	e, ok := s.arrays[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownArray, name)
	}
	if want := e.shape.Elems() * e.typ.Size(); len(buf) != want {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrBufferSize, name, len(buf), want)
	}
	e.buf = make([]byte, len(buf))
	copy(e.buf, buf)
	e.committed = true
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(name)
	}
	return nil
}

func (s *MemoryStore) RegisterVirtual(name string, shape array.Shape, t array.ElementType) error {
	if err := shape.Validate(); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("invalid element type for virtual array %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.arrays[name]; ok {
		if !e.virtual {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		// Re-registration of the same virtual array refreshes its metadata
		// and drops any committed buffer.
		e.shape, e.typ, e.committed, e.buf = shape.Clone(), t, false, nil
		return nil
	}
	s.arrays[name] = &memoryEntry{shape: shape.Clone(), typ: t, virtual: true}
	return nil
}

func (s *MemoryStore) IsVirtual(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.arrays[name]
	return ok && e.virtual
}

// Invalidate drops the committed buffer of a virtual array so the next read
// forces a fresh materialization. A no-op for stored arrays.
func (s *MemoryStore) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.arrays[name]; ok && e.virtual {
		e.committed = false
		e.buf = nil
	}
}

// RemoveVirtual unregisters a virtual array.
func (s *MemoryStore) RemoveVirtual(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.arrays[name]; ok && e.virtual {
		delete(s.arrays, name)
	}
}

func (s *MemoryStore) OnChange(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
