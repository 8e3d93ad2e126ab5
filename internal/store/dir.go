package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"virtualds/internal/array"
)

const (
	metaSuffix = ".meta.json"
	binSuffix  = ".bin"
)

// dirMeta is the on-disk metadata record for one array.
type dirMeta struct {
	Shape   string `json:"shape"`
	Type    string `json:"type"`
	Virtual bool   `json:"virtual,omitempty"`
}

// DirStore keeps each array as a pair of files in one directory: a JSON
// metadata record and a raw little-endian buffer. A filesystem watcher
// surfaces external writes so committed virtual buffers can be invalidated.
//
// Array names map directly to file names and therefore must not contain
// path separators.
type DirStore struct {
	base    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.RWMutex
	virtual   map[string]*memoryEntry // virtual registrations live in memory
	listeners []func(string)
}

var (
	_ Store    = (*DirStore)(nil)
	_ Notifier = (*DirStore)(nil)
)

// NewDirStore opens (creating if needed) a directory-backed container and
// starts its change watcher.
func NewDirStore(base string, logger *zap.Logger) (*DirStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create container directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(base); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", base, err)
	}

	s := &DirStore{
		base:    base,
		logger:  logger.Named("dirstore"),
		watcher: watcher,
		done:    make(chan struct{}),
		virtual: map[string]*memoryEntry{},
	}
	go s.watch()
	return s, nil
}

// Close stops the change watcher.
func (s *DirStore) Close() error {
	close(s.done)
	return s.watcher.Close()
}

func (s *DirStore) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			base := filepath.Base(ev.Name)
			if !strings.HasSuffix(base, binSuffix) {
				continue
			}
			name := strings.TrimSuffix(base, binSuffix)
			s.logger.Debug("container file changed",
				zap.String("array", name),
				zap.String("op", ev.Op.String()))
			s.notify(name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (s *DirStore) notify(name string) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(name)
	}
}

func (s *DirStore) OnChange(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid array name %q", name)
	}
	return nil
}

func (s *DirStore) metaPath(name string) string { return filepath.Join(s.base, name+metaSuffix) }
func (s *DirStore) binPath(name string) string  { return filepath.Join(s.base, name+binSuffix) }

// Put creates a stored array on disk. The metadata record is written after
// the buffer so a crash cannot leave a readable array without contents.
func (s *DirStore) Put(h *array.Handle) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if err := validName(h.Name); err != nil {
		return err
	}
	if _, _, err := s.ReadMetadata(h.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, h.Name)
	}

	if err := os.WriteFile(s.binPath(h.Name), h.Buffer, 0o644); err != nil {
		return err
	}
	return s.writeMeta(h.Name, dirMeta{Shape: h.Shape.String(), Type: h.Type.String()})
}

func (s *DirStore) writeMeta(name string, m dirMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(s.metaPath(name), data, 0o644)
}

func (s *DirStore) readMeta(name string) (dirMeta, error) {
	var m dirMeta
	data, err := os.ReadFile(s.metaPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return m, fmt.Errorf("%w: %s", ErrUnknownArray, name)
		}
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("corrupt metadata for %s: %w", name, err)
	}
	return m, nil
}

func (s *DirStore) ReadMetadata(name string) (array.Shape, array.ElementType, error) {
	if err := validName(name); err != nil {
		return nil, array.TypeInvalid, err
	}

	s.mu.RLock()
	if e, ok := s.virtual[name]; ok {
		defer s.mu.RUnlock()
		return e.shape.Clone(), e.typ, nil
	}
	s.mu.RUnlock()

	m, err := s.readMeta(name)
	if err != nil {
		return nil, array.TypeInvalid, err
	}
	shape, err := array.ParseShape(m.Shape)
	if err != nil {
		return nil, array.TypeInvalid, err
	}
	t, err := array.ParseElementType(m.Type)
	if err != nil {
		return nil, array.TypeInvalid, err
	}
	return shape, t, nil
}

func (s *DirStore) ReadBuffer(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if e, ok := s.virtual[name]; ok {
		defer s.mu.RUnlock()
		if !e.committed {
			return nil, fmt.Errorf("%w: %s", ErrNotMaterialized, name)
		}
		buf := make([]byte, len(e.buf))
		copy(buf, e.buf)
		return buf, nil
	}
	s.mu.RUnlock()

	buf, err := os.ReadFile(s.binPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownArray, name)
		}
		return nil, err
	}
	return buf, nil
}

func (s *DirStore) WriteBuffer(name string, buf []byte) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	if e, ok := s.virtual[name]; ok {
		if want := e.shape.Elems() * e.typ.Size(); len(buf) != want {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrBufferSize, name, len(buf), want)
		}
		e.buf = make([]byte, len(buf))
		copy(e.buf, buf)
		e.committed = true
		s.mu.Unlock()
		s.notify(name)
		return nil
	}
	s.mu.Unlock()

	shape, t, err := s.ReadMetadata(name)
	if err != nil {
		return err
	}
	if want := shape.Elems() * t.Size(); len(buf) != want {
		return fmt.Errorf("%w: %s: got %d bytes, want %d", ErrBufferSize, name, len(buf), want)
	}
	return os.WriteFile(s.binPath(name), buf, 0o644)
}

// RegisterVirtual keeps virtual registrations in memory; the durable record
// lives in the catalog, which re-registers on open.
func (s *DirStore) RegisterVirtual(name string, shape array.Shape, t array.ElementType) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := shape.Validate(); err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("invalid element type for virtual array %s", name)
	}
	if _, err := s.readMeta(name); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.virtual[name]; ok {
		e.shape, e.typ, e.committed, e.buf = shape.Clone(), t, false, nil
		return nil
	}
	s.virtual[name] = &memoryEntry{shape: shape.Clone(), typ: t, virtual: true}
	return nil
}

func (s *DirStore) IsVirtual(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.virtual[name]
	return ok
}

// Invalidate drops a virtual array's committed buffer.
func (s *DirStore) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.virtual[name]; ok {
		e.committed = false
		e.buf = nil
	}
}

// RemoveVirtual unregisters a virtual array.
func (s *DirStore) RemoveVirtual(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.virtual, name)
}
