// Package service composes the full stack from configuration: the array
// container, the registration catalog, the callback runtimes and the engine.
// Registrations made through the service are persisted and replayed on the
// next open, so a reopened container materializes identically.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"virtualds/internal/array"
	"virtualds/internal/catalog"
	"virtualds/internal/config"
	"virtualds/internal/engine"
	"virtualds/internal/logging"
	"virtualds/internal/runtime"
	"virtualds/internal/store"
)

// Service owns one opened container and its registration catalog.
type Service struct {
	cfg     *config.Config
	logger  *zap.Logger
	ownsLog bool
	store   store.Store
	catalog *catalog.Catalog
	engine  *engine.Engine
}

// Option configures Open.
type Option func(*Service)

// WithLogger supplies a logger instead of building one from the config.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Open builds the service from configuration, opens the catalog, and replays
// every persisted registration against the live container. Registrations
// whose inputs have disappeared are skipped, not fatal.
func Open(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		logger, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		s.logger = logger
		s.ownsLog = true
	}

	switch cfg.Store.Backend {
	case "memory":
		s.store = store.NewMemoryStore()
	case "dir":
		ds, err := store.NewDirStore(cfg.Store.Path, s.logger)
		if err != nil {
			s.closePartial()
			return nil, err
		}
		s.store = ds
	default:
		s.closePartial()
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	cat, err := catalog.Open(cfg.Catalog.Path, cfg.Catalog.Compress, s.logger)
	if err != nil {
		s.closePartial()
		return nil, err
	}
	s.catalog = cat

	s.engine = engine.New(s.store,
		[]runtime.Runtime{runtime.NewGoRuntime(cfg.Runtime.AllowedImports)},
		s.logger,
		engine.WithTimeout(cfg.GetRuntimeTimeout()))

	restored, err := cat.Restore(func(source, language string) error {
		_, err := s.engine.Register(source, language)
		return err
	})
	if err != nil {
		s.closePartial()
		return nil, err
	}
	s.logger.Info("container opened",
		zap.String("backend", cfg.Store.Backend),
		zap.Int("registrations_restored", restored))
	return s, nil
}

// Register resolves and registers a callback, persisting it to the catalog.
// A registration that cannot be persisted is rolled back so the engine and
// the catalog never disagree about what survives a reopen.
func (s *Service) Register(source, language string) (*engine.ResolutionResult, error) {
	res, err := s.engine.Register(source, language)
	if err != nil {
		return nil, err
	}

	rec := &catalog.Record{
		Name:       res.Descriptor.OutputName,
		Language:   res.Descriptor.Language,
		EntryPoint: res.Descriptor.EntryPoint,
		Source:     res.Descriptor.SourceText,
		Shape:      res.OutputShape,
		Type:       res.OutputType,
	}
	if err := s.catalog.Put(rec); err != nil {
		s.engine.Unregister(rec.Name)
		return nil, fmt.Errorf("failed to persist registration %s: %w", rec.Name, err)
	}
	return res, nil
}

// Unregister removes a virtual array from the engine and the catalog.
func (s *Service) Unregister(name string) error {
	s.engine.Unregister(name)
	if err := s.catalog.Delete(name); err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return err
	}
	return nil
}

// Materialize forces a run of a virtual array's callback.
func (s *Service) Materialize(ctx context.Context, name string) (*array.Handle, error) {
	return s.engine.Materialize(ctx, name)
}

// Read returns an array's contents, materializing virtual arrays on demand.
func (s *Service) Read(ctx context.Context, name string) ([]byte, error) {
	return s.engine.Read(ctx, name)
}

// Registrations lists the registered virtual array names.
func (s *Service) Registrations() []string {
	return s.engine.Registrations()
}

// Store exposes the underlying container.
func (s *Service) Store() store.Store { return s.store }

// Engine exposes the underlying engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Close releases the catalog, the container and, when the service built its
// own logger, flushes it.
func (s *Service) Close() error {
	var firstErr error
	if s.catalog != nil {
		if err := s.catalog.Close(); err != nil {
			firstErr = err
		}
	}
	if c, ok := s.store.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.ownsLog {
		_ = s.logger.Sync()
	}
	return firstErr
}

// closePartial tears down whatever Open managed to build before failing.
func (s *Service) closePartial() {
	if s.catalog != nil {
		_ = s.catalog.Close()
	}
	if c, ok := s.store.(io.Closer); ok {
		_ = c.Close()
	}
	if s.ownsLog && s.logger != nil {
		_ = s.logger.Sync()
	}
}
