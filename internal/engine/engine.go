// Package engine drives the full materialization pipeline: resolve callback
// source, infer the output array, bind buffers, invoke the callback runtime
// and commit the populated output back to the container.
//
// Concurrency policy: concurrent Materialize calls for the same output name
// SHARE the in-flight result (the second caller blocks and receives the same
// committed handle); a keyed per-output lock additionally guarantees that no
// two callback invocations ever run against the same output buffer.
// Materializations of distinct output names proceed in parallel.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"virtualds/internal/array"
	"virtualds/internal/broker"
	"virtualds/internal/infer"
	"virtualds/internal/resolver"
	"virtualds/internal/runtime"
	"virtualds/internal/store"
)

// ResolutionResult is the fully resolved plan for one virtual array: the
// descriptor plus the inferred (or declared) output shape and element type.
type ResolutionResult struct {
	Descriptor  *resolver.Descriptor
	OutputShape array.Shape
	OutputType  array.ElementType
}

// Engine owns the virtual-array registrations of one container.
type Engine struct {
	store    store.Store
	broker   *broker.Broker
	resolver *resolver.Resolver
	runtimes map[string]runtime.Runtime
	logger   *zap.Logger
	timeout  time.Duration

	mu            sync.Mutex
	registrations map[string]*ResolutionResult
	locks         map[string]*sync.Mutex
	dependents    map[string]map[string]struct{} // input name -> output names

	flight singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each callback invocation. The callback still runs to
// completion in the background on expiry; only the caller is released.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithResolver replaces the default frontend set.
func WithResolver(r *resolver.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// New builds an engine over a container. When the store can report content
// changes, committed virtual buffers are invalidated as soon as one of
// their inputs is written.
func New(st store.Store, runtimes []runtime.Runtime, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		broker:        broker.New(logger),
		resolver:      resolver.Default(),
		runtimes:      map[string]runtime.Runtime{},
		logger:        logger.Named("engine"),
		registrations: map[string]*ResolutionResult{},
		locks:         map[string]*sync.Mutex{},
		dependents:    map[string]map[string]struct{}{},
	}
	for _, r := range runtimes {
		e.runtimes[r.Language()] = r
	}
	for _, opt := range opts {
		opt(e)
	}

	if n, ok := st.(store.Notifier); ok {
		n.OnChange(e.onStoreChange)
	}
	return e
}

// Register resolves callback source, infers the output array, and records
// the virtual array with the container so reads of its name materialize
// instead of hitting the store directly. Re-registering an output name
// replaces its callback after the same full validation.
func (e *Engine) Register(source, language string) (*ResolutionResult, error) {
	d, err := e.resolver.Resolve(source, language)
	if err != nil {
		return nil, err
	}

	inputs := make(map[string]infer.Metadata, len(d.InputNames))
	for _, name := range d.InputNames {
		shape, typ, err := e.store.ReadMetadata(name)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		inputs[name] = infer.Metadata{Shape: shape, Type: typ}
	}

	var registered *infer.Registered
	if e.store.IsVirtual(d.OutputName) {
		if shape, typ, err := e.store.ReadMetadata(d.OutputName); err == nil {
			registered = &infer.Registered{Shape: shape, Type: typ}
		}
	}

	shape, typ, err := infer.Infer(d, inputs, registered)
	if err != nil {
		return nil, err
	}

	if err := e.store.RegisterVirtual(d.OutputName, shape, typ); err != nil {
		return nil, err
	}

	res := &ResolutionResult{Descriptor: d, OutputShape: shape, OutputType: typ}

	e.mu.Lock()
	if _, replacing := e.registrations[d.OutputName]; replacing {
		e.removeDependentsLocked(d.OutputName)
	} else {
		registrationsActive.Inc()
	}
	e.registrations[d.OutputName] = res
	for _, in := range d.InputNames {
		if e.dependents[in] == nil {
			e.dependents[in] = map[string]struct{}{}
		}
		e.dependents[in][d.OutputName] = struct{}{}
	}
	e.mu.Unlock()

	e.broker.Drop(d.OutputName)
	e.logger.Info("registered virtual array",
		zap.String("output", d.OutputName),
		zap.Strings("inputs", d.InputNames),
		zap.String("shape", shape.String()),
		zap.String("type", typ.String()),
		zap.String("language", language))
	return res, nil
}

// Unregister removes a virtual array and its pooled buffer.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	if _, ok := e.registrations[name]; ok {
		delete(e.registrations, name)
		e.removeDependentsLocked(name)
		registrationsActive.Dec()
	}
	e.mu.Unlock()

	e.broker.Drop(name)
	if rm, ok := e.store.(interface{ RemoveVirtual(string) }); ok {
		rm.RemoveVirtual(name)
	}
}

// Registration returns the resolved plan for a virtual array.
func (e *Engine) Registration(name string) (*ResolutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, ok := e.registrations[name]
	return res, ok
}

// Registrations lists the registered output names.
func (e *Engine) Registrations() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.registrations))
	for name := range e.registrations {
		out = append(out, name)
	}
	return out
}

func (e *Engine) removeDependentsLocked(output string) {
	for _, deps := range e.dependents {
		delete(deps, output)
	}
}

// onStoreChange invalidates every committed virtual buffer that reads the
// changed array, so the next read re-materializes against fresh inputs.
func (e *Engine) onStoreChange(name string) {
	e.mu.Lock()
	var stale []string
	for out := range e.dependents[name] {
		stale = append(stale, out)
	}
	e.mu.Unlock()

	for _, out := range stale {
		e.store.Invalidate(out)
		e.logger.Debug("invalidated virtual array",
			zap.String("output", out),
			zap.String("changed_input", name))
	}
}

// Materialize runs the virtual array's callback and commits the populated
// buffer to the container, returning the committed handle. Concurrent calls
// for the same name coalesce onto one run.
func (e *Engine) Materialize(ctx context.Context, name string) (*array.Handle, error) {
	e.mu.Lock()
	res, ok := e.registrations[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	v, err, shared := e.flight.Do(name, func() (interface{}, error) {
		lk := e.lockFor(name)
		lk.Lock()
		defer lk.Unlock()
		return e.run(ctx, res)
	})
	if err != nil {
		return nil, err
	}
	h := v.(*array.Handle)
	if shared {
		// Late joiners get their own copy of the committed buffer.
		h = h.Clone()
	}
	return h, nil
}

// Read returns a virtual array's committed contents, materializing first
// when no committed buffer exists; stored arrays are read straight through.
func (e *Engine) Read(ctx context.Context, name string) ([]byte, error) {
	buf, err := e.store.ReadBuffer(name)
	if err == nil {
		return buf, nil
	}
	if !e.store.IsVirtual(name) {
		return nil, err
	}
	h, err := e.Materialize(ctx, name)
	if err != nil {
		return nil, err
	}
	return h.Buffer, nil
}

func (e *Engine) lockFor(name string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lk, ok := e.locks[name]
	if !ok {
		lk = &sync.Mutex{}
		e.locks[name] = lk
	}
	return lk
}

// run executes one materialization: Bound -> Running -> Committed/Failed.
// A failure on any path leaves the previously committed contents untouched;
// commit is a single WriteBuffer after the callback succeeds.
func (e *Engine) run(ctx context.Context, res *ResolutionResult) (_ *array.Handle, err error) {
	d := res.Descriptor
	m := &materialization{id: uuid.NewString(), name: d.OutputName, state: StateBound}
	logger := e.logger.With(
		zap.String("materialization", m.id),
		zap.String("output", m.name))
	start := time.Now()

	defer func() {
		status := StateCommitted
		if err != nil {
			status = StateFailed
		}
		materializationsTotal.WithLabelValues(status.String()).Inc()
	}()

	rt, ok := e.runtimes[d.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRuntime, d.Language)
	}

	binding, err := e.broker.Bind(d, res.OutputShape, res.OutputType, e.store)
	if err != nil {
		return nil, err
	}
	defer binding.Release()

	if binding.BufferReused() {
		bufferReuseTotal.Inc()
	}

	if err := m.to(StateRunning); err != nil {
		return nil, err
	}
	logger.Debug("invoking callback", zap.String("entry", d.EntryPoint))

	invokeCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	if invokeErr := rt.Invoke(invokeCtx, d, binding); invokeErr != nil {
		if stateErr := m.to(StateFailed); stateErr != nil {
			return nil, stateErr
		}
		logger.Warn("callback failed", zap.Error(invokeErr))
		return nil, fmt.Errorf("%w: %v", ErrCallback, invokeErr)
	}

	if !binding.OutputTouched() {
		if stateErr := m.to(StateFailed); stateErr != nil {
			return nil, stateErr
		}
		return nil, fmt.Errorf("%w: %s", ErrIncompleteWrite, m.name)
	}

	h, err := binding.OutputHandle()
	if err != nil {
		if stateErr := m.to(StateFailed); stateErr != nil {
			return nil, stateErr
		}
		return nil, err
	}
	if err := e.store.WriteBuffer(m.name, h.Buffer); err != nil {
		if stateErr := m.to(StateFailed); stateErr != nil {
			return nil, stateErr
		}
		return nil, err
	}
	if err := m.to(StateCommitted); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	materializationDuration.Observe(elapsed.Seconds())
	logger.Info("materialization committed",
		zap.Duration("elapsed", elapsed),
		zap.Int("bytes", len(h.Buffer)))
	return h, nil
}
