package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"virtualds/internal/array"
	"virtualds/internal/broker"
	"virtualds/internal/infer"
	"virtualds/internal/resolver"
	"virtualds/internal/runtime"
	"virtualds/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sumUDF = `package main

import "lib"

func DynamicDataset() {
	ds1 := lib.GetData("Dataset1").([]float64)
	ds2 := lib.GetData("Dataset2").([]float64)
	out := lib.GetData("VirtualDataset").([]float64)
	dims := lib.GetDims("VirtualDataset")

	for i := 0; i < dims[0]*dims[1]; i++ {
		out[i] = ds1[i] + ds2[i]
	}
}
`

func putFloats(t *testing.T, s *store.MemoryStore, name string, shape array.Shape, fill float64) {
	t.Helper()
	cells := make([]float64, shape.Elems())
	for i := range cells {
		cells[i] = fill
	}
	buf, err := array.Encode(cells, array.Float64)
	require.NoError(t, err)
	require.NoError(t, s.Put(&array.Handle{Name: name, Shape: shape, Type: array.Float64, Buffer: buf}))
}

func newSumEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	putFloats(t, s, "Dataset1", array.Shape{4, 4}, 1.0)
	putFloats(t, s, "Dataset2", array.Shape{4, 4}, 2.0)
	e := New(s, []runtime.Runtime{runtime.NewGoRuntime(nil)}, zaptest.NewLogger(t))
	return e, s
}

func TestRegisterAndMaterializeSum(t *testing.T) {
	e, s := newSumEngine(t)

	res, err := e.Register(sumUDF, "go")
	require.NoError(t, err)
	assert.Equal(t, "VirtualDataset", res.Descriptor.OutputName)
	assert.Equal(t, array.Shape{4, 4}, res.OutputShape)
	assert.Equal(t, array.Float64, res.OutputType)
	assert.True(t, s.IsVirtual("VirtualDataset"))

	h, err := e.Materialize(context.Background(), "VirtualDataset")
	require.NoError(t, err)

	cells, err := array.Decode(h.Buffer, array.Float64)
	require.NoError(t, err)
	for i, v := range cells.([]float64) {
		assert.Equal(t, 3.0, v, "cell %d", i)
	}

	// Committed contents are served by the store itself afterwards.
	buf, err := s.ReadBuffer("VirtualDataset")
	require.NoError(t, err)
	assert.Equal(t, h.Buffer, buf)
}

func TestReadMaterializesLazily(t *testing.T) {
	e, s := newSumEngine(t)
	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	_, err = s.ReadBuffer("VirtualDataset")
	require.ErrorIs(t, err, store.ErrNotMaterialized)

	buf, err := e.Read(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	cells, err := array.Decode(buf, array.Float64)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cells.([]float64)[0])

	// Stored arrays read straight through.
	buf, err = e.Read(context.Background(), "Dataset1")
	require.NoError(t, err)
	assert.Len(t, buf, 16*8)
}

func TestMaterializeIsDeterministic(t *testing.T) {
	e, _ := newSumEngine(t)
	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	h1, err := e.Materialize(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	h2, err := e.Materialize(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	assert.Equal(t, h1.Buffer, h2.Buffer)
}

func TestMaterializeUnregistered(t *testing.T) {
	e, _ := newSumEngine(t)
	_, err := e.Materialize(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterIncompatibleInputShapes(t *testing.T) {
	s := store.NewMemoryStore()
	putFloats(t, s, "Dataset1", array.Shape{4, 4}, 1.0)
	putFloats(t, s, "Dataset2", array.Shape{2, 2}, 2.0)
	e := New(s, []runtime.Runtime{runtime.NewGoRuntime(nil)}, zaptest.NewLogger(t))

	_, err := e.Register(sumUDF, "go")
	assert.ErrorIs(t, err, infer.ErrIncompatibleShapes)
	assert.False(t, s.IsVirtual("VirtualDataset"))
}

func TestRegisterUnknownInput(t *testing.T) {
	s := store.NewMemoryStore()
	putFloats(t, s, "Dataset1", array.Shape{4, 4}, 1.0)
	e := New(s, []runtime.Runtime{runtime.NewGoRuntime(nil)}, zaptest.NewLogger(t))

	_, err := e.Register(sumUDF, "go")
	assert.ErrorIs(t, err, store.ErrUnknownArray)
}

func TestMaterializeNoRuntimeForLanguage(t *testing.T) {
	e, _ := newSumEngine(t)

	py := `def dynamic_dataset():
    ds1 = getData("Dataset1")
    out = getData("VirtualDataset")
    dims = getDims("VirtualDataset")
    for i in range(dims[0] * dims[1]):
        out[i] = ds1[i]
`
	_, err := e.Register(py, "python")
	require.NoError(t, err)

	_, err = e.Materialize(context.Background(), "VirtualDataset")
	assert.ErrorIs(t, err, ErrNoRuntime)
}

func TestCallbackFailureReturnsErrCallback(t *testing.T) {
	e, _ := newSumEngine(t)

	src := `package main

import "lib"

// udf: shape=4x4 type=float64
func DynamicDataset() {
	out := lib.GetData("VirtualDataset").([]float64)
	_ = lib.GetDims("VirtualDataset")
	out[len(out)] = 1
}
`
	_, err := e.Register(src, "go")
	require.NoError(t, err)

	_, err = e.Materialize(context.Background(), "VirtualDataset")
	assert.ErrorIs(t, err, ErrCallback)
}

func TestOutputNeverFetchedIsIncompleteWrite(t *testing.T) {
	e, _ := newSumEngine(t)

	// The output is referenced in source (so resolution sees it) but the
	// branch never runs, leaving the buffer untouched at runtime.
	src := `package main

import "lib"

// udf: shape=4x4 type=float64
func DynamicDataset() {
	if false {
		_ = lib.GetData("VirtualDataset")
		_ = lib.GetDims("VirtualDataset")
	}
}
`
	_, err := e.Register(src, "go")
	require.NoError(t, err)

	_, err = e.Materialize(context.Background(), "VirtualDataset")
	assert.ErrorIs(t, err, ErrIncompleteWrite)
}

// flakyRuntime writes a constant into the output, or fails on demand,
// without interpreting anything. Lets tests flip between success and
// failure against the same registration.
type flakyRuntime struct {
	fail    atomic.Bool
	invokes atomic.Int64
	fill    float64
	delay   time.Duration
}

func (r *flakyRuntime) Language() string { return "go" }

func (r *flakyRuntime) Invoke(_ context.Context, d *resolver.Descriptor, binding *broker.ExecutionContext) error {
	r.invokes.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail.Load() {
		return errors.New("injected callback failure")
	}
	out := binding.GetData(d.OutputName).([]float64)
	for i := range out {
		out[i] = r.fill
	}
	return nil
}

func TestFailedRunLeavesCommittedContents(t *testing.T) {
	s := store.NewMemoryStore()
	putFloats(t, s, "Dataset1", array.Shape{4, 4}, 1.0)
	putFloats(t, s, "Dataset2", array.Shape{4, 4}, 2.0)
	rt := &flakyRuntime{fill: 5.0}
	e := New(s, []runtime.Runtime{rt}, zaptest.NewLogger(t))

	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	h, err := e.Materialize(context.Background(), "VirtualDataset")
	require.NoError(t, err)

	rt.fail.Store(true)
	_, err = e.Materialize(context.Background(), "VirtualDataset")
	require.ErrorIs(t, err, ErrCallback)

	buf, err := s.ReadBuffer("VirtualDataset")
	require.NoError(t, err)
	assert.Equal(t, h.Buffer, buf, "failed run must not disturb the committed buffer")
}

func TestConcurrentMaterializeCoalesces(t *testing.T) {
	s := store.NewMemoryStore()
	putFloats(t, s, "Dataset1", array.Shape{4, 4}, 1.0)
	putFloats(t, s, "Dataset2", array.Shape{4, 4}, 2.0)
	rt := &flakyRuntime{fill: 9.0, delay: 50 * time.Millisecond}
	e := New(s, []runtime.Runtime{rt}, zaptest.NewLogger(t))

	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	const readers = 16
	var wg sync.WaitGroup
	results := make([]*array.Handle, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Materialize(context.Background(), "VirtualDataset")
		}(i)
	}
	wg.Wait()

	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Buffer, results[i].Buffer)
	}
	assert.Less(t, rt.invokes.Load(), int64(readers), "concurrent reads must share runs")
}

func TestInputWriteInvalidatesDependents(t *testing.T) {
	e, s := newSumEngine(t)
	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	buf, err := e.Read(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	cells, err := array.Decode(buf, array.Float64)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cells.([]float64)[0])

	fresh := make([]float64, 16)
	for i := range fresh {
		fresh[i] = 10.0
	}
	raw, err := array.Encode(fresh, array.Float64)
	require.NoError(t, err)
	require.NoError(t, s.WriteBuffer("Dataset1", raw))

	// The committed buffer was dropped, so the next read re-materializes
	// against the new input contents.
	_, err = s.ReadBuffer("VirtualDataset")
	require.ErrorIs(t, err, store.ErrNotMaterialized)

	buf, err = e.Read(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	cells, err = array.Decode(buf, array.Float64)
	require.NoError(t, err)
	assert.Equal(t, 12.0, cells.([]float64)[0])
}

func TestUnregisterRemovesVirtualArray(t *testing.T) {
	e, s := newSumEngine(t)
	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)
	require.Contains(t, e.Registrations(), "VirtualDataset")

	e.Unregister("VirtualDataset")
	assert.NotContains(t, e.Registrations(), "VirtualDataset")
	assert.False(t, s.IsVirtual("VirtualDataset"))

	_, err = e.Materialize(context.Background(), "VirtualDataset")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestReRegisterReplacesCallback(t *testing.T) {
	e, _ := newSumEngine(t)
	_, err := e.Register(sumUDF, "go")
	require.NoError(t, err)

	src := `package main

import "lib"

func DynamicDataset() {
	out := lib.GetData("VirtualDataset").([]float64)
	_ = lib.GetData("Dataset1")
	_ = lib.GetDims("VirtualDataset")
	for i := range out {
		out[i] = 42
	}
}
`
	_, err = e.Register(src, "go")
	require.NoError(t, err)

	h, err := e.Materialize(context.Background(), "VirtualDataset")
	require.NoError(t, err)
	cells, err := array.Decode(h.Buffer, array.Float64)
	require.NoError(t, err)
	assert.Equal(t, 42.0, cells.([]float64)[0])
}
