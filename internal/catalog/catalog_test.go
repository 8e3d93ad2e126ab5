package catalog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"virtualds/internal/array"
)

const storedUDF = `package main

import "lib"

func DynamicDataset() {
	ds1 := lib.GetData("Dataset1").([]float64)
	out := lib.GetData("VirtualDataset").([]float64)
	_ = lib.GetDims("VirtualDataset")
	for i := range out {
		out[i] = ds1[i] * 2
	}
}
`

func openCatalog(t *testing.T, compress bool) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), compress, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func sumRecord() *Record {
	return &Record{
		Name:       "VirtualDataset",
		Language:   "go",
		EntryPoint: "DynamicDataset",
		Source:     storedUDF,
		Shape:      array.Shape{4, 4},
		Type:       array.Float64,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, compress := range []bool{true, false} {
		c := openCatalog(t, compress)
		require.NoError(t, c.Put(sumRecord()))

		got, err := c.Get("VirtualDataset")
		require.NoError(t, err)
		assert.Equal(t, storedUDF, got.Source)
		assert.Equal(t, "go", got.Language)
		assert.Equal(t, "DynamicDataset", got.EntryPoint)
		assert.Equal(t, array.Shape{4, 4}, got.Shape)
		assert.Equal(t, array.Float64, got.Type)
		assert.False(t, got.CreatedAt.IsZero())
	}
}

func TestGetMissing(t *testing.T) {
	c := openCatalog(t, true)
	_, err := c.Get("Nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplacesExisting(t *testing.T) {
	c := openCatalog(t, true)
	require.NoError(t, c.Put(sumRecord()))

	updated := sumRecord()
	updated.Shape = array.Shape{8, 8}
	require.NoError(t, c.Put(updated))

	got, err := c.Get("VirtualDataset")
	require.NoError(t, err)
	assert.Equal(t, array.Shape{8, 8}, got.Shape)

	records, err := c.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListOrdersByName(t *testing.T) {
	c := openCatalog(t, true)
	for _, name := range []string{"Zeta", "Alpha", "Mid"} {
		r := sumRecord()
		r.Name = name
		require.NoError(t, c.Put(r))
	}

	records, err := c.List()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Alpha", records[0].Name)
	assert.Equal(t, "Mid", records[1].Name)
	assert.Equal(t, "Zeta", records[2].Name)
}

func TestDelete(t *testing.T) {
	c := openCatalog(t, true)
	require.NoError(t, c.Put(sumRecord()))
	require.NoError(t, c.Delete("VirtualDataset"))

	_, err := c.Get("VirtualDataset")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Delete("VirtualDataset"), ErrNotFound)
}

func TestPutRejectsBadMetadata(t *testing.T) {
	c := openCatalog(t, true)

	r := sumRecord()
	r.Shape = array.Shape{4, 0}
	assert.Error(t, c.Put(r))

	r = sumRecord()
	r.Type = array.TypeInvalid
	assert.Error(t, c.Put(r))
}

func TestRestoreSkipsStaleRegistrations(t *testing.T) {
	c := openCatalog(t, true)
	good := sumRecord()
	require.NoError(t, c.Put(good))

	stale := sumRecord()
	stale.Name = "GoneDataset"
	stale.Source = "stale source"
	require.NoError(t, c.Put(stale))

	var replayed []string
	restored, err := c.Restore(func(source, language string) error {
		if source == "stale source" {
			return errors.New("input no longer present")
		}
		replayed = append(replayed, language)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Equal(t, []string{"go"}, replayed)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	logger := zaptest.NewLogger(t)

	c, err := Open(path, true, logger)
	require.NoError(t, err)
	require.NoError(t, c.Put(sumRecord()))
	require.NoError(t, c.Close())

	c2, err := Open(path, true, logger)
	require.NoError(t, err)
	defer c2.Close()

	got, err := c2.Get("VirtualDataset")
	require.NoError(t, err)
	assert.Equal(t, storedUDF, got.Source)
}
