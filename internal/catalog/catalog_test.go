package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `[
  {
    "id": "p1",
    "name": "Aero 14",
    "brand": "Zenbyte",
    "category": "Laptops",
    "price": 899.99,
    "rating": 4.4,
    "description": "Light laptop.",
    "specifications": {"ram": "16GB", "cpu": "8-core", "weight": 1.2},
    "reviews": [{"text": "Great", "rating": 5}]
  },
  {"name": "No id"},
  {"id": "p2", "name": "Tab S", "price": "cheap"},
  {"id": "p3", "name": "Buds", "category": "Headphones"},
  {"id": "p1", "name": "Aero 14 (2026)", "brand": "Zenbyte", "category": "Laptops"}
]`

func TestLoad_Array(t *testing.T) {
	snap, err := Load(strings.NewReader(sample), nil)
	require.NoError(t, err)

	require.Len(t, snap.Products, 2)
	assert.Equal(t, 2, snap.Skipped)

	assert.Equal(t, "p1", snap.Products[0].ID)
	assert.Equal(t, "Aero 14 (2026)", snap.Products[0].Name, "later duplicate replaces earlier")
	assert.Equal(t, "p3", snap.Products[1].ID)
}

func TestLoad_SpecOrderPreserved(t *testing.T) {
	snap, err := Load(strings.NewReader(`[{"id":"p1","specifications":{"ram":"16GB","cpu":"8-core","weight":1.2}}]`), nil)
	require.NoError(t, err)
	require.Len(t, snap.Products, 1)

	specs := snap.Products[0].Specs
	require.Len(t, specs, 3)
	assert.Equal(t, "ram", specs[0].Key)
	assert.Equal(t, "cpu", specs[1].Key)
	assert.Equal(t, "1.2", specs[2].Value)
}

func TestLoad_WrapperObjectAndEmpty(t *testing.T) {
	snap, err := Load(strings.NewReader(`{"products":[{"id":"x","name":"X"}]}`), nil)
	require.NoError(t, err)
	require.Len(t, snap.Products, 1)

	snap, err = Load(strings.NewReader("   "), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Products)

	_, err = Load(strings.NewReader("not json"), nil)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	snap, err := LoadFile(path, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Products, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}
