package datamodel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func newTestStore(t *testing.T) (*Schema, *Store) {
	t.Helper()
	dir := t.TempDir()

	dmFile := filepath.Join(dir, "test-dm.json")
	writeJSON(t, dmFile, map[string]string{
		"Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.{i}.URL":        "readWrite",
		"Device.Services.HomeAutomation.{i}.Camera.{i}.MaxNumberOfPics":    "readWrite",
		"Device.Services.HomeAutomation.{i}.Camera.{i}.PicNumberOfEntries": "readOnly",
		"Device.LocalAgent.EndpointID":                                    "readOnly",
		"Device.LocalAgent.X_ARRIS-COM_IPAddr":                            "readOnly",
	})
	schema, err := LoadSchema(dmFile)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "test.db")
	writeJSON(t, dbFile, map[string]string{
		"Device.Services.HomeAutomation.1.Camera.1.Pic.9.URL":                "u1",
		"Device.Services.HomeAutomation.1.Camera.1.Pic.10.URL":               "u2",
		"Device.Services.HomeAutomation.1.Camera.1.Pic.__NextInstNum__":      "11",
		"Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics":          "5",
		"Device.Services.HomeAutomation.1.Camera.1.PicNumberOfEntries":       "__NUM_ENTRIES__",
		"Device.LocalAgent.EndpointID":                                      "os::001",
		"Device.LocalAgent.X_ARRIS-COM_IPAddr":                              "__IPADDR__",
	})

	store, err := NewStore(schema, dbFile, "lo")
	require.NoError(t, err)
	return schema, store
}

func TestStoreGetUpdate(t *testing.T) {
	_, store := newTestStore(t)

	val, err := store.Get("Device.Services.HomeAutomation.1.Camera.1.Pic.9.URL")
	require.NoError(t, err)
	assert.Equal(t, "u1", val)

	_, err = store.Get("Device.Does.Not.Exist")
	assert.Error(t, err)

	require.NoError(t, store.Update("Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics", "7"))
	n, err := store.GetInt("Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestStoreNumEntriesSentinel(t *testing.T) {
	_, store := newTestStore(t)

	val, err := store.Get("Device.Services.HomeAutomation.1.Camera.1.PicNumberOfEntries")
	require.NoError(t, err)
	assert.Equal(t, "2", val)
}

func TestIsWritable(t *testing.T) {
	_, store := newTestStore(t)

	writable, err := store.IsWritable("Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics")
	require.NoError(t, err)
	assert.True(t, writable)

	writable, err = store.IsWritable("Device.Services.HomeAutomation.1.Camera.1.PicNumberOfEntries")
	require.NoError(t, err)
	assert.False(t, writable)

	_, err = store.IsWritable("Device.Not.In.Schema")
	assert.Error(t, err)
}

func TestFindParamsNaturalOrderViaResolver(t *testing.T) {
	_, store := newTestStore(t)
	resolver := NewResolver(store)

	found, err := resolver.FindParams("Device.Services.HomeAutomation.1.Camera.1.Pic.*.URL")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Device.Services.HomeAutomation.1.Camera.1.Pic.9.URL", found[0])
	assert.Equal(t, "Device.Services.HomeAutomation.1.Camera.1.Pic.10.URL", found[1])
}

func TestInsertAndDeletePicRow(t *testing.T) {
	_, store := newTestStore(t)

	instNum, err := store.Insert("Device.Services.HomeAutomation.1.Camera.1.Pic.")
	require.NoError(t, err)
	assert.Equal(t, 11, instNum)

	url, err := store.Get("Device.Services.HomeAutomation.1.Camera.1.Pic.11.URL")
	require.NoError(t, err)
	assert.Equal(t, "", url)

	require.NoError(t, store.Update("Device.Services.HomeAutomation.1.Camera.1.Pic.11.URL", "http://host/1.jpg"))

	require.NoError(t, store.Delete("Device.Services.HomeAutomation.1.Camera.1.Pic.11."))
	_, err = store.Get("Device.Services.HomeAutomation.1.Camera.1.Pic.11.URL")
	assert.Error(t, err)
}

func TestInsertRejectsUnsupportedTable(t *testing.T) {
	_, store := newTestStore(t)
	_, err := store.Insert("Device.LocalAgent.")
	assert.Error(t, err)
}
