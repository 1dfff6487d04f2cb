package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arris-iot/usp-agent/datamodel"
)

func newCameraTestStore(t *testing.T, maxPics int) *datamodel.Store {
	t.Helper()
	dir := t.TempDir()

	dmFile := filepath.Join(dir, "test-dm.json")
	dmData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.X_ARRIS-COM_IPAddr":                         "readOnly",
		"Device.Services.HomeAutomation.{i}.Camera.{i}.MaxNumberOfPics":    "readOnly",
		"Device.Services.HomeAutomation.{i}.Camera.{i}.PicNumberOfEntries": "readOnly",
		"Device.Services.HomeAutomation.{i}.Camera.{i}.Pic.{i}.URL":        "readOnly",
	})
	require.NoError(t, os.WriteFile(dmFile, dmData, 0644))
	schema, err := datamodel.LoadSchema(dmFile)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "test.db")
	dbData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.X_ARRIS-COM_IPAddr":                           "10.0.0.9",
		"Device.Services.HomeAutomation.1.Camera.1.MaxNumberOfPics":      strconv.Itoa(maxPics),
		"Device.Services.HomeAutomation.1.Camera.1.PicNumberOfEntries":   "__NUM_ENTRIES__",
		"Device.Services.HomeAutomation.1.Camera.1.Pic.__NextInstNum__": "1",
	})
	require.NoError(t, os.WriteFile(dbFile, dbData, 0644))

	store, err := datamodel.NewStore(schema, dbFile, "lo")
	require.NoError(t, err)
	return store
}

func TestCameraTakePictureInsertsTwoEntries(t *testing.T) {
	store := newCameraTestStore(t, 5)
	imgDir := t.TempDir()
	cam := NewCamera(imgDir, "snap", "true", "8080", store)

	out, err := cam.Invoke(takePictureCommand, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	instances, err := store.FindInstances(picTablePath)
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestCameraTakePictureEvictsOldestPastMax(t *testing.T) {
	store := newCameraTestStore(t, 1)
	imgDir := t.TempDir()
	cam := NewCamera(imgDir, "snap", "true", "8080", store)

	_, err := cam.Invoke(takePictureCommand, nil)
	require.NoError(t, err)

	instances, err := store.FindInstances(picTablePath)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(instances), 1)
}

func TestCameraInvokeRejectsUnknownCommand(t *testing.T) {
	store := newCameraTestStore(t, 5)
	cam := NewCamera(t.TempDir(), "snap", "true", "8080", store)

	_, err := cam.Invoke("Device.Bogus()", nil)
	assert.Error(t, err)
}
