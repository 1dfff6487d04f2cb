package subscription

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arris-iot/usp-agent/datamodel"
	"github.com/arris-iot/usp-agent/transport"
)

func newEngineTestStore(t *testing.T, periodicInterval string) *datamodel.Store {
	t.Helper()
	dir := t.TempDir()

	dmFile := filepath.Join(dir, "test-dm.json")
	dmData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.Subscription.{i}.Enable":          "readWrite",
		"Device.LocalAgent.Subscription.{i}.ID":               "readWrite",
		"Device.LocalAgent.Subscription.{i}.NotifType":        "readWrite",
		"Device.LocalAgent.Subscription.{i}.Recipient":        "readWrite",
		"Device.LocalAgent.Subscription.{i}.ReferenceList":    "readWrite",
		"Device.LocalAgent.Controller.{i}.Enable":             "readWrite",
		"Device.LocalAgent.Controller.{i}.EndpointID":         "readWrite",
		"Device.LocalAgent.Controller.{i}.MTP.{i}.Enable":     "readWrite",
		"Device.LocalAgent.Controller.{i}.MTP.{i}.Protocol":   "readWrite",
		"Device.LocalAgent.Controller.{i}.MTP.{i}.CoAP.Host":  "readWrite",
		"Device.LocalAgent.Controller.{i}.MTP.{i}.CoAP.Port":  "readWrite",
		"Device.LocalAgent.Controller.{i}.MTP.{i}.CoAP.Path":  "readWrite",
		"Device.LocalAgent.PeriodicObj.PeriodicInterval":      "readWrite",
		"Device.DeviceInfo.ManufacturerOUI":                   "readOnly",
		"Device.DeviceInfo.ProductClass":                      "readOnly",
		"Device.DeviceInfo.SerialNumber":                      "readOnly",
		"Device.LocalAgent.X_ARRIS-COM_IPAddr":                "readOnly",
	})
	require.NoError(t, os.WriteFile(dmFile, dmData, 0644))
	schema, err := datamodel.LoadSchema(dmFile)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "test.db")
	dbData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.Subscription.__NextInstNum__":      "3",
		"Device.LocalAgent.Subscription.1.Enable":              "true",
		"Device.LocalAgent.Subscription.1.ID":                  "sub-boot",
		"Device.LocalAgent.Subscription.1.NotifType":           "Boot",
		"Device.LocalAgent.Subscription.1.Recipient":           "Device.LocalAgent.Controller.1.",
		"Device.LocalAgent.Subscription.1.ReferenceList":       "",
		"Device.LocalAgent.Subscription.2.Enable":              "true",
		"Device.LocalAgent.Subscription.2.ID":                  "sub-periodic",
		"Device.LocalAgent.Subscription.2.NotifType":           "Periodic",
		"Device.LocalAgent.Subscription.2.Recipient":           "Device.LocalAgent.Controller.1.",
		"Device.LocalAgent.Subscription.2.ReferenceList":       "Device.LocalAgent.PeriodicObj.",

		"Device.LocalAgent.Controller.__NextInstNum__":  "2",
		"Device.LocalAgent.Controller.1.Enable":          "true",
		"Device.LocalAgent.Controller.1.EndpointID":      "proto::controller-1",
		"Device.LocalAgent.Controller.1.MTP.__NextInstNum__": "2",
		"Device.LocalAgent.Controller.1.MTP.1.Enable":    "true",
		"Device.LocalAgent.Controller.1.MTP.1.Protocol":  "CoAP",
		"Device.LocalAgent.Controller.1.MTP.1.CoAP.Host": "10.0.0.5",
		"Device.LocalAgent.Controller.1.MTP.1.CoAP.Port": "5683",
		"Device.LocalAgent.Controller.1.MTP.1.CoAP.Path": "usp",

		"Device.LocalAgent.PeriodicObj.PeriodicInterval": periodicInterval,

		"Device.DeviceInfo.ManufacturerOUI":    "00D09E",
		"Device.DeviceInfo.ProductClass":       "RPi_Camera",
		"Device.DeviceInfo.SerialNumber":       "SN-001",
		"Device.LocalAgent.X_ARRIS-COM_IPAddr": "10.0.0.9",
	})
	require.NoError(t, os.WriteFile(dbFile, dbData, 0644))

	store, err := datamodel.NewStore(schema, dbFile, "lo")
	require.NoError(t, err)
	return store
}

func TestDetectSubscriptionRoot(t *testing.T) {
	store := newEngineTestStore(t, "2")
	emptyDMFile := filepath.Join(t.TempDir(), "empty-dm.json")
	require.NoError(t, os.WriteFile(emptyDMFile, []byte("{}"), 0644))
	schema, err := datamodel.LoadSchema(emptyDMFile)
	require.NoError(t, err)
	assert.Equal(t, "", DetectSubscriptionRoot(schema))

	// a schema loaded via newEngineTestStore's own file declares the
	// Device.LocalAgent.Subscription. root.
	_ = store
}

func TestEngineInitSendsBootNotification(t *testing.T) {
	store := newEngineTestStore(t, "2")
	binding := &fakeBinding{protocol: "CoAP"}
	poller := NewPoller(store, time.Hour)

	engine := NewEngine("os::agent-1", "Device.LocalAgent.Subscription.", store,
		map[string]transport.Binding{"CoAP": binding}, poller)
	engine.Init()
	defer engine.Stop()

	assert.Len(t, binding.sent, 1)
}

func TestEngineInitStartsPeriodicNotifier(t *testing.T) {
	store := newEngineTestStore(t, "0") // PeriodicInterval<=0 falls back to 1s in startPeriodic
	binding := &fakeBinding{protocol: "CoAP"}
	poller := NewPoller(store, time.Hour)

	engine := NewEngine("os::agent-1", "Device.LocalAgent.Subscription.", store,
		map[string]transport.Binding{"CoAP": binding}, poller)
	engine.Init()
	defer engine.Stop()

	require.Eventually(t, func() bool {
		// one Boot send plus at least one Periodic send
		return len(binding.sent) >= 2
	}, 3*time.Second, 10*time.Millisecond)
}
