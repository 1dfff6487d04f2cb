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

type fakeBinding struct {
	protocol string
	sent     [][]byte
}

func (f *fakeBinding) Protocol() string { return f.protocol }
func (f *fakeBinding) Send(payload []byte, to transport.Addr) error {
	f.sent = append(f.sent, payload)
	return nil
}
func (f *fakeBinding) Listen(selfAddr transport.Addr) error                { return nil }
func (f *fakeBinding) Receive(timeout time.Duration) (*transport.QueueItem, bool) { return nil, false }
func (f *fakeBinding) Requeue(item transport.QueueItem)                    {}
func (f *fakeBinding) Close() error                                        { return nil }

func newPollerTestStore(t *testing.T) *datamodel.Store {
	t.Helper()
	dir := t.TempDir()

	dmFile := filepath.Join(dir, "test-dm.json")
	dmData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.PeriodicInterval": "readWrite",
	})
	require.NoError(t, os.WriteFile(dmFile, dmData, 0644))
	schema, err := datamodel.LoadSchema(dmFile)
	require.NoError(t, err)

	dbFile := filepath.Join(dir, "test.db")
	dbData, _ := json.Marshal(map[string]string{
		"Device.LocalAgent.PeriodicInterval": "30",
	})
	require.NoError(t, os.WriteFile(dbFile, dbData, 0644))

	store, err := datamodel.NewStore(schema, dbFile, "lo")
	require.NoError(t, err)
	return store
}

func TestPollerDetectsValueChange(t *testing.T) {
	store := newPollerTestStore(t)
	p := NewPoller(store, 10*time.Millisecond)
	binding := &fakeBinding{protocol: "CoAP"}

	p.AddParam("Device.LocalAgent.PeriodicInterval", "os::agent-1", "proto::controller-1", transport.Addr{Protocol: "CoAP"}, binding, "sub-1")

	go p.Run()
	defer p.Stop()

	require.NoError(t, store.Update("Device.LocalAgent.PeriodicInterval", "60"))

	require.Eventually(t, func() bool {
		return len(binding.sent) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPollerRemoveParamStopsNotifications(t *testing.T) {
	store := newPollerTestStore(t)
	p := NewPoller(store, 10*time.Millisecond)
	binding := &fakeBinding{protocol: "CoAP"}

	p.AddParam("Device.LocalAgent.PeriodicInterval", "os::agent-1", "proto::controller-1", transport.Addr{Protocol: "CoAP"}, binding, "sub-1")
	p.RemoveParam("Device.LocalAgent.PeriodicInterval")

	require.NoError(t, store.Update("Device.LocalAgent.PeriodicInterval", "90"))

	go p.Run()
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, binding.sent)
}

func TestPollerAddParamSeedsCacheWithoutImmediateNotify(t *testing.T) {
	store := newPollerTestStore(t)
	p := NewPoller(store, 10*time.Millisecond)
	binding := &fakeBinding{protocol: "CoAP"}

	p.AddParam("Device.LocalAgent.PeriodicInterval", "os::agent-1", "proto::controller-1", transport.Addr{Protocol: "CoAP"}, binding, "sub-1")

	go p.Run()
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, binding.sent)
}
