package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arris-iot/usp-agent/usp"
)

type fakeHandler struct {
	err  error
	resp []byte
}

func (f *fakeHandler) Handle(payload []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type capturingBinding struct {
	protocol string
	items    []*QueueItem
	sent     [][]byte
}

func (f *capturingBinding) Protocol() string { return f.protocol }
func (f *capturingBinding) Send(payload []byte, to Addr) error {
	f.sent = append(f.sent, payload)
	return nil
}
func (f *capturingBinding) Listen(selfAddr Addr) error { return nil }
func (f *capturingBinding) Receive(timeout time.Duration) (*QueueItem, bool) {
	if len(f.items) == 0 {
		return nil, false
	}
	item := f.items[0]
	f.items = f.items[1:]
	return item, true
}
func (f *capturingBinding) Requeue(item QueueItem) {}
func (f *capturingBinding) Close() error           { return nil }

func TestListenerSendsProtocolViolationResponse(t *testing.T) {
	binding := &capturingBinding{
		protocol: "CoAP",
		items:    []*QueueItem{{Payload: []byte("garbage"), ReplyTo: Addr{Protocol: "CoAP"}}},
	}
	handler := &fakeHandler{err: errors.New("failed to decode Record: short buffer")}

	l := NewListener("os::agent-1", binding, handler)
	go l.Run()

	require.Eventually(t, func() bool {
		return len(binding.sent) == 1
	}, time.Second, 5*time.Millisecond)
	l.Stop()

	rec, err := usp.DecodeRecord(binding.sent[0])
	require.NoError(t, err)
	assert.Equal(t, "os::agent-1", rec.FromID)

	msg, err := usp.DecodeMsg(rec.Payload)
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, usp.ErrCodeGeneric, msg.Error.ErrCode)
}

func TestListenerSendsHandlerResponseOnSuccess(t *testing.T) {
	binding := &capturingBinding{
		protocol: "CoAP",
		items:    []*QueueItem{{Payload: []byte("req"), ReplyTo: Addr{Protocol: "CoAP"}}},
	}
	handler := &fakeHandler{resp: []byte("resp-bytes")}

	l := NewListener("os::agent-1", binding, handler)
	go l.Run()

	require.Eventually(t, func() bool {
		return len(binding.sent) == 1
	}, time.Second, 5*time.Millisecond)
	l.Stop()

	assert.Equal(t, []byte("resp-bytes"), binding.sent[0])
}
