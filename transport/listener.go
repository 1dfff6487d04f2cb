package transport

import (
	"time"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/usp"
)

// RequestHandler is satisfied by usp.Dispatcher.
type RequestHandler interface {
	Handle(payload []byte) ([]byte, error)
}

// Listener is C10: the per-binding goroutine that drains a Binding's inbound
// queue, dispatches each request, and sends the response back over the same
// binding.
type Listener struct {
	endpointID string
	binding    Binding
	handler    RequestHandler
	pollEvery  time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewListener builds a Listener over binding, dispatching through handler.
// endpointID names this listener's own side of the conversation, used as
// from_id on the minimal error Record sent back when handler.Handle fails
// (spec.md 4.8.5, 7: ProtocolViolation never raises past the listener).
func NewListener(endpointID string, binding Binding, handler RequestHandler) *Listener {
	return &Listener{
		endpointID: endpointID,
		binding:    binding,
		handler:    handler,
		pollEvery:  time.Second,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Run drives the receive/dispatch/send loop until Stop is called. It is
// meant to be launched with `go listener.Run()`.
func (l *Listener) Run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		item, ok := l.binding.Receive(l.pollEvery)
		if !ok {
			continue
		}

		resp, err := l.handler.Handle(item.Payload)
		if err != nil {
			log.Warningf("%s listener: rejecting malformed request: %v", l.binding.Protocol(), err)
			errMsg := usp.NewError("", usp.ErrCodeGeneric, "ProtocolViolation: "+err.Error())
			errRecord := usp.WrapInRecord(l.endpointID, "", errMsg)
			if sendErr := l.binding.Send(usp.EncodeRecord(errRecord), item.ReplyTo); sendErr != nil {
				log.Warningf("%s listener: failed to send protocol-violation response: %v", l.binding.Protocol(), sendErr)
			}
			continue
		}

		if err := l.binding.Send(resp, item.ReplyTo); err != nil {
			log.Warningf("%s listener: failed to send response: %v", l.binding.Protocol(), err)
		}
	}
}

// Stop signals Run to exit and blocks until it has.
func (l *Listener) Stop() {
	close(l.stopCh)
	<-l.doneCh
}
