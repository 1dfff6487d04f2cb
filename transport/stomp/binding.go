// Package stomp is the STOMP binding (C9/C10's STOMP instantiation).
// Header and frame vocabulary cross-checked against the wjmboss/stompngo
// reference material pulled into the retrieval pack; the connection
// lifecycle (CONNECT once, SUBSCRIBE to our own queue, SEND per outbound
// message) follows spec.md 4.8.4.
package stomp

import (
	"fmt"
	"sync"
	"time"

	log "github.com/golang/glog"
	gostomp "github.com/go-stomp/stomp"

	"github.com/arris-iot/usp-agent/transport"
)

const (
	replyToHeader  = "reply-to-dest"
	endpointIDHdr  = "endpoint-id"
	uspContentType = "application/vnd.bbf.usp.msg"
)

// Binding implements transport.Binding over STOMP.
type Binding struct {
	endpointID string

	inbound *transport.InboundQueue

	mu   sync.Mutex
	conn *gostomp.Conn
	self transport.Addr
}

// New builds an unstarted STOMP Binding that identifies itself as
// endpointID on CONNECT (spec.md 4.8.4).
func New(endpointID string) *Binding {
	return &Binding{endpointID: endpointID, inbound: transport.NewInboundQueue(0)}
}

func (b *Binding) Protocol() string { return "STOMP" }

// Listen connects to the broker named by selfAddr and subscribes to the
// agent's own destination, pushing every received frame onto the inbound
// queue. go-stomp does not expose the raw CONNECTED frame's headers, so the
// subscribe-dest override spec.md 4.8.4 describes can't be read back from
// the library; the binding always subscribes to the configured destination.
func (b *Binding) Listen(selfAddr transport.Addr) error {
	conn, err := b.dial(selfAddr)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn = conn
	b.self = selfAddr
	b.mu.Unlock()

	sub, err := conn.Subscribe(selfAddr.STOMPDestination, gostomp.AckAuto)
	if err != nil {
		return fmt.Errorf("stomp: subscribe to %s: %w", selfAddr.STOMPDestination, err)
	}

	go b.drain(sub)
	return nil
}

func (b *Binding) dial(addr transport.Addr) (*gostomp.Conn, error) {
	hostPort := fmt.Sprintf("%s:%d", addr.STOMPHost, addr.STOMPPort)
	opts := []func(*gostomp.Conn) error{
		gostomp.ConnOpt.HeartBeat(30*time.Second, 30*time.Second),
		gostomp.ConnOpt.Header(endpointIDHdr, b.endpointID),
	}
	if addr.STOMPUsername != "" {
		opts = append(opts, gostomp.ConnOpt.Login(addr.STOMPUsername, addr.STOMPPassword))
	}
	if addr.STOMPVirtualHost != "" {
		opts = append(opts, gostomp.ConnOpt.Host(addr.STOMPVirtualHost))
	}
	conn, err := gostomp.Dial("tcp", hostPort, opts...)
	if err != nil {
		return nil, fmt.Errorf("stomp: connect to %s: %w", hostPort, err)
	}
	return conn, nil
}

func (b *Binding) drain(sub *gostomp.Subscription) {
	for msg := range sub.C {
		if msg.Err != nil {
			log.Warningf("stomp: subscription error: %v", msg.Err)
			continue
		}
		if ct := msg.Header.Get("content-type"); ct != uspContentType {
			log.Warningf("stomp: dropping frame on %s: unsupported content-type %q", msg.Destination, ct)
			continue
		}
		replyTo := msg.Header.Get(replyToHeader)
		if replyTo == "" {
			log.Warningf("stomp: dropping frame on %s: missing %s header", msg.Destination, replyToHeader)
			continue
		}
		b.inbound.Put(transport.QueueItem{
			Payload:   msg.Body,
			ReplyTo:   transport.Addr{Protocol: "STOMP", STOMPDestination: replyTo},
			CreatedAt: time.Now(),
		})
	}
}

// Send publishes payload to to.STOMPDestination over our existing
// connection, tagging the frame with our own destination as reply-to.
func (b *Binding) Send(payload []byte, to transport.Addr) error {
	b.mu.Lock()
	conn := b.conn
	self := b.self
	b.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("stomp: send before listen")
	}

	err := conn.Send(to.STOMPDestination, uspContentType, payload,
		gostomp.SendOpt.Header(replyToHeader, self.STOMPDestination))
	if err != nil {
		return fmt.Errorf("stomp: send to %s: %w", to.STOMPDestination, err)
	}
	return nil
}

func (b *Binding) Receive(timeout time.Duration) (*transport.QueueItem, bool) {
	return b.inbound.Receive(timeout)
}

func (b *Binding) Requeue(item transport.QueueItem) {
	b.inbound.Requeue(item)
}

func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.Disconnect()
}
