// Package coap is the CoAP binding (C9/C10's CoAP instantiation), grounded
// on original_source/agent/coap_usp_binding.py's response-code semantics:
// POST-only, Content-Format application/octet-stream (42), a mandatory
// reply-to URI-Query, CHANGED on success.
package coap

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	gocoap "github.com/dustin/go-coap"
	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/transport"
)

const (
	resourcePath             = "usp"
	wellKnownCorePath        = ".well-known/core"
	contentFormatOctetStream = 42
	replyToQuery             = "reply-to"
	linkDescription          = `</usp>;rt="usp.endpoint";if="usp.a"`
)

// Binding implements transport.Binding over CoAP.
type Binding struct {
	inbound *transport.InboundQueue

	mu       sync.Mutex
	self     transport.Addr
	listener *net.UDPConn
}

// New builds an unstarted CoAP Binding.
func New() *Binding {
	return &Binding{inbound: transport.NewInboundQueue(0)}
}

func (b *Binding) Protocol() string { return "CoAP" }

// Listen starts accepting CoAP requests at selfAddr. The agent's own
// reply-to authority (used on outbound requests) is derived from selfAddr.
func (b *Binding) Listen(selfAddr transport.Addr) error {
	b.mu.Lock()
	b.self = selfAddr
	b.mu.Unlock()

	addr := fmt.Sprintf(":%d", selfAddr.CoAPPort)
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: selfAddr.CoAPPort})
	if err != nil {
		return fmt.Errorf("coap: listen on %s: %w", addr, err)
	}
	b.mu.Lock()
	b.listener = conn
	b.mu.Unlock()

	go func() {
		if err := gocoap.Serve(conn, gocoap.FuncHandler(b.serve)); err != nil {
			log.Errorf("coap: listener on %s exited: %v", addr, err)
		}
	}()
	return nil
}

func (b *Binding) serve(l *net.UDPConn, a *net.UDPAddr, m *gocoap.Message) *gocoap.Message {
	ack := func(code gocoap.COAPCode) *gocoap.Message {
		return &gocoap.Message{Type: gocoap.Acknowledgement, Code: code, MessageID: m.MessageID, Token: m.Token}
	}

	if m.Code == gocoap.GET && m.PathString() == wellKnownCorePath {
		resp := ack(gocoap.Content)
		resp.Payload = []byte(linkDescription)
		return resp
	}

	if m.Code != gocoap.POST {
		log.Warningf("coap: rejecting %v from %v: only POST is accepted", m.Code, a)
		return ack(gocoap.MethodNotAllowed)
	}

	cf, ok := m.Option(gocoap.ContentFormat).(int)
	if !ok || cf != contentFormatOctetStream {
		log.Warningf("coap: rejecting request from %v: unsupported content-format", a)
		return ack(gocoap.UnsupportedMediaType)
	}

	replyTo := ""
	for _, q := range m.Options(gocoap.URIQuery) {
		if qs, ok := q.(string); ok && strings.HasPrefix(qs, replyToQuery+"=") {
			replyTo = strings.TrimPrefix(qs, replyToQuery+"=")
			break
		}
	}
	if replyTo == "" {
		log.Warningf("coap: rejecting request from %v: missing reply-to query", a)
		return ack(gocoap.BadRequest)
	}

	replyAddr, err := parseReplyTo(replyTo)
	if err != nil {
		log.Warningf("coap: rejecting request from %v: malformed reply-to %q: %v", a, replyTo, err)
		return ack(gocoap.BadRequest)
	}

	b.inbound.Put(transport.QueueItem{
		Payload:   m.Payload,
		ReplyTo:   replyAddr,
		CreatedAt: time.Now(),
	})

	return ack(gocoap.Changed)
}

// parseReplyTo parses "host:port/path" into an Addr.
func parseReplyTo(replyTo string) (transport.Addr, error) {
	hostPort := replyTo
	path := resourcePath
	if idx := strings.IndexByte(replyTo, '/'); idx >= 0 {
		hostPort = replyTo[:idx]
		path = replyTo[idx+1:]
	}
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return transport.Addr{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return transport.Addr{}, err
	}
	return transport.Addr{Protocol: "CoAP", CoAPHost: host, CoAPPort: port, CoAPPath: path}, nil
}

// Send issues a confirmable POST carrying payload to to, tagging the
// request with our own reply-to authority so the recipient can respond.
func (b *Binding) Send(payload []byte, to transport.Addr) error {
	b.mu.Lock()
	self := b.self
	b.mu.Unlock()

	addr := net.JoinHostPort(to.CoAPHost, strconv.Itoa(to.CoAPPort))
	conn, err := gocoap.Dial("udp", addr)
	if err != nil {
		return fmt.Errorf("coap: dial %s: %w", addr, err)
	}
	defer conn.Close()

	path := to.CoAPPath
	if path == "" {
		path = resourcePath
	}

	req := gocoap.Message{
		Type:      gocoap.Confirmable,
		Code:      gocoap.POST,
		MessageID: uint16(time.Now().UnixNano()),
		Payload:   payload,
	}
	req.SetPathString(path)
	req.SetOption(gocoap.ContentFormat, contentFormatOctetStream)
	req.SetOption(gocoap.URIQuery, fmt.Sprintf("%s=%s:%d/%s", replyToQuery, self.CoAPHost, self.CoAPPort, resourcePath))

	if _, err := conn.Send(req); err != nil {
		return fmt.Errorf("coap: send to %s: %w", addr, err)
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
	if b.listener == nil {
		return nil
	}
	return b.listener.Close()
}
