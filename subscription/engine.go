// Package subscription implements the subscription engine (C7) and the
// value-change poller (C8): at startup it scans the subscription table and
// turns each enabled row into a one-shot Boot sender, a recurring Periodic
// task, or a watch registration with the poller.
package subscription

import (
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/datamodel"
	"github.com/arris-iot/usp-agent/transport"
	"github.com/arris-iot/usp-agent/usp"
)

const (
	notifBoot        = "Boot"
	notifPeriodic    = "Periodic"
	notifValueChange = "ValueChange"
)

// legacySubscriptionRoots are the two roots seen across the source's
// revisions (spec.md 9's design note); whichever one the loaded schema
// actually declares wins, so this is a runtime choice and never hard-coded.
var legacySubscriptionRoots = []string{
	"Device.LocalAgent.Subscription.",
	"Device.Subscription.",
}

// DetectSubscriptionRoot picks whichever of legacySubscriptionRoots the
// schema declares entries under. Returns "" if neither is present.
func DetectSubscriptionRoot(schema *datamodel.Schema) string {
	for _, root := range legacySubscriptionRoots {
		for _, key := range schema.Keys() {
			if strings.HasPrefix(key, root) {
				return root
			}
		}
	}
	return ""
}

// Engine is C7.
type Engine struct {
	endpointID string
	store      *datamodel.Store
	root       string
	bindings   map[string]transport.Binding // keyed by Binding.Protocol()
	poller     *Poller

	mu           sync.Mutex
	periodicStop []chan struct{}
}

// NewEngine builds an Engine rooted at subscriptionRoot (see
// DetectSubscriptionRoot), sending from endpointID, reading rows from store,
// and dispatching to whichever of bindings matches an MTP's Protocol.
func NewEngine(endpointID, subscriptionRoot string, store *datamodel.Store, bindings map[string]transport.Binding, poller *Poller) *Engine {
	return &Engine{
		endpointID: endpointID,
		store:      store,
		root:       subscriptionRoot,
		bindings:   bindings,
		poller:     poller,
	}
}

// Init scans the subscription table once (spec.md 4.6) and starts Boot
// senders, Periodic tasks, and poller watches for every row that qualifies.
// It never re-scans; subscriptions added afterward are out of scope.
func (e *Engine) Init() {
	if e.root == "" {
		log.Warningf("subscription: no subscription table found in the loaded schema, skipping init")
		return
	}

	rows, err := e.store.FindInstances(e.root)
	if err != nil {
		log.Warningf("subscription: failed to enumerate %s: %v", e.root, err)
		return
	}

	for _, row := range rows {
		e.handleSubscription(row)
	}
}

func (e *Engine) handleSubscription(row string) {
	enable, err := e.store.GetBool(row + "Enable")
	if err != nil || !enable {
		return
	}

	subID, _ := e.store.Get(row + "ID")
	notifType, _ := e.store.Get(row + "NotifType")
	recipient, _ := e.store.Get(row + "Recipient")
	refList, _ := e.store.Get(row + "ReferenceList")

	if notifType != notifBoot && notifType != notifPeriodic && notifType != notifValueChange {
		log.Warningf("subscription: skipping %s, unhandled NotifType [%s]", subID, notifType)
		return
	}

	controllerEnable, err := e.store.GetBool(recipient + "Enable")
	if err != nil || !controllerEnable {
		log.Warningf("subscription: skipping %s, controller %s is disabled or missing", subID, recipient)
		return
	}
	controllerID, err := e.store.Get(recipient + "EndpointID")
	if err != nil {
		log.Warningf("subscription: skipping %s, controller %s has no EndpointID", subID, recipient)
		return
	}

	mtpRows, err := e.store.FindInstances(recipient + "MTP.")
	if err != nil {
		log.Warningf("subscription: skipping %s, failed to enumerate MTPs for %s: %v", subID, recipient, err)
		return
	}

	refs := splitRefs(refList)
	matched := false

	for _, mtpRow := range mtpRows {
		mtpEnable, err := e.store.GetBool(mtpRow + "Enable")
		if err != nil || !mtpEnable {
			continue
		}
		protocol, err := e.store.Get(mtpRow + "Protocol")
		if err != nil {
			continue
		}
		binding, ok := e.bindings[protocol]
		if !ok {
			continue
		}

		addr, err := e.mtpAddr(mtpRow, protocol)
		if err != nil {
			log.Warningf("subscription: skipping MTP %s for %s: %v", mtpRow, subID, err)
			continue
		}
		matched = true

		switch notifType {
		case notifBoot:
			e.sendBootOnce(subID, controllerID, addr, binding)
		case notifPeriodic:
			if len(refs) == 0 {
				log.Warningf("subscription: skipping Periodic %s, empty ReferenceList", subID)
				continue
			}
			e.startPeriodic(subID, controllerID, addr, binding, refs[0])
		case notifValueChange:
			for _, param := range refs {
				e.poller.AddParam(param, e.endpointID, controllerID, addr, binding, subID)
			}
		}
	}

	if !matched {
		log.Warningf("subscription: skipping %s, no enabled MTP matches a configured binding", subID)
	}
}

func splitRefs(refList string) []string {
	var out []string
	for _, p := range strings.Split(refList, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) mtpAddr(mtpRow, protocol string) (transport.Addr, error) {
	switch protocol {
	case "CoAP":
		host, _ := e.store.Get(mtpRow + "CoAP.Host")
		path, _ := e.store.Get(mtpRow + "CoAP.Path")
		portStr, err := e.store.Get(mtpRow + "CoAP.Port")
		if err != nil {
			return transport.Addr{}, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return transport.Addr{}, err
		}
		return transport.Addr{Protocol: "CoAP", CoAPHost: host, CoAPPort: port, CoAPPath: path}, nil

	case "STOMP":
		ref, err := e.store.Get(mtpRow + "STOMP.Reference")
		if err != nil {
			return transport.Addr{}, err
		}
		host, _ := e.store.Get(ref + "Host")
		user, _ := e.store.Get(ref + "Username")
		pass, _ := e.store.Get(ref + "Password")
		vhost, _ := e.store.Get(ref + "VirtualHost")
		dest, _ := e.store.Get(mtpRow + "STOMP.Destination")
		portStr, err := e.store.Get(ref + "Port")
		if err != nil {
			return transport.Addr{}, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return transport.Addr{}, err
		}
		return transport.Addr{
			Protocol: "STOMP", STOMPHost: host, STOMPPort: port, STOMPUsername: user,
			STOMPPassword: pass, STOMPVirtualHost: vhost, STOMPDestination: dest,
		}, nil
	}
	return transport.Addr{}, &unsupportedProtocolError{protocol}
}

type unsupportedProtocolError struct{ protocol string }

func (e *unsupportedProtocolError) Error() string { return "unsupported MTP protocol " + e.protocol }

func (e *Engine) sendBootOnce(subID, controllerID string, addr transport.Addr, binding transport.Binding) {
	msg := usp.BuildBootNotification(e.endpointID, controllerID, subID, e.store)
	rec := usp.WrapInRecord(e.endpointID, controllerID, msg)
	if err := binding.Send(usp.EncodeRecord(rec), addr); err != nil {
		log.Warningf("subscription: failed to send Boot notification for %s: %v", subID, err)
		return
	}
	log.Infof("subscription: sent Boot notification for %s to %s", subID, controllerID)
}

func (e *Engine) startPeriodic(subID, controllerID string, addr transport.Addr, binding transport.Binding, paramPath string) {
	stop := make(chan struct{})
	e.mu.Lock()
	e.periodicStop = append(e.periodicStop, stop)
	e.mu.Unlock()

	go func() {
		for {
			intervalStr, err := e.store.Get(paramPath + "PeriodicInterval")
			if err != nil {
				log.Infof("subscription: periodic notifier for %s stopping, %s no longer exists", subID, paramPath)
				return
			}
			interval, err := strconv.Atoi(intervalStr)
			if err != nil || interval <= 0 {
				interval = 1
			}

			select {
			case <-stop:
				return
			case <-time.After(time.Duration(interval) * time.Second):
			}

			log.Infof("subscription: sending Periodic notification for %s to %s", subID, controllerID)
			msg := usp.BuildPeriodicNotification(e.endpointID, controllerID, subID, paramPath)
			rec := usp.WrapInRecord(e.endpointID, controllerID, msg)
			if err := binding.Send(usp.EncodeRecord(rec), addr); err != nil {
				log.Warningf("subscription: failed to send Periodic notification for %s: %v", subID, err)
			}
		}
	}()
}

// Stop terminates every Periodic task this Engine started. Boot senders are
// one-shot and need no teardown; the poller is stopped separately by its
// owner.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, stop := range e.periodicStop {
		close(stop)
	}
	e.periodicStop = nil
}
