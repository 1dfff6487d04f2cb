package subscription

import (
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/arris-iot/usp-agent/datamodel"
	"github.com/arris-iot/usp-agent/transport"
	"github.com/arris-iot/usp-agent/usp"
)

// DefaultPollInterval is the poll cadence used when none is configured
// (spec.md 4.7).
const DefaultPollInterval = 500 * time.Millisecond

type watchEntry struct {
	fromID, toID, subscriptionID string
	addr                         transport.Addr
	binding                      transport.Binding
}

// Poller is C8: a single cooperative loop sampling every watched path at a
// fixed interval, emitting a ValueChange notification on change. add_param
// and remove_param are the only methods another goroutine calls; the run
// loop otherwise owns the watch set.
type Poller struct {
	store    *datamodel.Store
	interval time.Duration

	mu        sync.Mutex
	watchList []string
	cache     map[string]string
	details   map[string]watchEntry

	stopCh chan struct{}
}

// NewPoller builds a Poller over store sampling at interval (DefaultPollInterval
// if interval <= 0).
func NewPoller(store *datamodel.Store, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		store:    store,
		interval: interval,
		cache:    make(map[string]string),
		details:  make(map[string]watchEntry),
		stopCh:   make(chan struct{}),
	}
}

// AddParam registers param for polling; its current value seeds the cache so
// the first sample after registration is never mistaken for a change.
func (p *Poller) AddParam(param, fromID, toID string, addr transport.Addr, binding transport.Binding, subscriptionID string) {
	value, _ := p.store.Get(param)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[param] = value
	p.watchList = append(p.watchList, param)
	p.details[param] = watchEntry{fromID: fromID, toID: toID, subscriptionID: subscriptionID, addr: addr, binding: binding}
	log.Infof("poller: watching %s for subscription %s", param, subscriptionID)
}

// RemoveParam drops param from the watch set.
func (p *Poller) RemoveParam(param string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, param)
	delete(p.details, param)
	for i, v := range p.watchList {
		if v == param {
			p.watchList = append(p.watchList[:i:i], p.watchList[i+1:]...)
			break
		}
	}
}

// Run drives the poll loop until Stop is called. Meant to be launched with
// `go poller.Run()`.
func (p *Poller) Run() {
	for {
		select {
		case <-p.stopCh:
			return
		case <-time.After(p.interval):
		}

		p.mu.Lock()
		snapshot := append([]string(nil), p.watchList...)
		p.mu.Unlock()

		for _, param := range snapshot {
			value, err := p.store.Get(param)
			if err != nil {
				continue
			}

			p.mu.Lock()
			_, ok := p.details[param]
			changed := p.cache[param] != value
			if changed {
				p.cache[param] = value
			}
			p.mu.Unlock()

			if changed && ok {
				p.notify(param, value)
			}
		}
	}
}

func (p *Poller) notify(param, value string) {
	p.mu.Lock()
	entry, ok := p.details[param]
	p.mu.Unlock()
	if !ok {
		return
	}

	log.Infof("poller: value change detected for %s", param)
	msg := usp.BuildValueChangeNotification(entry.fromID, entry.toID, entry.subscriptionID, param, value)
	rec := usp.WrapInRecord(entry.fromID, entry.toID, msg)
	if err := entry.binding.Send(usp.EncodeRecord(rec), entry.addr); err != nil {
		log.Warningf("poller: failed to send ValueChange notification for %s: %v", param, err)
	}
}

// Stop terminates Run.
func (p *Poller) Stop() {
	close(p.stopCh)
}
