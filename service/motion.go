// Package service implements the narrow hardware collaborators a product
// class registers with the dispatcher's Operate handling (spec.md 6), plus
// the motion detector, which runs autonomously in the background and writes
// straight to the instance store rather than answering an Operate.
package service

import (
	"time"

	log "github.com/golang/glog"
	"github.com/stianeikeland/go-rpio"

	"github.com/arris-iot/usp-agent/datamodel"
)

const (
	minTriggerFreqPath  = "Device.Services.HomeAutomation.1.Sensor.1.MinTriggerFreq"
	lastTriggerTimePath = "Device.Services.HomeAutomation.1.Sensor.1.LastTriggerTime"
)

// MotionDetector polls a GPIO pin for rising/falling transitions and
// persists a detection event to the store, throttled by MinTriggerFreq.
type MotionDetector struct {
	pin      rpio.Pin
	store    *datamodel.Store
	pollRate time.Duration
	stopCh   chan struct{}
}

// NewMotionDetector opens the GPIO chip and configures pinNum as an
// input with a pull-down, mirroring the original's GPIO.setup(pin, IN,
// PUD_DOWN). Callers must call Stop when done.
func NewMotionDetector(pinNum int, store *datamodel.Store) (*MotionDetector, error) {
	if err := rpio.Open(); err != nil {
		return nil, err
	}
	pin := rpio.Pin(pinNum)
	pin.Input()
	pin.PullDown()
	pin.Detect(rpio.AnyEdge)

	return &MotionDetector{pin: pin, store: store, pollRate: 100 * time.Millisecond, stopCh: make(chan struct{})}, nil
}

// Run polls for edge transitions until Stop is called. go-rpio has no
// callback-based event API (unlike RPi.GPIO's add_event_detect), so this
// polls EdgeDetected at pollRate instead.
func (m *MotionDetector) Run() {
	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(m.pollRate):
		}
		if m.pin.EdgeDetected() {
			m.actOnDetectedMotion()
		}
	}
}

func (m *MotionDetector) actOnDetectedMotion() {
	if m.pin.Read() != rpio.High {
		return
	}

	minFreq, err := m.store.GetInt(minTriggerFreqPath)
	if err != nil {
		log.Warningf("motion: %s is not set, skipping", minTriggerFreqPath)
		return
	}

	lastTriggerStr, _ := m.store.Get(lastTriggerTimePath)
	var lastTrigger time.Time
	if lastTriggerStr != "" {
		if t, err := time.Parse(time.RFC3339, lastTriggerStr); err == nil {
			lastTrigger = t
		}
	}

	now := time.Now()
	if now.Sub(lastTrigger) <= time.Duration(minFreq)*time.Second {
		log.Infof("motion: detected, but too soon to update the store")
		return
	}

	log.Infof("motion: detected, updating the store")
	if err := m.store.Update(lastTriggerTimePath, now.Format(time.RFC3339)); err != nil {
		log.Warningf("motion: failed to record detection: %v", err)
	}
}

// Stop terminates Run and releases the GPIO chip.
func (m *MotionDetector) Stop() {
	close(m.stopCh)
	rpio.Close()
}
