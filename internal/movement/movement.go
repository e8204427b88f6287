// Package movement turns raw door events into a coherent crossing picture:
// it remembers which side of the door recently saw presence (dwell), and when
// a new movement record lands it drives a doorway-crossing animation in the
// direction the record names. One crossing runs at a time; records arriving
// mid-animation are ignored.
package movement

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/types"
)

// Animation phases
const (
	PhaseIdle     = "idle"
	PhaseMoving   = "moving"
	PhaseSettling = "settling"
)

// Travel directions across the doorway
const (
	TravelLeftToRight = "left_to_right" // exiting
	TravelRightToLeft = "right_to_left" // entering
)

// Animation geometry
const (
	positionMin = 0
	positionMax = 100
)

// State is a frame of the crossing picture
type State struct {
	Phase        string `json:"phase"`
	Travel       string `json:"travel,omitempty"`
	Position     int    `json:"position"`
	RFIDTag      string `json:"rfid_tag,omitempty"`
	FirstSide    string `json:"first_side,omitempty"` // sensor side that saw the crossing first
	DwellInside  bool   `json:"dwell_inside"`
	DwellOutside bool   `json:"dwell_outside"`
}

// Config tunes the correlator. The defaults match the door panel's display
// rhythm; tests shrink them.
type Config struct {
	DwellTime    time.Duration // how long a sensor pulse counts as presence
	TickInterval time.Duration // animation frame interval
	Step         int           // position units advanced per frame
	SettleTime   time.Duration // pause at the far side before reset
}

// DefaultConfig returns the standard correlator tuning
func DefaultConfig() Config {
	return Config{
		DwellTime:    3 * time.Second,
		TickInterval: 30 * time.Millisecond,
		Step:         2,
		SettleTime:   500 * time.Millisecond,
	}
}

// Correlator runs the dwell memory and the crossing animation. Frames are
// delivered through the OnFrame callback; a Snapshot is available at any time.
type Correlator struct {
	cfg     Config
	logger  *logrus.Entry
	onFrame func(State)

	mu        sync.Mutex
	phase     string
	travel    string
	position  int
	tag       string
	firstSide string
	dwell     map[string]bool
	dwellGen  map[string]uint64
	dwellTmr  map[string]*time.Timer
	closed    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCorrelator creates an idle correlator
func NewCorrelator(cfg Config, logger *logrus.Logger) *Correlator {
	return &Correlator{
		cfg:      cfg,
		logger:   logger.WithField("component", "movement"),
		phase:    PhaseIdle,
		dwell:    make(map[string]bool),
		dwellGen: make(map[string]uint64),
		dwellTmr: make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}
}

// OnFrame registers the frame callback. Must be set before events arrive.
func (c *Correlator) OnFrame(fn func(State)) {
	c.onFrame = fn
}

// Snapshot returns the current crossing state
func (c *Correlator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// SensorPulse folds a presence pulse into the dwell memory. A detection arms
// the dwell window; a cleared pulse drops the flag at once and cancels the
// pending window, so presence never outlives what the sensor reports.
func (c *Correlator) SensorPulse(activity types.SensorActivity) {
	if !types.IsValidLocation(activity.Location) {
		c.logger.WithField("location", activity.Location).Warn("Pulse from unknown sensor location")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	location := activity.Location
	if !activity.Detected {
		c.dwellGen[location]++
		if t := c.dwellTmr[location]; t != nil {
			t.Stop()
			delete(c.dwellTmr, location)
		}
		if !c.dwell[location] {
			c.mu.Unlock()
			return
		}
		c.dwell[location] = false
		frame := c.stateLocked()
		c.mu.Unlock()
		c.emit(frame)
		return
	}
	c.dwell[location] = true
	c.dwellGen[location]++
	gen := c.dwellGen[location]
	if t := c.dwellTmr[location]; t != nil {
		t.Stop()
	}
	c.dwellTmr[location] = time.AfterFunc(c.cfg.DwellTime, func() {
		c.mu.Lock()
		if gen != c.dwellGen[location] || c.closed {
			c.mu.Unlock()
			return
		}
		c.dwell[location] = false
		frame := c.stateLocked()
		c.mu.Unlock()
		c.emit(frame)
	})
	frame := c.stateLocked()
	c.mu.Unlock()
	c.emit(frame)
}

// RecordArrived starts a crossing animation for a freshly observed movement
// record. The travel side comes from the record's direction text; text that
// names neither side is ignored. A crossing already in flight wins: the new
// record does not restart or queue an animation.
func (c *Correlator) RecordArrived(record types.MovementRecord) {
	travel, ok := travelFor(record.Direction)
	if !ok {
		c.logger.WithField("direction", record.Direction).Debug("Record direction names no travel side, skipping")
		return
	}

	c.mu.Lock()
	if c.closed || c.phase != PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.phase = PhaseMoving
	c.travel = travel
	c.tag = record.RFIDTag
	if travel == TravelRightToLeft {
		c.position = positionMax
		c.firstSide = types.LocationOutside
	} else {
		c.position = positionMin
		c.firstSide = types.LocationInside
	}
	frame := c.stateLocked()
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"rfid_tag": record.RFIDTag,
		"travel":   travel,
	}).Info("Crossing started")

	c.emit(frame)

	// The crossing is now confirmed, so the raw presence indicators should
	// not outlive it: release the dwell flags shortly after the start.
	time.AfterFunc(c.cfg.SettleTime, c.clearDwell)

	c.wg.Add(1)
	go c.animate(travel)
}

// clearDwell drops both dwell flags and their pending timers
func (c *Correlator) clearDwell() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := false
	for _, loc := range []string{types.LocationInside, types.LocationOutside} {
		if c.dwell[loc] {
			c.dwell[loc] = false
			changed = true
		}
		c.dwellGen[loc]++
		if t := c.dwellTmr[loc]; t != nil {
			t.Stop()
			delete(c.dwellTmr, loc)
		}
	}
	frame := c.stateLocked()
	c.mu.Unlock()
	if changed {
		c.emit(frame)
	}
}

// Close stops timers and any running animation
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for loc, t := range c.dwellTmr {
		t.Stop()
		delete(c.dwellTmr, loc)
	}
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

// animate steps the position across the doorway, settles, then resets
func (c *Correlator) animate(travel string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if travel == TravelRightToLeft {
			c.position -= c.cfg.Step
			if c.position < positionMin {
				c.position = positionMin
			}
		} else {
			c.position += c.cfg.Step
			if c.position > positionMax {
				c.position = positionMax
			}
		}
		done := c.position == positionMax
		if travel == TravelRightToLeft {
			done = c.position == positionMin
		}
		if done {
			c.phase = PhaseSettling
		}
		frame := c.stateLocked()
		c.mu.Unlock()
		c.emit(frame)

		if done {
			break
		}
	}

	select {
	case <-c.stopCh:
		return
	case <-time.After(c.cfg.SettleTime):
	}

	c.mu.Lock()
	c.phase = PhaseIdle
	c.travel = ""
	c.tag = ""
	c.firstSide = ""
	c.position = positionMin
	frame := c.stateLocked()
	c.mu.Unlock()
	c.emit(frame)
}

func (c *Correlator) stateLocked() State {
	return State{
		Phase:        c.phase,
		Travel:       c.travel,
		Position:     c.position,
		RFIDTag:      c.tag,
		FirstSide:    c.firstSide,
		DwellInside:  c.dwell[types.LocationInside],
		DwellOutside: c.dwell[types.LocationOutside],
	}
}

func (c *Correlator) emit(frame State) {
	if c.onFrame != nil {
		c.onFrame(frame)
	}
}

// travelFor maps a record's direction text onto a travel side. Entries come
// in from the right, exits leave to the right. The normalized feed values are
// matched exactly; anything else matches on substrings so compound direction
// text ("entry confirmed") still animates.
func travelFor(direction string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(direction))
	switch d {
	case "in":
		return TravelRightToLeft, true
	case "out":
		return TravelLeftToRight, true
	}
	switch {
	case strings.Contains(d, "entry") || strings.Contains(d, "outside"):
		return TravelRightToLeft, true
	case strings.Contains(d, "exit") || strings.Contains(d, "inside"):
		return TravelLeftToRight, true
	}
	return "", false
}
