// Package state holds the panel's live view of the door system: status,
// statistics, the bounded movement record list and the ephemeral tag and
// sensor indicators. The store is a passive mutex-guarded snapshot target;
// the channel client writes into it and readers take copies out.
package state

import (
	"sync"

	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/types"
)

// Snapshot is a point-in-time copy of the live state
type Snapshot struct {
	Connected    bool                   `json:"connected"`
	Status       types.SystemStatus     `json:"status"`
	Statistics   types.Statistics       `json:"statistics"`
	Records      []types.MovementRecord `json:"records"`
	LastTag      *types.TagDetection    `json:"last_tag,omitempty"`
	SensorInside bool                   `json:"sensor_inside"`
	SensorOutside bool                  `json:"sensor_outside"`
	RFIDPower    int                    `json:"rfid_power"`
	SensorRange  map[string]int         `json:"sensor_range"`
}

// Store is the live state container. A zero Store is not usable; construct
// with NewStore.
type Store struct {
	mu          sync.RWMutex
	connected   bool
	status      types.SystemStatus
	statistics  types.Statistics
	records     []types.MovementRecord
	lastTag     *types.TagDetection
	sensors     map[string]bool
	rfidPower   int
	sensorRange map[string]int

	recordLimit int
	logger      *logrus.Entry

	// onGrowth fires when the record list grows, with the newest record.
	// Growth is judged by length alone: a bulk replace that shrinks or keeps
	// the length does not fire.
	onGrowth func(types.MovementRecord)
}

// NewStore creates a store keeping at most recordLimit records in memory.
// A non-positive limit disables the bound.
func NewStore(recordLimit int, logger *logrus.Logger) *Store {
	return &Store{
		sensors:     make(map[string]bool),
		sensorRange: make(map[string]int),
		recordLimit: recordLimit,
		logger:      logger.WithField("component", "state"),
	}
}

// OnRecordGrowth registers the callback fired when the record list grows.
// Must be called before the store starts receiving events.
func (s *Store) OnRecordGrowth(fn func(types.MovementRecord)) {
	s.onGrowth = fn
}

// SetConnected updates the connectivity flag
func (s *Store) SetConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// SetStatus replaces the status snapshot wholesale
func (s *Store) SetStatus(status types.SystemStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetStatistics replaces the statistics snapshot wholesale
func (s *Store) SetStatistics(stats types.Statistics) {
	s.mu.Lock()
	s.statistics = stats
	s.mu.Unlock()
}

// ReplaceRecords swaps in a full record list, newest first. Fires the growth
// callback with the newest record when the new list is longer than the old.
func (s *Store) ReplaceRecords(records []types.MovementRecord) {
	s.mu.Lock()
	grew := len(records) > len(s.records)
	s.records = append([]types.MovementRecord(nil), records...)
	s.trimLocked()
	var newest types.MovementRecord
	if grew && len(s.records) > 0 {
		newest = s.records[0]
	}
	s.mu.Unlock()

	if grew && s.onGrowth != nil {
		s.onGrowth(newest)
	}
}

// AddRecord prepends a single record and fires the growth callback
func (s *Store) AddRecord(record types.MovementRecord) {
	s.mu.Lock()
	s.records = append([]types.MovementRecord{record}, s.records...)
	s.trimLocked()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"rfid_tag":  record.RFIDTag,
		"direction": record.Direction,
	}).Debug("Record added")

	if s.onGrowth != nil {
		s.onGrowth(record)
	}
}

// ClearRecords drops the record list without firing the growth callback
func (s *Store) ClearRecords() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
	s.logger.Info("Record list cleared")
}

// SetTag updates the ephemeral last-read tag; nil clears it
func (s *Store) SetTag(tag *types.TagDetection) {
	s.mu.Lock()
	s.lastTag = tag
	s.mu.Unlock()
}

// SetSensor updates one sensor's activity flag
func (s *Store) SetSensor(location string, detected bool) {
	s.mu.Lock()
	s.sensors[location] = detected
	s.mu.Unlock()
}

// SetRFIDPower records the reader transmit power
func (s *Store) SetRFIDPower(power int) {
	s.mu.Lock()
	s.rfidPower = power
	s.mu.Unlock()
}

// SetSensorRange records one sensor's configured range
func (s *Store) SetSensorRange(location string, rangeM int) {
	s.mu.Lock()
	s.sensorRange[location] = rangeM
	s.mu.Unlock()
}

// ApplyConfig folds a config_update event into the store
func (s *Store) ApplyConfig(cfg types.ConfigUpdate) {
	s.mu.Lock()
	if cfg.RFIDPower != 0 {
		s.rfidPower = cfg.RFIDPower
	}
	if cfg.SensorRange != 0 {
		s.sensorRange[types.LocationInside] = cfg.SensorRange
		s.sensorRange[types.LocationOutside] = cfg.SensorRange
	}
	s.mu.Unlock()
}

// Reset drops all live state, used when the channel reconnects and a fresh
// backfill is about to replace everything.
func (s *Store) Reset() {
	s.mu.Lock()
	s.status = types.SystemStatus{}
	s.statistics = types.Statistics{}
	s.records = nil
	s.lastTag = nil
	s.sensors = make(map[string]bool)
	s.mu.Unlock()
}

// Records returns a copy of the current record list, newest first
func (s *Store) Records() []types.MovementRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.MovementRecord(nil), s.records...)
}

// RecordCount returns the current record list length
func (s *Store) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns a copy of the full live state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Connected:     s.connected,
		Status:        s.status,
		Statistics:    s.statistics,
		Records:       append([]types.MovementRecord(nil), s.records...),
		SensorInside:  s.sensors[types.LocationInside],
		SensorOutside: s.sensors[types.LocationOutside],
		RFIDPower:     s.rfidPower,
		SensorRange:   make(map[string]int, len(s.sensorRange)),
	}
	if s.lastTag != nil {
		tag := *s.lastTag
		snap.LastTag = &tag
	}
	for loc, r := range s.sensorRange {
		snap.SensorRange[loc] = r
	}
	return snap
}

func (s *Store) trimLocked() {
	if s.recordLimit > 0 && len(s.records) > s.recordLimit {
		s.records = s.records[:s.recordLimit]
	}
}
