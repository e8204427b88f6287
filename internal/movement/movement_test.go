package movement

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfid-door-panel/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func fastConfig() Config {
	return Config{
		DwellTime:    40 * time.Millisecond,
		TickInterval: time.Millisecond,
		Step:         25,
		SettleTime:   10 * time.Millisecond,
	}
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []State
}

func (r *frameRecorder) record(s State) {
	r.mu.Lock()
	r.frames = append(r.frames, s)
	r.mu.Unlock()
}

func (r *frameRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.frames...)
}

func TestTravelFor(t *testing.T) {
	tests := []struct {
		direction string
		want      string
		ok        bool
	}{
		{"IN", TravelRightToLeft, true},
		{"entry", TravelRightToLeft, true},
		{"outside", TravelRightToLeft, true},
		{"OUT", TravelLeftToRight, true},
		{"exit", TravelLeftToRight, true},
		{"inside", TravelLeftToRight, true},
		{" Entry ", TravelRightToLeft, true},
		{"entry confirmed", TravelRightToLeft, true},
		{"Exit (manual)", TravelLeftToRight, true},
		{"seen outside", TravelRightToLeft, true},
		{"sideways", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := travelFor(tt.direction)
		assert.Equal(t, tt.ok, ok, "direction %q", tt.direction)
		assert.Equal(t, tt.want, got, "direction %q", tt.direction)
	}
}

func TestEntryStartsFromTheRight(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry"})

	snap := c.Snapshot()
	assert.Equal(t, PhaseMoving, snap.Phase)
	assert.Equal(t, TravelRightToLeft, snap.Travel)
	assert.Equal(t, "TAG-1", snap.RFIDTag)
}

func TestCompoundDirectionTextAnimates(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry confirmed"})

	snap := c.Snapshot()
	assert.Equal(t, PhaseMoving, snap.Phase)
	assert.Equal(t, TravelRightToLeft, snap.Travel)
}

func TestUnmappedDirectionIsIgnored(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "sideways"})

	assert.Equal(t, PhaseIdle, c.Snapshot().Phase)
}

func TestCrossingRunsToCompletion(t *testing.T) {
	rec := &frameRecorder{}
	c := NewCorrelator(fastConfig(), testLogger())
	c.OnFrame(rec.record)
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "exit"})

	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == PhaseIdle
	}, time.Second, time.Millisecond, "crossing never settled back to idle")

	frames := rec.snapshot()
	require.NotEmpty(t, frames)

	// Position only ever advances toward the far side and stays in bounds.
	last := -1
	sawSettling := false
	for _, f := range frames {
		assert.GreaterOrEqual(t, f.Position, positionMin)
		assert.LessOrEqual(t, f.Position, positionMax)
		if f.Phase == PhaseMoving {
			assert.Greater(t, f.Position, last)
			last = f.Position
		}
		if f.Phase == PhaseSettling {
			sawSettling = true
			assert.Equal(t, positionMax, f.Position)
		}
	}
	assert.True(t, sawSettling, "crossing never reached the settling phase")

	final := frames[len(frames)-1]
	assert.Equal(t, PhaseIdle, final.Phase)
	assert.Empty(t, final.RFIDTag)
	assert.Equal(t, positionMin, final.Position)
}

func TestRecordDuringCrossingIsIgnored(t *testing.T) {
	cfg := fastConfig()
	cfg.TickInterval = 10 * time.Millisecond // slow enough to observe mid-flight
	c := NewCorrelator(cfg, testLogger())
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry"})
	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-2", Direction: "exit"})

	snap := c.Snapshot()
	assert.Equal(t, TravelRightToLeft, snap.Travel)
	assert.Equal(t, "TAG-1", snap.RFIDTag)
}

func TestSensorDwellDecays(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: true})
	assert.True(t, c.Snapshot().DwellInside)

	require.Eventually(t, func() bool {
		return !c.Snapshot().DwellInside
	}, time.Second, time.Millisecond, "dwell never decayed")
}

func TestClearedPulseDropsDwellImmediately(t *testing.T) {
	cfg := fastConfig()
	cfg.DwellTime = time.Minute
	c := NewCorrelator(cfg, testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: types.LocationOutside, Detected: true})
	require.True(t, c.Snapshot().DwellOutside)

	c.SensorPulse(types.SensorActivity{Location: types.LocationOutside, Detected: false})
	assert.False(t, c.Snapshot().DwellOutside)
}

func TestClearedPulseCancelsPendingWindow(t *testing.T) {
	cfg := fastConfig()
	cfg.DwellTime = 20 * time.Millisecond
	c := NewCorrelator(cfg, testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: true})
	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: false})
	// Re-arm after the clear; the cancelled window must not flip this one.
	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: true})

	time.Sleep(10 * time.Millisecond)
	assert.True(t, c.Snapshot().DwellInside)
}

func TestClearedPulseForIdleSensorIsQuiet(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	var frames int
	c.OnFrame(func(State) { frames++ })

	c.SensorPulse(types.SensorActivity{Location: types.LocationOutside, Detected: false})
	assert.False(t, c.Snapshot().DwellOutside)
	assert.Zero(t, frames)
}

func TestRepeatedPulsesExtendDwell(t *testing.T) {
	cfg := fastConfig()
	cfg.DwellTime = 50 * time.Millisecond
	c := NewCorrelator(cfg, testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: true})
	time.Sleep(30 * time.Millisecond)
	c.SensorPulse(types.SensorActivity{Location: types.LocationInside, Detected: true})
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first pulse but only 30ms after the second.
	assert.True(t, c.Snapshot().DwellInside)
}

func TestUnknownLocationIsIgnored(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: "roof", Detected: true})

	snap := c.Snapshot()
	assert.False(t, snap.DwellInside)
	assert.False(t, snap.DwellOutside)
}

func TestCrossingMarksFirstDetectedSide(t *testing.T) {
	c := NewCorrelator(fastConfig(), testLogger())
	defer c.Close()

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry"})
	assert.Equal(t, types.LocationOutside, c.Snapshot().FirstSide)

	require.Eventually(t, func() bool {
		return c.Snapshot().Phase == PhaseIdle
	}, time.Second, time.Millisecond)
	assert.Empty(t, c.Snapshot().FirstSide)
}

func TestCrossingReleasesDwell(t *testing.T) {
	cfg := fastConfig()
	cfg.DwellTime = time.Minute // would outlive the test without the crossing reset
	c := NewCorrelator(cfg, testLogger())
	defer c.Close()

	c.SensorPulse(types.SensorActivity{Location: types.LocationOutside, Detected: true})
	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry"})

	require.Eventually(t, func() bool {
		return !c.Snapshot().DwellOutside
	}, time.Second, time.Millisecond, "crossing never released the dwell flag")
}

func TestCloseStopsAnimation(t *testing.T) {
	cfg := fastConfig()
	cfg.TickInterval = 5 * time.Millisecond
	c := NewCorrelator(cfg, testLogger())

	c.RecordArrived(types.MovementRecord{RFIDTag: "TAG-1", Direction: "entry"})
	c.Close()

	// Close must return with the animation goroutine stopped; a second call
	// is a no-op.
	c.Close()
}
