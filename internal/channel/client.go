// Package channel maintains the persistent push-event connection to the door
// appliance. It owns reconnection, translates the named server events into
// typed handler callbacks, and emits outbound commands. Transport failures
// never propagate to callers: they only flip the connectivity flag.
package channel

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/types"
)

// Inbound event names pushed by the appliance
const (
	EventConnectionEstablished = "connection_established"
	EventStatusUpdate          = "status_update"
	EventStatisticsUpdate      = "statistics_update"
	EventRecordsUpdate         = "records_update"
	EventTagDetected           = "tag_detected"
	EventRecordAdded           = "record_added"
	EventSensorActivity        = "sensor_activity"
	EventConfigUpdate          = "config_update"
	EventRFIDPowerUpdated      = "rfid_power_updated"
	EventSensorRangeUpdated    = "sensor_range_updated"
	EventError                 = "error"
	EventSuccess               = "success"
	EventRecordsCleared        = "records_cleared"
	EventPong                  = "pong"
)

// Outbound command names
const (
	CommandRequestStatus        = "request_status"
	CommandRequestStatistics    = "request_statistics"
	CommandRequestRecords       = "request_records"
	CommandConfigureRFIDPower   = "configure_rfid_power"
	CommandConfigureSensorRange = "configure_sensor_range"
	CommandAddManualRecord      = "add_manual_record"
	CommandClearRecords         = "clear_records"
	CommandPing                 = "ping"
)

// Message is the JSON envelope exchanged on the channel
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RecordFilter narrows a request_records command
type RecordFilter struct {
	Direction string `json:"direction,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	RFIDTag   string `json:"rfid_tag,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Handlers receives typed inbound events. All fields are optional; nil
// handlers are skipped. Handlers are invoked from the client's read goroutine
// and from clear timers, never concurrently with themselves per event type.
type Handlers struct {
	OnConnectionChange      func(connected bool)
	OnConnectionEstablished func(message string)
	OnStatus                func(types.SystemStatus)
	OnStatistics            func(types.Statistics)
	OnRecords               func([]types.MovementRecord)
	OnRecordAdded           func(types.MovementRecord)
	// OnTagDetected receives nil when the ephemeral detection decays.
	OnTagDetected        func(*types.TagDetection)
	OnSensorActivity     func(types.SensorActivity)
	OnConfigUpdate       func(types.ConfigUpdate)
	OnRFIDPowerUpdated   func(power int)
	OnSensorRangeUpdated func(location string, rangeM int)
	OnServerError        func(message string)
	OnServerSuccess      func(message string)
	OnRecordsCleared     func()
}

// ClientConfig holds tuning for the channel client
type ClientConfig struct {
	Endpoint           string        // websocket URL of the appliance
	InitialRetryDelay  time.Duration // first reconnect delay
	MaxRetryDelay      time.Duration // cap for the growing reconnect delay
	HandshakeTimeout   time.Duration
	TagClearAfter      time.Duration // ephemeral tag_detected decay
	ActivityClearAfter time.Duration // sensor_activity pulse decay
}

// DefaultClientConfig returns a client configuration with the documented
// reconnection window (1s initial, 5s cap) and decay times.
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:           endpoint,
		InitialRetryDelay:  time.Second,
		MaxRetryDelay:      5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		TagClearAfter:      3 * time.Second,
		ActivityClearAfter: 2 * time.Second,
	}
}

// Client is the auto-reconnecting push-event channel client. One Client owns
// one logical connection; create it, set handlers, then Connect. Close stops
// reconnection and releases the socket.
type Client struct {
	cfg      ClientConfig
	handlers Handlers
	logger   *logrus.Entry

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	started   bool
	closed    bool

	// Serializes writes; the websocket allows one writer at a time.
	writeMu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup

	// Decay timers for ephemeral events, generation-guarded so a newer pulse
	// supersedes a pending clear instead of racing it.
	timerMu   sync.Mutex
	tagGen    uint64
	tagTimer  *time.Timer
	sensorGen map[string]uint64
	sensorTmr map[string]*time.Timer
}

// NewClient creates a channel client. Handlers may be zero-valued.
func NewClient(cfg ClientConfig, handlers Handlers, logger *logrus.Logger) *Client {
	return &Client{
		cfg:       cfg,
		handlers:  handlers,
		logger:    logger.WithField("component", "channel"),
		stopCh:    make(chan struct{}),
		sensorGen: make(map[string]uint64),
		sensorTmr: make(map[string]*time.Timer),
	}
}

// Connect starts the connection loop. It is idempotent and returns
// immediately; connectivity is reported through OnConnectionChange. The loop
// retries forever with a delay growing from InitialRetryDelay up to
// MaxRetryDelay, and never surfaces dial errors to the caller.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()
}

// Close tears the channel down: stops reconnection, cancels decay timers and
// closes the socket. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	close(c.stopCh)
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.cancelTimers()
	c.setConnected(false)
	c.logger.Info("Channel client closed")
}

// IsConnected reports the current connectivity flag
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// run dials, reads until failure, and redials forever until Close
func (c *Client) run() {
	defer c.wg.Done()

	delay := c.cfg.InitialRetryDelay
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
		conn, resp, err := dialer.Dial(c.cfg.Endpoint, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			c.logger.WithError(err).WithField("endpoint", c.cfg.Endpoint).Debug("Channel dial failed, will retry")
			select {
			case <-c.stopCh:
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.MaxRetryDelay {
				delay = c.cfg.MaxRetryDelay
			}
			continue
		}

		delay = c.cfg.InitialRetryDelay

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.WithField("endpoint", c.cfg.Endpoint).Info("Channel connected")
		c.setConnected(true)

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.setConnected(false)
		c.logger.Info("Channel disconnected")
	}
}

// readLoop reads messages until the connection fails
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.WithError(err).Debug("Channel read error")
			}
			return
		}
		c.dispatch(data)
	}
}

// Emit sends a named command with an optional payload. Commands are
// fire-and-forget: while disconnected they are silently dropped, and write
// failures only tear the connection down so the run loop redials.
func (c *Client) Emit(command string, payload interface{}) {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.logger.WithField("command", command).Debug("Dropping command, channel disconnected")
		return
	}

	msg := Message{Type: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.WithError(err).WithField("command", command).Error("Failed to marshal command payload")
			return
		}
		msg.Data = data
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.WithError(err).WithField("command", command).Warn("Failed to write command")
		conn.Close()
	}
}

// RequestStatus asks the appliance for a fresh status snapshot
func (c *Client) RequestStatus() { c.Emit(CommandRequestStatus, nil) }

// RequestStatistics asks the appliance for fresh statistics
func (c *Client) RequestStatistics() { c.Emit(CommandRequestStatistics, nil) }

// RequestRecords asks for the record list, optionally filtered
func (c *Client) RequestRecords(filter *RecordFilter) {
	if filter == nil {
		c.Emit(CommandRequestRecords, nil)
		return
	}
	c.Emit(CommandRequestRecords, filter)
}

// ConfigureRFIDPower sets the reader transmit power in dBm
func (c *Client) ConfigureRFIDPower(power int) {
	c.Emit(CommandConfigureRFIDPower, map[string]int{"power": power})
}

// ConfigureSensorRange sets a sensor's detection range in meters
func (c *Client) ConfigureSensorRange(location string, distance int) {
	c.Emit(CommandConfigureSensorRange, map[string]interface{}{
		"location": location,
		"distance": distance,
	})
}

// AddManualRecord injects a movement record by hand
func (c *Client) AddManualRecord(tag, direction string) {
	c.Emit(CommandAddManualRecord, map[string]string{
		"rfid_tag":  tag,
		"direction": types.NormalizeDirection(direction),
	})
}

// ClearRecords asks the appliance to drop its record history. The explicit
// confirmation flag is required by the server.
func (c *Client) ClearRecords() {
	c.Emit(CommandClearRecords, map[string]bool{"confirm": true})
}

// Ping sends a keepalive probe; the server answers with a pong event
func (c *Client) Ping() { c.Emit(CommandPing, nil) }

type messagePayload struct {
	Message string `json:"message"`
}

type recordsUpdatePayload struct {
	Records []types.MovementRecord `json:"records"`
	Count   int                    `json:"count"`
}

type recordAddedPayload struct {
	Record types.MovementRecord `json:"record"`
}

type powerUpdatedPayload struct {
	Power int `json:"power"`
}

type rangeUpdatedPayload struct {
	Location string `json:"location"`
	Range    int    `json:"range"`
}

// dispatch routes one inbound envelope to its typed handler. Malformed
// payloads are logged and dropped; they must never kill the read loop.
func (c *Client) dispatch(raw []byte) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to parse channel message")
		return
	}

	switch msg.Type {
	case EventConnectionEstablished:
		var p messagePayload
		c.decode(msg, &p)
		if c.handlers.OnConnectionEstablished != nil {
			c.handlers.OnConnectionEstablished(p.Message)
		}

	case EventStatusUpdate:
		var status types.SystemStatus
		if c.decode(msg, &status) && c.handlers.OnStatus != nil {
			c.handlers.OnStatus(status)
		}

	case EventStatisticsUpdate:
		var stats types.Statistics
		if c.decode(msg, &stats) && c.handlers.OnStatistics != nil {
			c.handlers.OnStatistics(stats)
		}

	case EventRecordsUpdate:
		var p recordsUpdatePayload
		if c.decode(msg, &p) && c.handlers.OnRecords != nil {
			c.handlers.OnRecords(p.Records)
		}

	case EventRecordAdded:
		var p recordAddedPayload
		if c.decode(msg, &p) && c.handlers.OnRecordAdded != nil {
			c.handlers.OnRecordAdded(p.Record)
		}

	case EventTagDetected:
		var tag types.TagDetection
		if c.decode(msg, &tag) {
			c.handleTagDetected(tag)
		}

	case EventSensorActivity:
		var activity types.SensorActivity
		if c.decode(msg, &activity) {
			c.handleSensorActivity(activity)
		}

	case EventConfigUpdate:
		var cfg types.ConfigUpdate
		if c.decode(msg, &cfg) && c.handlers.OnConfigUpdate != nil {
			c.handlers.OnConfigUpdate(cfg)
		}

	case EventRFIDPowerUpdated:
		var p powerUpdatedPayload
		if c.decode(msg, &p) && c.handlers.OnRFIDPowerUpdated != nil {
			c.handlers.OnRFIDPowerUpdated(p.Power)
		}

	case EventSensorRangeUpdated:
		var p rangeUpdatedPayload
		if c.decode(msg, &p) && c.handlers.OnSensorRangeUpdated != nil {
			c.handlers.OnSensorRangeUpdated(p.Location, p.Range)
		}

	case EventError:
		var p messagePayload
		c.decode(msg, &p)
		if c.handlers.OnServerError != nil {
			c.handlers.OnServerError(p.Message)
		}

	case EventSuccess:
		var p messagePayload
		c.decode(msg, &p)
		if c.handlers.OnServerSuccess != nil {
			c.handlers.OnServerSuccess(p.Message)
		}

	case EventRecordsCleared:
		if c.handlers.OnRecordsCleared != nil {
			c.handlers.OnRecordsCleared()
		}

	case EventPong:
		c.logger.Debug("Pong received")

	default:
		c.logger.WithField("event", msg.Type).Warn("Unknown channel event")
	}
}

func (c *Client) decode(msg Message, v interface{}) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.logger.WithError(err).WithField("event", msg.Type).Error("Failed to parse event payload")
		return false
	}
	return true
}

// handleTagDetected forwards the detection and schedules its decay. The
// server never announces the end of a read, so the client clears it itself.
func (c *Client) handleTagDetected(tag types.TagDetection) {
	if c.handlers.OnTagDetected == nil {
		return
	}
	c.handlers.OnTagDetected(&tag)

	c.timerMu.Lock()
	c.tagGen++
	gen := c.tagGen
	if c.tagTimer != nil {
		c.tagTimer.Stop()
	}
	c.tagTimer = time.AfterFunc(c.cfg.TagClearAfter, func() {
		c.timerMu.Lock()
		stale := gen != c.tagGen
		c.timerMu.Unlock()
		if stale || c.isClosed() {
			return
		}
		c.handlers.OnTagDetected(nil)
	})
	c.timerMu.Unlock()
}

// handleSensorActivity forwards the pulse and, for detections, schedules a
// synthetic cleared pulse. An explicit detected=false from the server cancels
// the pending clear so a stale timer cannot flip fresh state afterwards.
func (c *Client) handleSensorActivity(activity types.SensorActivity) {
	if c.handlers.OnSensorActivity == nil {
		return
	}
	c.handlers.OnSensorActivity(activity)

	c.timerMu.Lock()
	defer c.timerMu.Unlock()

	c.sensorGen[activity.Location]++
	gen := c.sensorGen[activity.Location]

	if t := c.sensorTmr[activity.Location]; t != nil {
		t.Stop()
		delete(c.sensorTmr, activity.Location)
	}

	if !activity.Detected {
		return
	}

	location := activity.Location
	c.sensorTmr[location] = time.AfterFunc(c.cfg.ActivityClearAfter, func() {
		c.timerMu.Lock()
		stale := gen != c.sensorGen[location]
		c.timerMu.Unlock()
		if stale || c.isClosed() {
			return
		}
		c.handlers.OnSensorActivity(types.SensorActivity{Location: location, Detected: false})
	})
}

func (c *Client) cancelTimers() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.tagTimer != nil {
		c.tagTimer.Stop()
		c.tagTimer = nil
	}
	for loc, t := range c.sensorTmr {
		t.Stop()
		delete(c.sensorTmr, loc)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	c.mu.Unlock()

	if changed && c.handlers.OnConnectionChange != nil {
		c.handlers.OnConnectionChange(v)
	}
}
