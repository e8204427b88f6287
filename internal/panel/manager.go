// Package panel assembles the door panel: it wires the event channel into the
// live state store and the movement correlator, backfills history from the
// inventory service, archives confirmed movements and serves the HTTP API.
package panel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rfid-door-panel/internal/api"
	"rfid-door-panel/internal/archive"
	"rfid-door-panel/internal/auth"
	"rfid-door-panel/internal/channel"
	"rfid-door-panel/internal/config"
	"rfid-door-panel/internal/inventory"
	"rfid-door-panel/internal/movement"
	"rfid-door-panel/internal/notify"
	"rfid-door-panel/internal/state"
	"rfid-door-panel/internal/types"
)

// notificationTTL is how long operator toasts stay visible
const notificationTTL = 5 * time.Second

// Manager owns the panel's components and their lifecycle
type Manager struct {
	cfg    *config.Config
	logger *logrus.Logger
	log    *logrus.Entry

	store      *state.Store
	correlator *movement.Correlator
	client     *channel.Client
	remote     *inventory.Client
	authc      *auth.Client
	archive    *archive.Archive
	toasts     *notify.Center
	server     *api.Server

	mu      sync.Mutex
	running bool
}

// NewManager builds the panel from configuration. Nothing starts until Start.
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger,
		log:    logger.WithField("component", "panel"),
		store:  state.NewStore(cfg.RecordLimit, logger),
		toasts: notify.NewCenter(notificationTTL, logger),
	}

	mcfg := movement.DefaultConfig()
	mcfg.DwellTime = time.Duration(cfg.SensorDwellMS) * time.Millisecond
	m.correlator = movement.NewCorrelator(mcfg, logger)

	ccfg := channel.DefaultClientConfig(cfg.ChannelURL)
	ccfg.InitialRetryDelay = time.Duration(cfg.ReconnectInitialMS) * time.Millisecond
	ccfg.MaxRetryDelay = time.Duration(cfg.ReconnectMaxMS) * time.Millisecond
	ccfg.TagClearAfter = time.Duration(cfg.TagClearMS) * time.Millisecond
	ccfg.ActivityClearAfter = time.Duration(cfg.ActivityClearMS) * time.Millisecond
	m.client = channel.NewClient(ccfg, m.channelHandlers(), logger)

	m.remote = inventory.NewClient(cfg.InventoryURL, logger)
	if cfg.AuthURL != "" {
		m.authc = auth.NewClient(cfg.AuthURL, logger)
	}

	if cfg.DatabasePath != "" {
		a, err := archive.Open(cfg.DatabasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		m.archive = a
	}

	m.server = api.NewServer(cfg.ListenAddr, api.Dependencies{
		Store:         m.store,
		Movement:      m.correlator,
		Channel:       m.client,
		Remote:        m.remote,
		Notifications: m.toasts,
		Archive:       m.archive,
		Token:         cfg.APIToken,
	}, logger)

	return m, nil
}

// Start brings the panel up: opens the archive, logs in, backfills history
// from the inventory service, then connects the event channel and starts the
// HTTP API. Backfill failures are logged and tolerated; the channel will
// deliver fresh state anyway.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("panel already running")
	}
	m.running = true
	m.mu.Unlock()

	m.log.Info("Starting door panel")

	if m.authc != nil && m.cfg.AuthUsername != "" {
		token, err := m.authc.Login(ctx, m.cfg.AuthUsername, m.cfg.AuthPassword)
		if err != nil {
			m.log.WithError(err).Warn("Login failed, continuing without inventory auth")
		} else {
			m.remote.SetAuthToken(token)
		}
	}

	m.backfill(ctx)

	// Register the growth trigger only after backfill so the seeded history
	// does not animate a crossing.
	m.store.OnRecordGrowth(func(rec types.MovementRecord) {
		m.correlator.RecordArrived(rec)
		if m.archive != nil {
			if err := m.archive.Insert(rec); err != nil {
				m.log.WithError(err).Warn("Failed to archive record")
			}
		}
	})

	m.client.Connect()

	if err := m.server.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	m.log.Info("Door panel started")
	return nil
}

// Stop tears components down in reverse order of startup
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.log.Info("Stopping door panel")

	if err := m.server.Stop(ctx); err != nil {
		m.log.WithError(err).Warn("HTTP server shutdown failed")
	}
	m.client.Close()
	m.correlator.Close()
	m.toasts.Close()
	if m.archive != nil {
		if err := m.archive.Close(); err != nil {
			m.log.WithError(err).Warn("Failed to close archive")
		}
	}

	m.log.Info("Door panel stopped")
	return nil
}

// Store exposes the live state store
func (m *Manager) Store() *state.Store {
	return m.store
}

// Notifications exposes the notification center
func (m *Manager) Notifications() *notify.Center {
	return m.toasts
}

// IsRunning reports whether the panel has been started
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// backfill seeds the record list from the inventory service, collapsing
// rapid duplicate reads before they reach the display.
func (m *Manager) backfill(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := m.remote.FetchMovementRecords(fetchCtx)
	if err != nil {
		m.log.WithError(err).Warn("History backfill failed")
		return
	}
	deduped := inventory.Dedupe(records, time.Duration(m.cfg.DedupWindowMS)*time.Millisecond)
	m.store.ReplaceRecords(deduped)
	m.log.WithFields(logrus.Fields{
		"fetched": len(records),
		"kept":    len(deduped),
	}).Info("History backfilled")
}

// channelHandlers wires inbound channel events into the store, the movement
// correlator and the notification center.
func (m *Manager) channelHandlers() channel.Handlers {
	return channel.Handlers{
		OnConnectionChange: func(connected bool) {
			m.store.SetConnected(connected)
			if connected {
				// Fresh connection: ask for everything the server knows.
				m.client.RequestStatus()
				m.client.RequestStatistics()
				m.client.RequestRecords(nil)
			}
		},
		OnConnectionEstablished: func(message string) {
			m.log.WithField("message", message).Info("Channel session established")
		},
		OnStatus: func(status types.SystemStatus) {
			m.store.SetStatus(status)
		},
		OnStatistics: func(stats types.Statistics) {
			m.store.SetStatistics(stats)
		},
		OnRecords: func(records []types.MovementRecord) {
			m.store.ReplaceRecords(records)
		},
		OnRecordAdded: func(record types.MovementRecord) {
			m.store.AddRecord(record)
		},
		OnTagDetected: func(tag *types.TagDetection) {
			m.store.SetTag(tag)
		},
		OnSensorActivity: func(activity types.SensorActivity) {
			m.store.SetSensor(activity.Location, activity.Detected)
			m.correlator.SensorPulse(activity)
		},
		OnConfigUpdate: func(cfg types.ConfigUpdate) {
			m.store.ApplyConfig(cfg)
		},
		OnRFIDPowerUpdated: func(power int) {
			m.store.SetRFIDPower(power)
			m.toasts.Success(fmt.Sprintf("RFID power set to %d dBm", power))
		},
		OnSensorRangeUpdated: func(location string, rangeM int) {
			m.store.SetSensorRange(location, rangeM)
			m.toasts.Success(fmt.Sprintf("Sensor %s range set to %d m", location, rangeM))
		},
		OnServerError: func(message string) {
			m.log.WithField("message", message).Warn("Server reported error")
			m.toasts.Error(message)
		},
		OnServerSuccess: func(message string) {
			m.toasts.Success(message)
		},
		OnRecordsCleared: func() {
			m.store.ClearRecords()
			m.toasts.Info("Movement records cleared")
			// Counters on the tracker changed too; pull fresh ones.
			m.client.RequestStatus()
			m.client.RequestStatistics()
		},
	}
}
