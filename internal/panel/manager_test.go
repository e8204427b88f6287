package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfid-door-panel/internal/channel"
	"rfid-door-panel/internal/config"
	"rfid-door-panel/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// trackerStub plays the tracker: one websocket endpoint plus the inventory
// REST endpoints the panel backfills from.
type trackerStub struct {
	ws        *httptest.Server
	rest      *httptest.Server
	conns     chan *websocket.Conn
	movements string
}

func newTrackerStub(movements string) *trackerStub {
	stub := &trackerStub{
		conns:     make(chan *websocket.Conn, 4),
		movements: movements,
	}
	upgrader := websocket.Upgrader{}
	stub.ws = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.conns <- conn
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	stub.rest = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/movements" {
			w.Write([]byte(stub.movements))
			return
		}
		http.NotFound(w, r)
	}))
	return stub
}

func (s *trackerStub) close() {
	s.ws.Close()
	s.rest.Close()
}

func (s *trackerStub) config(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.ChannelURL = "ws" + strings.TrimPrefix(s.ws.URL, "http")
	cfg.CommandURL = s.rest.URL
	cfg.InventoryURL = s.rest.URL
	cfg.AuthURL = ""
	cfg.DatabasePath = filepath.Join(t.TempDir(), "panel.db")
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.ReconnectInitialMS = 10
	cfg.ReconnectMaxMS = 50
	cfg.TagClearMS = 50
	cfg.ActivityClearMS = 50
	return cfg
}

func (s *trackerStub) send(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	msg := channel.Message{Type: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		msg.Data = data
	}
	require.NoError(t, conn.WriteJSON(msg))
}

func startPanel(t *testing.T, stub *trackerStub) *Manager {
	t.Helper()
	mgr, err := NewManager(stub.config(t), testLogger())
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mgr.Stop(ctx)
	})
	return mgr
}

func TestStartBackfillsAndConnects(t *testing.T) {
	stub := newTrackerStub(`{"records":[
		{"rfid_tag":"TAG-1","direction":"IN","read_date":"2024-03-05 10:00:00"},
		{"rfid_tag":"TAG-2","direction":"OUT","read_date":"2024-03-05 11:00:00"}
	]}`)
	defer stub.close()

	mgr := startPanel(t, stub)

	// Backfilled history is in the store before the channel delivers anything.
	assert.Equal(t, 2, mgr.Store().RecordCount())

	select {
	case <-stub.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("panel never connected to the event channel")
	}
	require.Eventually(t, func() bool {
		return mgr.Store().Snapshot().Connected
	}, 2*time.Second, time.Millisecond)
}

func TestBackfillDeduplicatesRapidReads(t *testing.T) {
	stub := newTrackerStub(`{"records":[
		{"rfid_tag":"TAG-1","direction":"IN","read_date":"2024-03-05 10:00:00"},
		{"rfid_tag":"TAG-1","direction":"IN","read_date":"2024-03-05 10:00:02"},
		{"rfid_tag":"TAG-1","direction":"IN","read_date":"2024-03-05 10:00:06"}
	]}`)
	defer stub.close()

	mgr := startPanel(t, stub)

	assert.Equal(t, 2, mgr.Store().RecordCount())
}

func TestBackfillFailureIsTolerated(t *testing.T) {
	stub := newTrackerStub(`not json at all`)
	defer stub.close()

	mgr := startPanel(t, stub)

	assert.Equal(t, 0, mgr.Store().RecordCount())
	assert.True(t, mgr.IsRunning())
}

func TestChannelEventsFlowIntoTheStore(t *testing.T) {
	stub := newTrackerStub(`[]`)
	defer stub.close()

	mgr := startPanel(t, stub)
	conn := <-stub.conns

	stub.send(t, conn, channel.EventStatusUpdate, types.SystemStatus{RFIDReader: "connected", TotalRecords: 1})
	stub.send(t, conn, channel.EventRecordAdded, map[string]interface{}{
		"record": types.MovementRecord{RFIDTag: "TAG-9", Direction: "IN", ReadDate: "2024-03-05 10:00:00"},
	})

	require.Eventually(t, func() bool {
		snap := mgr.Store().Snapshot()
		return snap.Status.RFIDReader == "connected" && len(snap.Records) == 1
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, "TAG-9", mgr.Store().Records()[0].RFIDTag)
}

func TestServerMessagesBecomeNotifications(t *testing.T) {
	stub := newTrackerStub(`[]`)
	defer stub.close()

	mgr := startPanel(t, stub)
	conn := <-stub.conns

	stub.send(t, conn, channel.EventError, map[string]string{"message": "reader offline"})

	require.Eventually(t, func() bool {
		active := mgr.Notifications().Active()
		return len(active) == 1 && active[0].Message == "reader offline"
	}, 2*time.Second, time.Millisecond)
}

func TestStartTwiceFails(t *testing.T) {
	stub := newTrackerStub(`[]`)
	defer stub.close()

	mgr := startPanel(t, stub)
	assert.Error(t, mgr.Start(context.Background()))
}
