// Package notify keeps the panel's short-lived operator notifications. Each
// notification dismisses itself after its time-to-live unless dismissed
// explicitly first.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Severity levels
const (
	SeverityInfo    = "info"
	SeveritySuccess = "success"
	SeverityError   = "error"
)

// Notification is one visible toast
type Notification struct {
	ID       int64     `json:"id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	PostedAt time.Time `json:"posted_at"`
}

// Center holds the active notifications
type Center struct {
	ttl    time.Duration
	logger *logrus.Entry

	mu     sync.Mutex
	nextID int64
	active []Notification
	timers map[int64]*time.Timer
	closed bool
}

// NewCenter creates a notification center with the given auto-dismiss TTL
func NewCenter(ttl time.Duration, logger *logrus.Logger) *Center {
	return &Center{
		ttl:    ttl,
		logger: logger.WithField("component", "notify"),
		timers: make(map[int64]*time.Timer),
	}
}

// Post adds a notification and schedules its dismissal
func (c *Center) Post(severity, message string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0
	}

	c.nextID++
	id := c.nextID
	c.active = append(c.active, Notification{
		ID:       id,
		Severity: severity,
		Message:  message,
		PostedAt: time.Now(),
	})
	c.timers[id] = time.AfterFunc(c.ttl, func() {
		c.Dismiss(id)
	})

	c.logger.WithFields(logrus.Fields{
		"severity": severity,
		"message":  message,
	}).Debug("Notification posted")
	return id
}

// Info posts an informational notification
func (c *Center) Info(message string) int64 { return c.Post(SeverityInfo, message) }

// Success posts a success notification
func (c *Center) Success(message string) int64 { return c.Post(SeveritySuccess, message) }

// Error posts an error notification
func (c *Center) Error(message string) int64 { return c.Post(SeverityError, message) }

// Dismiss removes a notification by id. Unknown ids are ignored.
func (c *Center) Dismiss(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	for i, n := range c.active {
		if n.ID == id {
			c.active = append(c.active[:i], c.active[i+1:]...)
			break
		}
	}
}

// Active returns a copy of the visible notifications, oldest first
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.active...)
}

// Close cancels pending dismissals and drops all notifications
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.active = nil
}
