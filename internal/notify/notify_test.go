package notify

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestPostAndActive(t *testing.T) {
	center := NewCenter(time.Minute, testLogger())
	defer center.Close()

	center.Info("channel connected")
	center.Error("reader offline")

	active := center.Active()
	require.Len(t, active, 2)
	assert.Equal(t, SeverityInfo, active[0].Severity)
	assert.Equal(t, "channel connected", active[0].Message)
	assert.Equal(t, SeverityError, active[1].Severity)
}

func TestAutoDismiss(t *testing.T) {
	center := NewCenter(20*time.Millisecond, testLogger())
	defer center.Close()

	center.Success("done")
	require.Len(t, center.Active(), 1)

	require.Eventually(t, func() bool {
		return len(center.Active()) == 0
	}, time.Second, time.Millisecond)
}

func TestExplicitDismiss(t *testing.T) {
	center := NewCenter(time.Minute, testLogger())
	defer center.Close()

	id := center.Info("first")
	center.Info("second")

	center.Dismiss(id)

	active := center.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Message)

	// Unknown ids are ignored.
	center.Dismiss(99999)
	assert.Len(t, center.Active(), 1)
}

func TestCloseDropsEverything(t *testing.T) {
	center := NewCenter(time.Minute, testLogger())

	center.Info("one")
	center.Close()

	assert.Empty(t, center.Active())
	assert.Zero(t, center.Post(SeverityInfo, "after close"))
}
