package archive

import (
	"path/filepath"
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

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "panel.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestInsertAndRecent(t *testing.T) {
	a := openTestArchive(t)

	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag:   "TAG-1",
		Direction: "IN",
		ReadDate:  "2024-03-05 10:00:00",
		AssetName: "Pallet Jack",
		Room:      "Dock 3",
	}))
	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag:   "TAG-2",
		Direction: "OUT",
		ReadDate:  "2024-03-05 12:00:00",
	}))

	records, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest read first.
	assert.Equal(t, "TAG-2", records[0].RFIDTag)
	assert.Equal(t, "TAG-1", records[1].RFIDTag)
	assert.Equal(t, "Pallet Jack", records[1].AssetName)
	assert.Equal(t, "Dock 3", records[1].Room)
	assert.NotEmpty(t, records[0].ID)
}

func TestRecentHonorsLimit(t *testing.T) {
	a := openTestArchive(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Insert(types.MovementRecord{
			RFIDTag:   "TAG",
			Direction: "IN",
			ReadDate:  "2024-03-05 10:00:00",
		}))
	}

	records, err := a.Recent(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestUnparseableReadDateSurvivesVerbatim(t *testing.T) {
	a := openTestArchive(t)

	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag:   "TAG-1",
		Direction: "IN",
		ReadDate:  "pending",
	}))

	records, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "pending", records[0].ReadDate)
}

func TestCountSince(t *testing.T) {
	a := openTestArchive(t)

	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag: "TAG-1", Direction: "IN", ReadDate: "2024-03-05 10:00:00",
	}))
	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag: "TAG-2", Direction: "IN", ReadDate: "2024-03-07 10:00:00",
	}))

	count, err := a.CountSince(time.Date(2024, 3, 6, 0, 0, 0, 0, time.Local))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClear(t *testing.T) {
	a := openTestArchive(t)

	require.NoError(t, a.Insert(types.MovementRecord{
		RFIDTag: "TAG-1", Direction: "IN", ReadDate: "2024-03-05 10:00:00",
	}))
	require.NoError(t, a.Clear())

	records, err := a.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, records)
}
