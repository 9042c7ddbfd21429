package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/store"
)

func TestRolloverWatchdog_TickPersistsCurrentMonth(t *testing.T) {
	kv, err := store.OpenBoltKV(t.TempDir() + "/kv.db")
	require.NoError(t, err)
	defer kv.Close()

	now := time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)
	led := New(kv, DefaultConfig(10.0), func() time.Time { return now }, logrus.NewEntry(logrus.New()))

	w := NewRolloverWatchdog(led, logrus.NewEntry(logrus.New()))
	w.tick()

	var entry Entry
	ok, err := kv.GetJSON(context.Background(), ledgerKey("202607"), &entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "202607", entry.Month)
}

func TestRolloverWatchdog_StartStopIsSafe(t *testing.T) {
	kv, err := store.OpenBoltKV(t.TempDir() + "/kv.db")
	require.NoError(t, err)
	defer kv.Close()

	led := New(kv, DefaultConfig(10.0), nil, nil)
	w := NewRolloverWatchdog(led, nil)
	w.Start()
	w.Stop()
}
