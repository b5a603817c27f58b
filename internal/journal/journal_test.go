package journal

import (
	"path/filepath"
	"testing"

	"github.com/opsxjacky/Rebalance-live/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_CycleRoundtrip(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	id, err := j.Begin("rebalance")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, j.RecordOrder(id, types.OrderOutcome{
		Symbol: "TLT", Side: types.SideSell, Notional: 1500,
		Status: types.OrderSucceeded, OrderID: "abc",
	}))
	require.NoError(t, j.RecordOrder(id, types.OrderOutcome{
		Symbol: "VTI", Side: types.SideBuy, Notional: 2000,
		Status: types.OrderFailed, Error: "insufficient buying power", Retries: 0,
	}))
	require.NoError(t, j.Complete(id, types.CyclePartial, "summary: 1 succeeded, 1 failed"))

	cycle, err := j.Cycle(id)
	require.NoError(t, err)
	assert.Equal(t, "rebalance", cycle.Operation)
	assert.Equal(t, string(types.CyclePartial), cycle.Status)
	assert.NotEmpty(t, cycle.FinishedAt)
	assert.Contains(t, cycle.Notes, "1 succeeded")

	orders, err := j.Orders(id)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "TLT", orders[0].Symbol)
	assert.Equal(t, types.OrderSucceeded, orders[0].Status)
	assert.Equal(t, "VTI", orders[1].Symbol)
	assert.Contains(t, orders[1].Error, "insufficient")
}

func TestJournal_InProgressUntilCompleted(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	id, err := j.Begin("daily_check")
	require.NoError(t, err)

	cycle, err := j.Cycle(id)
	require.NoError(t, err)
	assert.Equal(t, "in_progress", cycle.Status)
	assert.Empty(t, cycle.FinishedAt)
}
