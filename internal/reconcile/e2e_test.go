package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/demo"
	"github.com/rumor-ml/commons.systems/finsync/internal/rules"
	"github.com/rumor-ml/commons.systems/finsync/internal/store/memory"
)

// End-to-end pass over the demo provider: sync twice, then backfill.
// Exercises account discovery, transaction dedup, snapshot recording,
// and balance reconstruction against one shared store.
func TestDemoProviderEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertIntegration(ctx, demo.Name, nil))

	tagger, err := rules.LoadEmbedded()
	require.NoError(t, err)

	registry := provider.NewRegistry(demo.New())
	syncer := NewSyncer(st, registry, balance.NewSnapshotService(st), tagger)

	results, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	require.Empty(t, res.Err)
	assert.Equal(t, SyncInitial, res.Window.Type)
	assert.Len(t, res.NewAccounts, 3)
	assert.Equal(t, 18, res.Stats.Discovered)
	assert.Equal(t, 18, res.Stats.New)
	assert.Equal(t, 3, res.SnapshotsAdded)

	// Second sync over the same window: everything dedups away and no
	// new snapshots are recorded (same balances, same day).
	results, err = syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	res = results[0]
	require.Empty(t, res.Err)
	assert.Equal(t, 0, res.Stats.New)
	assert.Equal(t, 18, res.Stats.Skipped)
	assert.Equal(t, 0, res.SnapshotsAdded)

	accounts, err := st.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)

	// Backfill reconstructs history for every synced account back from
	// the snapshot the sync just recorded.
	engine := balance.NewBackfillEngine(st)
	backfills, err := engine.Run(ctx, balance.BackfillOptions{})
	require.NoError(t, err)
	require.Len(t, backfills, 3)
	for _, bf := range backfills {
		assert.Empty(t, bf.Warning)
		assert.NotEmpty(t, bf.Created, "account %s should gain snapshots", bf.AccountName)
	}

	snaps, err := st.GetBalanceSnapshots(ctx, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, len(snaps), 3)
}
