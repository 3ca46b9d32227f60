package balance

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/store/memory"
)

func TestSnapshotSameDayDedup(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewSnapshotService(st)
	accountID := uuid.New()
	at := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	_, err := svc.Add(ctx, accountID, decimal.RequireFromString("100.00"), at, domain.SnapshotSourceManual)
	require.NoError(t, err)

	// Same balance, same day, later time: rejected.
	_, err = svc.Add(ctx, accountID, decimal.RequireFromString("100.00"), at.Add(6*time.Hour), domain.SnapshotSourceSync)
	assert.ErrorIs(t, err, ErrDuplicateSnapshot)

	// Different balance on the same day: recorded.
	_, err = svc.Add(ctx, accountID, decimal.RequireFromString("90.00"), at.Add(8*time.Hour), domain.SnapshotSourceSync)
	require.NoError(t, err)

	snaps, err := st.GetBalanceSnapshots(ctx, &accountID, nil)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
}

func TestSnapshotDedupScopedToAccountAndDate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewSnapshotService(st)
	at := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	bal := decimal.RequireFromString("100.00")

	a, b := uuid.New(), uuid.New()
	_, err := svc.Add(ctx, a, bal, at, domain.SnapshotSourceManual)
	require.NoError(t, err)

	// Same balance on another account is unrelated.
	_, err = svc.Add(ctx, b, bal, at, domain.SnapshotSourceManual)
	require.NoError(t, err)

	// Same balance on the next day is a fresh observation.
	_, err = svc.Add(ctx, a, bal, at.AddDate(0, 0, 1), domain.SnapshotSourceSync)
	require.NoError(t, err)
}

func TestRecordProviderBalances(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	svc := NewSnapshotService(st)

	bal := decimal.RequireFromString("3247.85")
	withBalance := domain.NewAccount("Checking")
	withBalance.Balance = &bal
	without := domain.NewAccount("Savings")

	added, err := svc.RecordProviderBalances(ctx, "testbank", []domain.Account{withBalance, without})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	// Second sync with an unchanged balance adds nothing.
	added, err = svc.RecordProviderBalances(ctx, "testbank", []domain.Account{withBalance})
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	snaps, err := st.GetBalanceSnapshots(ctx, &withBalance.ID, nil)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.SnapshotSourceSync, snaps[0].Source)
}
