// Package balance records account balance snapshots and reconstructs
// historical ones from transaction history.
package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

// ErrDuplicateSnapshot is returned when a snapshot with the exact same
// balance already exists for the account on the same calendar date.
var ErrDuplicateSnapshot = errors.New("identical snapshot already exists for this date")

// SnapshotService appends balance snapshots with same-day dedup: a
// snapshot is rejected only when an existing snapshot on the same date
// carries the exact same balance. Distinct balances on one day are
// expected (the balance moved between two syncs) and all recorded.
type SnapshotService struct {
	store store.Store
}

func NewSnapshotService(st store.Store) *SnapshotService {
	return &SnapshotService{store: st}
}

// Add records one snapshot. Dedup compares balances with exact decimal
// equality, not a tolerance window.
func (s *SnapshotService) Add(ctx context.Context, accountID uuid.UUID, bal decimal.Decimal, at time.Time, source domain.SnapshotSource) (domain.BalanceSnapshot, error) {
	date := domain.DateOf(at)
	existing, err := s.store.GetBalanceSnapshots(ctx, &accountID, &date)
	if err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("checking snapshots for %s: %w", date, err)
	}
	for _, snap := range existing {
		if snap.Balance.Equal(bal) {
			return domain.BalanceSnapshot{}, ErrDuplicateSnapshot
		}
	}

	snap := domain.NewBalanceSnapshot(accountID, bal, at, source)
	if err := s.store.BulkAddBalances(ctx, []domain.BalanceSnapshot{snap}); err != nil {
		return domain.BalanceSnapshot{}, fmt.Errorf("persisting snapshot: %w", err)
	}
	return snap, nil
}

// RecordProviderBalances records a sync-sourced snapshot for every
// account carrying a provider-reported balance. Same-day duplicates are
// absorbed silently; the returned count covers snapshots actually added.
func (s *SnapshotService) RecordProviderBalances(ctx context.Context, providerName string, accounts []domain.Account) (int, error) {
	log := logger.FromContext(ctx)
	now := time.Now().UTC()
	added := 0
	for _, acct := range accounts {
		if acct.Balance == nil {
			continue
		}
		_, err := s.Add(ctx, acct.ID, *acct.Balance, now, domain.SnapshotSourceSync)
		if errors.Is(err, ErrDuplicateSnapshot) {
			log.Debug().Str("provider", providerName).Str("account", acct.Name).Msg("balance unchanged, snapshot skipped")
			continue
		}
		if err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
