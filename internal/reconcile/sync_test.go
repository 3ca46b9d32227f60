package reconcile

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
	"github.com/rumor-ml/commons.systems/finsync/internal/store/memory"
)

type fakeProvider struct {
	name     string
	accounts []domain.Account
	txs      []provider.SourcedTransaction
	warnings []string
	// ignoreFilter makes GetTransactions return everything regardless of
	// the requested account ids, imitating a sloppy provider.
	ignoreFilter bool
}

func (p *fakeProvider) Name() string             { return p.name }
func (p *fakeProvider) CanGetAccounts() bool     { return true }
func (p *fakeProvider) CanGetTransactions() bool { return true }
func (p *fakeProvider) CanGetBalances() bool     { return true }

func (p *fakeProvider) GetAccounts(ctx context.Context, providerAccountIDs []string, settings provider.Settings) (provider.AccountsPage, error) {
	return provider.AccountsPage{Accounts: p.accounts, Warnings: p.warnings}, nil
}

func (p *fakeProvider) GetTransactions(ctx context.Context, start, end domain.Date, providerAccountIDs []string, settings provider.Settings) (provider.TransactionsPage, error) {
	if p.ignoreFilter {
		return provider.TransactionsPage{Transactions: p.txs}, nil
	}
	known := make(map[string]struct{}, len(providerAccountIDs))
	for _, id := range providerAccountIDs {
		known[id] = struct{}{}
	}
	page := provider.TransactionsPage{}
	for _, tx := range p.txs {
		if _, ok := known[tx.ProviderAccountID]; ok {
			page.Transactions = append(page.Transactions, tx)
		}
	}
	return page, nil
}

func providerAccount(name, extID string, bal string) domain.Account {
	acct := domain.NewAccount(name)
	acct.ExternalIDs["testbank"] = extID
	if bal != "" {
		d := decimal.RequireFromString(bal)
		acct.Balance = &d
	}
	return acct
}

func sourcedTx(providerAcctID, extID, date, amount, desc string) provider.SourcedTransaction {
	d, _ := domain.ParseDate(date)
	return provider.SourcedTransaction{
		ProviderAccountID: providerAcctID,
		Transaction: domain.TransactionDraft{
			ExternalIDs:     map[string]string{"testbank": extID},
			Amount:          decimal.RequireFromString(amount),
			Description:     desc,
			TransactionDate: d,
		}.Build(),
	}
}

func newTestSyncer(t *testing.T, prov *fakeProvider) (*Syncer, *memory.Store) {
	t.Helper()
	st := memory.New()
	require.NoError(t, st.UpsertIntegration(context.Background(), prov.name, map[string]string{}))
	reg := provider.NewRegistry(prov)
	return NewSyncer(st, reg, balance.NewSnapshotService(st), nil), st
}

func TestSyncDiscoversAccountsAndTransactions(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		name:     "testbank",
		accounts: []domain.Account{providerAccount("Checking", "pa1", "500.00")},
		txs: []provider.SourcedTransaction{
			sourcedTx("pa1", "t1", "2025-01-05", "-12.50", "COFFEE SHOP"),
			sourcedTx("pa1", "t2", "2025-01-06", "-40.00", "GROCERY"),
		},
	}
	syncer, st := newTestSyncer(t, prov)

	results, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Empty(t, r.Err)
	assert.Equal(t, SyncInitial, r.Window.Type)
	assert.Len(t, r.NewAccounts, 1)
	assert.Equal(t, 2, r.Stats.Discovered)
	assert.Equal(t, 2, r.Stats.New)
	assert.Equal(t, 0, r.Stats.Skipped)
	assert.Equal(t, 1, r.SnapshotsAdded)

	accounts, err := st.GetAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	txs, err := st.GetTransactionsByAccount(ctx, accounts[0].ID, store.OrderDateAsc)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, accounts[0].ID, tx.AccountID, "transactions must land on the internal account")
		assert.NotEmpty(t, tx.Fingerprint())
	}
}

func TestSyncIdempotence(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		name:     "testbank",
		accounts: []domain.Account{providerAccount("Checking", "pa1", "")},
		txs: []provider.SourcedTransaction{
			sourcedTx("pa1", "t1", "2025-01-05", "-12.50", "COFFEE SHOP"),
		},
	}
	syncer, st := newTestSyncer(t, prov)

	_, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)

	// User tags the transaction between syncs.
	accounts, err := st.GetAccounts(ctx)
	require.NoError(t, err)
	txs, err := st.GetTransactionsByAccount(ctx, accounts[0].ID, store.OrderDateAsc)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.NoError(t, st.UpdateTransactionTags(ctx, txs[0].ID, []string{"coffee"}))

	results, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SyncIncremental, results[0].Window.Type)
	assert.Equal(t, 0, results[0].Stats.New)
	assert.Equal(t, 1, results[0].Stats.Skipped)

	txs, err = st.GetTransactionsByAccount(ctx, accounts[0].ID, store.OrderDateAsc)
	require.NoError(t, err)
	require.Len(t, txs, 1, "re-sync must not duplicate")
	assert.Equal(t, []string{"coffee"}, txs[0].Tags, "re-sync must not clobber user tags")
}

func TestSyncDropsTransactionsForUnknownAccounts(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		name:         "testbank",
		accounts:     []domain.Account{providerAccount("Checking", "pa1", "")},
		ignoreFilter: true,
		txs: []provider.SourcedTransaction{
			sourcedTx("pa1", "t1", "2025-01-05", "-12.50", "COFFEE SHOP"),
			// Emitted for an account the provider never listed.
			sourcedTx("pa-unknown", "t9", "2025-01-05", "-1.00", "STRAY"),
		},
	}

	syncer, _ := newTestSyncer(t, prov)
	results, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	// The stray transaction surfaces only as a warning: it is dropped
	// before counting, so it inflates neither Discovered nor Skipped.
	assert.Equal(t, 1, results[0].Stats.Discovered)
	assert.Equal(t, 1, results[0].Stats.New)
	assert.Equal(t, 0, results[0].Stats.Skipped)
	require.Len(t, results[0].Warnings, 1)
	assert.Contains(t, results[0].Warnings[0], "pa-unknown")
}

func TestSyncDryRunPersistsNothing(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		name:     "testbank",
		accounts: []domain.Account{providerAccount("Checking", "pa1", "500.00")},
		txs: []provider.SourcedTransaction{
			sourcedTx("pa1", "t1", "2025-01-05", "-12.50", "COFFEE SHOP"),
		},
	}
	syncer, st := newTestSyncer(t, prov)

	results, err := syncer.SyncAll(ctx, SyncOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Stats.New, "dry run still reports what a real run would do")

	stats, err := st.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Accounts)
	assert.Equal(t, 0, stats.Transactions)
	assert.Equal(t, 0, stats.Snapshots)
}

func TestSyncUnknownIntegrationIsolated(t *testing.T) {
	ctx := context.Background()
	prov := &fakeProvider{
		name:     "testbank",
		accounts: []domain.Account{providerAccount("Checking", "pa1", "")},
		txs: []provider.SourcedTransaction{
			sourcedTx("pa1", "t1", "2025-01-05", "-12.50", "COFFEE SHOP"),
		},
	}
	syncer, st := newTestSyncer(t, prov)
	// An integration with no registered provider must not block others.
	require.NoError(t, st.UpsertIntegration(ctx, "defunctbank", map[string]string{}))

	results, err := syncer.SyncAll(ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := map[string]IntegrationSyncResult{}
	for _, r := range results {
		byName[r.Integration] = r
	}
	assert.Contains(t, byName["defunctbank"].Err, "unknown integration")
	assert.Empty(t, byName["testbank"].Err)
	assert.Equal(t, 1, byName["testbank"].Stats.New)
}

func TestComputeWindow(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	syncer := NewSyncer(st, provider.NewRegistry(), nil, nil)

	w, err := syncer.ComputeWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncInitial, w.Type)
	assert.Equal(t, 90, w.Start.DaysBetween(w.End))

	acctID := uuid.New()
	d, _ := domain.ParseDate("2025-02-10")
	tx := domain.TransactionDraft{
		AccountID:       acctID,
		Amount:          decimal.RequireFromString("-5.00"),
		Description:     "COFFEE",
		TransactionDate: d,
	}.Build()
	require.NoError(t, st.BulkInsertTransactions(ctx, []domain.Transaction{tx}))

	w, err = syncer.ComputeWindow(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncIncremental, w.Type)
	expectedStart, _ := domain.ParseDate("2025-02-03")
	assert.Equal(t, expectedStart, w.Start, "incremental window starts 7 days before the latest transaction")
	assert.Equal(t, domain.Today(), w.End)
}
