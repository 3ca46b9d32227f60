package reconcile

import (
	"context"
	"fmt"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

const (
	// initialLookbackDays bounds the first sync of an empty store.
	initialLookbackDays = 90
	// incrementalOverlapDays re-fetches a margin before the latest known
	// transaction so late-posting transactions are not missed. The
	// overlap produces duplicates, which external-id dedup absorbs.
	incrementalOverlapDays = 7
)

// SyncType distinguishes the first sync of an empty store from routine
// incremental syncs.
type SyncType string

const (
	SyncInitial     SyncType = "initial"
	SyncIncremental SyncType = "incremental"
)

// Window is the inclusive date range a sync fetches.
type Window struct {
	Start domain.Date
	End   domain.Date
	Type  SyncType
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s (%s)", w.Start, w.End, w.Type)
}

// SyncStats counts transactions through the reconcile stage.
type SyncStats struct {
	Discovered int
	New        int
	Skipped    int
}

// IntegrationSyncResult reports one integration's sync. A failed
// integration carries its error here; it never aborts the run.
type IntegrationSyncResult struct {
	Integration     string
	Window          Window
	AccountsMatched int
	NewAccounts     []domain.Account
	Stats           SyncStats
	SnapshotsAdded  int
	Warnings        []string
	Err             string
}

// SyncOptions controls a sync run.
type SyncOptions struct {
	// DryRun runs every stage except persistence.
	DryRun bool
	// Integrations narrows the run to the named integrations. Empty
	// means all configured integrations.
	Integrations []string
}

// Tagger assigns tags to newly discovered transactions. Stored
// transactions are never re-tagged.
type Tagger interface {
	Tags(description string) []string
}

// Syncer pulls accounts, transactions, and balances from configured
// integrations and reconciles them into the store.
type Syncer struct {
	store     store.Store
	registry  *provider.Registry
	snapshots *balance.SnapshotService
	tagger    Tagger
}

// NewSyncer creates a syncer. tagger may be nil to disable tagging.
func NewSyncer(st store.Store, reg *provider.Registry, snapshots *balance.SnapshotService, tagger Tagger) *Syncer {
	return &Syncer{store: st, registry: reg, snapshots: snapshots, tagger: tagger}
}

// ComputeWindow derives the fetch window from stored data: with no
// transactions at all, an initial window reaching back a fixed number of
// days; otherwise an incremental window starting shortly before the
// latest known transaction.
func (s *Syncer) ComputeWindow(ctx context.Context) (Window, error) {
	maxDate, ok, err := s.store.MaxTransactionDate(ctx)
	if err != nil {
		return Window{}, fmt.Errorf("computing sync window: %w", err)
	}
	today := domain.Today()
	if !ok {
		return Window{Start: today.AddDays(-initialLookbackDays), End: today, Type: SyncInitial}, nil
	}
	return Window{Start: maxDate.AddDays(-incrementalOverlapDays), End: today, Type: SyncIncremental}, nil
}

// SyncAll syncs every configured integration (or the subset named in
// opts) against a single shared window. Integrations fail independently;
// the returned error covers only run-level failures such as an unreadable
// store.
func (s *Syncer) SyncAll(ctx context.Context, opts SyncOptions) ([]IntegrationSyncResult, error) {
	log := logger.FromContext(ctx)

	window, err := s.ComputeWindow(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug().Stringer("window", window).Msg("computed sync window")

	integrations, err := s.store.ListIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	integrations = filterIntegrations(integrations, opts.Integrations)

	results := make([]IntegrationSyncResult, 0, len(integrations))
	for _, integ := range integrations {
		result := s.syncOne(ctx, integ, window, opts)
		if result.Err != "" {
			log.Error().Str("integration", integ.Name).Str("error", result.Err).Msg("integration sync failed")
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Syncer) syncOne(ctx context.Context, integ domain.Integration, window Window, opts SyncOptions) IntegrationSyncResult {
	log := logger.FromContext(ctx)
	result := IntegrationSyncResult{Integration: integ.Name, Window: window}

	prov, err := s.registry.Lookup(integ.Name)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	settings := provider.Settings(integ.Options)

	existing, err := s.store.GetAccounts(ctx)
	if err != nil {
		result.Err = fmt.Sprintf("loading accounts: %v", err)
		return result
	}
	knownIDs := providerAccountIDs(prov.Name(), existing)

	// Stage 1: accounts. Providers without account discovery sync
	// transactions against accounts configured earlier.
	accounts := existing
	if prov.CanGetAccounts() {
		page, err := prov.GetAccounts(ctx, knownIDs, settings)
		if err != nil {
			result.Err = fmt.Sprintf("fetching accounts: %v", err)
			return result
		}
		result.Warnings = append(result.Warnings, page.Warnings...)

		reconciled := ReconcileAccounts(prov.Name(), page.Accounts, existing)
		result.AccountsMatched = len(reconciled.Merged)
		result.NewAccounts = reconciled.New

		if !opts.DryRun {
			if err := s.store.BulkUpsertAccounts(ctx, reconciled.All()); err != nil {
				result.Err = fmt.Sprintf("persisting accounts: %v", err)
				return result
			}
		}
		accounts = mergeAccountLists(existing, reconciled.All())
	}

	byProviderID := accountsByProviderID(prov.Name(), accounts)

	// Stage 2: balance snapshots for accounts the provider reported a
	// balance on. Same-day duplicates are silently absorbed.
	if prov.CanGetBalances() && s.snapshots != nil && !opts.DryRun {
		added, err := s.snapshots.RecordProviderBalances(ctx, prov.Name(), accountsWithBalances(byProviderID))
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("recording balances: %v", err))
		}
		result.SnapshotsAdded = added
	}

	// Stage 3: transactions.
	if !prov.CanGetTransactions() {
		return result
	}
	ids := make([]string, 0, len(byProviderID))
	for id := range byProviderID {
		ids = append(ids, id)
	}
	page, err := prov.GetTransactions(ctx, window.Start, window.End, ids, settings)
	if err != nil {
		result.Err = fmt.Sprintf("fetching transactions: %v", err)
		return result
	}
	result.Warnings = append(result.Warnings, page.Warnings...)

	// Transactions for unmapped provider accounts are dropped before any
	// counting: they appear in neither Discovered nor Skipped, only as a
	// warning.
	mapped, unmapped := remapToInternal(prov.Name(), page.Transactions, byProviderID)
	for _, providerAcctID := range unmapped {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("dropping transactions for unknown account %q", providerAcctID))
	}
	result.Stats.Discovered = len(mapped)

	newTxs, skipped, err := s.dropExisting(ctx, prov.Name(), mapped)
	if err != nil {
		result.Err = fmt.Sprintf("checking existing transactions: %v", err)
		return result
	}
	result.Stats.Skipped = skipped
	result.Stats.New = len(newTxs)

	if s.tagger != nil {
		for i, tx := range newTxs {
			newTxs[i] = tx.WithTags(s.tagger.Tags(tx.Description)...)
		}
	}

	// Stage 4: persist.
	if opts.DryRun || len(newTxs) == 0 {
		return result
	}
	if err := s.store.BulkInsertTransactions(ctx, newTxs); err != nil {
		result.Err = fmt.Sprintf("persisting transactions: %v", err)
		return result
	}
	log.Debug().Str("integration", integ.Name).Int("new", len(newTxs)).Int("skipped", result.Stats.Skipped).Msg("sync persisted")
	return result
}

// dropExisting partitions transactions into unseen ones and ones whose
// provider external id is already stored. Stored transactions are never
// overwritten: a re-fetched transaction with changed content still loses
// to the stored record.
func (s *Syncer) dropExisting(ctx context.Context, providerName string, txs []domain.Transaction) ([]domain.Transaction, int, error) {
	refs := make([]store.ExternalIDRef, 0, len(txs))
	for _, tx := range txs {
		if extID, ok := tx.ExternalID(providerName); ok {
			refs = append(refs, store.ExternalIDRef{Provider: providerName, ID: extID})
		}
	}
	stored, err := s.store.GetTransactionsByExternalIDs(ctx, refs)
	if err != nil {
		return nil, 0, err
	}
	seen := make(map[string]struct{}, len(stored))
	for _, tx := range stored {
		if extID, ok := tx.ExternalID(providerName); ok {
			seen[extID] = struct{}{}
		}
	}

	fresh := make([]domain.Transaction, 0, len(txs))
	skipped := 0
	for _, tx := range txs {
		extID, ok := tx.ExternalID(providerName)
		if ok {
			if _, dup := seen[extID]; dup {
				skipped++
				continue
			}
		}
		fresh = append(fresh, tx)
	}
	return fresh, skipped, nil
}

// remapToInternal rebinds sourced transactions to their internal
// accounts, recomputing each fingerprint against the internal id.
// Transactions for provider accounts with no internal match are dropped
// and their account ids reported.
func remapToInternal(providerName string, sourced []provider.SourcedTransaction, byProviderID map[string]domain.Account) ([]domain.Transaction, []string) {
	mapped := make([]domain.Transaction, 0, len(sourced))
	unmappedSet := map[string]struct{}{}
	for _, st := range sourced {
		acct, ok := byProviderID[st.ProviderAccountID]
		if !ok {
			unmappedSet[st.ProviderAccountID] = struct{}{}
			continue
		}
		mapped = append(mapped, st.Transaction.Remap(acct.ID))
	}
	unmapped := make([]string, 0, len(unmappedSet))
	for id := range unmappedSet {
		unmapped = append(unmapped, id)
	}
	return mapped, unmapped
}

func providerAccountIDs(providerName string, accounts []domain.Account) []string {
	ids := make([]string, 0, len(accounts))
	for _, acct := range accounts {
		if extID, ok := acct.ExternalID(providerName); ok {
			ids = append(ids, extID)
		}
	}
	return ids
}

func accountsByProviderID(providerName string, accounts []domain.Account) map[string]domain.Account {
	byID := make(map[string]domain.Account, len(accounts))
	for _, acct := range accounts {
		if extID, ok := acct.ExternalID(providerName); ok {
			byID[extID] = acct
		}
	}
	return byID
}

func accountsWithBalances(byProviderID map[string]domain.Account) []domain.Account {
	out := make([]domain.Account, 0, len(byProviderID))
	for _, acct := range byProviderID {
		if acct.Balance != nil {
			out = append(out, acct)
		}
	}
	return out
}

func mergeAccountLists(existing, upserted []domain.Account) []domain.Account {
	byID := make(map[string]domain.Account, len(existing)+len(upserted))
	for _, acct := range existing {
		byID[acct.ID.String()] = acct
	}
	for _, acct := range upserted {
		byID[acct.ID.String()] = acct
	}
	out := make([]domain.Account, 0, len(byID))
	for _, acct := range byID {
		out = append(out, acct)
	}
	return out
}

func filterIntegrations(integrations []domain.Integration, names []string) []domain.Integration {
	if len(names) == 0 {
		return integrations
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	out := make([]domain.Integration, 0, len(integrations))
	for _, integ := range integrations {
		if _, ok := wanted[integ.Name]; ok {
			out = append(out, integ)
		}
	}
	return out
}
