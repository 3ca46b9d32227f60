// Package memory provides an in-memory Store used by tests and demo
// mode. Data lives for the process lifetime only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/store"
)

// Store keeps all records in process memory behind a single mutex.
type Store struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]domain.Account
	transactions map[uuid.UUID]domain.Transaction
	snapshots    []domain.BalanceSnapshot
	integrations map[string]domain.Integration
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     map[uuid.UUID]domain.Account{},
		transactions: map[uuid.UUID]domain.Transaction{},
		integrations: map[string]domain.Integration{},
	}
}

func (s *Store) Init(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }

func (s *Store) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return domain.Account{}, store.ErrNotFound
	}
	return acct, nil
}

func (s *Store) BulkUpsertAccounts(ctx context.Context, accounts []domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acct := range accounts {
		if err := acct.Validate(); err != nil {
			return err
		}
		s.accounts[acct.ID] = acct
	}
	return nil
}

func (s *Store) GetTransactionsByExternalIDs(ctx context.Context, refs []store.ExternalIDRef) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[store.ExternalIDRef]struct{}, len(refs))
	for _, ref := range refs {
		wanted[ref] = struct{}{}
	}
	var out []domain.Transaction
	for _, tx := range s.transactions {
		for provider, id := range tx.ExternalIDs {
			if provider == domain.FingerprintKey {
				continue
			}
			if _, ok := wanted[store.ExternalIDRef{Provider: provider, ID: id}]; ok {
				out = append(out, tx)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) GetTransactionsByAccount(ctx context.Context, accountID uuid.UUID, order store.Order) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range s.transactions {
		if tx.AccountID == accountID && tx.DeletedAt == nil {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if order == store.OrderDateDesc {
			return out[j].TransactionDate.Before(out[i].TransactionDate)
		}
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out, nil
}

func (s *Store) BulkInsertTransactions(ctx context.Context, transactions []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range transactions {
		if err := tx.Validate(); err != nil {
			return err
		}
	}
	for _, tx := range transactions {
		s.transactions[tx.ID] = tx
	}
	return nil
}

func (s *Store) UpdateTransactionTags(ctx context.Context, id uuid.UUID, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	tx.Tags = domain.NormalizeTags(tags)
	tx.UpdatedAt = time.Now().UTC()
	s.transactions[id] = tx
	return nil
}

func (s *Store) MaxTransactionDate(ctx context.Context) (domain.Date, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max domain.Date
	found := false
	for _, tx := range s.transactions {
		if tx.DeletedAt != nil {
			continue
		}
		if !found || max.Before(tx.TransactionDate) {
			max = tx.TransactionDate
			found = true
		}
	}
	return max, found, nil
}

func (s *Store) GetTransactionCountsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		wanted[fp] = struct{}{}
	}
	counts := map[string]int{}
	for _, tx := range s.transactions {
		fp := tx.Fingerprint()
		if _, ok := wanted[fp]; ok {
			counts[fp]++
		}
	}
	return counts, nil
}

func (s *Store) GetBalanceSnapshots(ctx context.Context, accountID *uuid.UUID, date *domain.Date) ([]domain.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BalanceSnapshot
	for _, snap := range s.snapshots {
		if accountID != nil && snap.AccountID != *accountID {
			continue
		}
		if date != nil && snap.Date() != *date {
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SnapshotTime.Before(out[j].SnapshotTime)
	})
	return out, nil
}

func (s *Store) BulkAddBalances(ctx context.Context, snapshots []domain.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshots...)
	return nil
}

func (s *Store) UpsertIntegration(ctx context.Context, name string, options map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	integ, ok := s.integrations[name]
	if !ok {
		integ = domain.Integration{Name: name, CreatedAt: now}
	}
	opts := make(map[string]string, len(options))
	for k, v := range options {
		opts[k] = v
	}
	integ.Options = opts
	integ.UpdatedAt = now
	s.integrations[name] = integ
	return nil
}

func (s *Store) ListIntegrations(ctx context.Context) ([]domain.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Integration, 0, len(s.integrations))
	for _, integ := range s.integrations {
		out = append(out, integ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetIntegrationSettings(ctx context.Context, name string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	integ, ok := s.integrations[name]
	if !ok {
		return nil, store.ErrNotFound
	}
	return integ.Options, nil
}

func (s *Store) GetStats(ctx context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := store.Stats{
		Accounts:     len(s.accounts),
		Transactions: len(s.transactions),
		Snapshots:    len(s.snapshots),
		Integrations: len(s.integrations),
	}
	for _, tx := range s.transactions {
		if stats.EarliestDate.IsZero() || tx.TransactionDate.Before(stats.EarliestDate) {
			stats.EarliestDate = tx.TransactionDate
		}
		if stats.LatestDate.IsZero() || stats.LatestDate.Before(tx.TransactionDate) {
			stats.LatestDate = tx.TransactionDate
		}
	}
	return stats, nil
}
