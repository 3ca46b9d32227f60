// Package store defines the persistence interface consumed by the
// reconciliation engine, with SQLite and Firestore implementations in
// subpackages. The engine reads all reconciliation state fresh at the
// start of each run; implementations only need to serialize writes.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Order selects the sort direction for transaction listings.
type Order string

const (
	OrderDateAsc  Order = "date_asc"
	OrderDateDesc Order = "date_desc"
)

// ExternalIDRef identifies a transaction by a provider-scoped external id.
type ExternalIDRef struct {
	Provider string
	ID       string
}

// Stats summarizes the stored data set for status reporting.
type Stats struct {
	Accounts     int
	Transactions int
	Snapshots    int
	Integrations int
	EarliestDate domain.Date
	LatestDate   domain.Date
}

// Store is the persistence boundary of the engine. Bulk writes are atomic:
// a failed bulk insert leaves none of its records behind, so a persist
// failure can never strand transactions missing a fingerprint.
type Store interface {
	// Init creates the schema if needed.
	Init(ctx context.Context) error
	Close() error

	GetAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccountByID(ctx context.Context, id uuid.UUID) (domain.Account, error)
	// BulkUpsertAccounts inserts or replaces accounts by id. Field-level
	// merge policy is the reconciler's job; rows arrive fully merged.
	BulkUpsertAccounts(ctx context.Context, accounts []domain.Account) error

	// GetTransactionsByExternalIDs returns stored transactions matching
	// any of the given provider-scoped external ids.
	GetTransactionsByExternalIDs(ctx context.Context, refs []ExternalIDRef) ([]domain.Transaction, error)
	GetTransactionsByAccount(ctx context.Context, accountID uuid.UUID, order Order) ([]domain.Transaction, error)
	BulkInsertTransactions(ctx context.Context, transactions []domain.Transaction) error
	UpdateTransactionTags(ctx context.Context, id uuid.UUID, tags []string) error
	// MaxTransactionDate returns the latest stored transaction date; ok
	// is false when no transactions exist.
	MaxTransactionDate(ctx context.Context) (date domain.Date, ok bool, err error)
	// GetTransactionCountsByFingerprint returns how many stored
	// transactions exist per fingerprint. Fingerprints with no matches
	// are absent from the map.
	GetTransactionCountsByFingerprint(ctx context.Context, fingerprints []string) (map[string]int, error)

	// GetBalanceSnapshots lists snapshots, optionally filtered by
	// account and/or calendar date.
	GetBalanceSnapshots(ctx context.Context, accountID *uuid.UUID, date *domain.Date) ([]domain.BalanceSnapshot, error)
	BulkAddBalances(ctx context.Context, snapshots []domain.BalanceSnapshot) error

	UpsertIntegration(ctx context.Context, name string, options map[string]string) error
	ListIntegrations(ctx context.Context) ([]domain.Integration, error)
	GetIntegrationSettings(ctx context.Context, name string) (map[string]string, error)

	GetStats(ctx context.Context) (Stats, error)
}
