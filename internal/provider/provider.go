// Package provider defines the data-source interface behind which bank
// aggregation APIs, file readers, and demo generators all look alike.
package provider

import (
	"context"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
)

// Settings carries provider-specific options stored with an integration
// (access URLs, file paths, column mappings).
type Settings map[string]string

// Get returns the value for a key, or the fallback when unset.
func (s Settings) Get(key, fallback string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return fallback
}

// SourcedTransaction is a discovered transaction still tagged with the
// provider-side account id it arrived under. Reconciliation remaps it to
// the internal account before anything is persisted.
type SourcedTransaction struct {
	ProviderAccountID string
	Transaction       domain.Transaction
}

// AccountsPage is the result of an account discovery call. Warnings carry
// non fatal provider messages (e.g. "reauthentication required") that
// accompany otherwise successful data.
type AccountsPage struct {
	Accounts []domain.Account
	Warnings []string
}

// TransactionsPage is the result of a transaction fetch.
type TransactionsPage struct {
	Transactions []SourcedTransaction
	Warnings     []string
}

// Provider is a source of accounts, transactions, and balances. Not every
// source supports every capability: a CSV export has no account listing,
// a balance-only feed has no transactions. Callers must check the
// capability flags before calling the corresponding method; calling an
// unsupported method returns an error rather than panicking.
type Provider interface {
	// Name returns the provider identifier used as the external-id key
	// on accounts and transactions (e.g. "simplefin", "csv").
	Name() string

	CanGetAccounts() bool
	CanGetTransactions() bool
	CanGetBalances() bool

	// GetAccounts discovers accounts. providerAccountIDs narrows the
	// fetch to already-known accounts when non-empty.
	GetAccounts(ctx context.Context, providerAccountIDs []string, settings Settings) (AccountsPage, error)

	// GetTransactions fetches transactions in [start, end], each tagged
	// with its provider-side account id. Accounts not in
	// providerAccountIDs are invisible to this call: accounts must be
	// synced before their transactions.
	GetTransactions(ctx context.Context, start, end domain.Date, providerAccountIDs []string, settings Settings) (TransactionsPage, error)
}
