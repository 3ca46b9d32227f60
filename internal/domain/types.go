// Package domain defines the entities shared by providers, reconcilers,
// and stores: accounts, transactions, balance snapshots, and integrations.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/fingerprint"
)

// FingerprintKey is the reserved external-id entry holding a transaction's
// content-derived identity. It coexists with provider entries in the same
// map but is never a provider name.
const FingerprintKey = "fingerprint"

// Account represents a financial account owned by the user.
//
// ExternalIDs maps a provider name to that provider's identifier for the
// account (e.g. {"simplefin": "acc123"}), at most one entry per provider.
type Account struct {
	ID                uuid.UUID
	Name              string
	Nickname          string
	AccountType       string
	Currency          string
	ExternalIDs       map[string]string
	Balance           *decimal.Decimal
	InstitutionName   string
	InstitutionURL    string
	InstitutionDomain string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewAccount creates an account with a fresh id and USD default currency.
func NewAccount(name string) Account {
	now := time.Now().UTC()
	return Account{
		ID:          uuid.New(),
		Name:        name,
		Currency:    "USD",
		ExternalIDs: map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks account invariants.
func (a Account) Validate() error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("account id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("account name cannot be empty")
	}
	if a.Currency == "" {
		return fmt.Errorf("account currency cannot be empty")
	}
	return nil
}

// ExternalID returns the account's external id for a provider, if any.
func (a Account) ExternalID(provider string) (string, bool) {
	id, ok := a.ExternalIDs[provider]
	return id, ok && id != ""
}

// Transaction is a single transaction belonging to an account.
//
// The ExternalIDs map always contains a FingerprintKey entry, computed at
// construction time by TransactionDraft.Build and never recomputed for a
// stored record. Amount and dates are frozen after creation; only Tags and
// the soft-delete state may change.
type Transaction struct {
	ID                  uuid.UUID
	AccountID           uuid.UUID
	ExternalIDs         map[string]string
	Amount              decimal.Decimal
	Description         string
	TransactionDate     Date
	PostedDate          Date
	Tags                []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           *time.Time
	ParentTransactionID *uuid.UUID
}

// TransactionDraft collects the fields of a transaction before it exists.
// Build computes the fingerprint first and only then constructs the
// record, so a Transaction never circulates without one.
type TransactionDraft struct {
	AccountID           uuid.UUID
	ExternalIDs         map[string]string
	Amount              decimal.Decimal
	Description         string
	TransactionDate     Date
	PostedDate          Date
	Tags                []string
	ParentTransactionID *uuid.UUID
}

// Build constructs the transaction. PostedDate defaults to the
// transaction date when unset. Tags are trimmed and deduplicated in
// first-seen order.
func (d TransactionDraft) Build() Transaction {
	posted := d.PostedDate
	if posted.IsZero() {
		posted = d.TransactionDate
	}

	ids := make(map[string]string, len(d.ExternalIDs)+1)
	for k, v := range d.ExternalIDs {
		ids[k] = v
	}
	ids[FingerprintKey] = fingerprint.Generate(
		d.AccountID.String(), d.TransactionDate.String(), d.Amount, d.Description)

	now := time.Now().UTC()
	return Transaction{
		ID:                  uuid.New(),
		AccountID:           d.AccountID,
		ExternalIDs:         ids,
		Amount:              d.Amount,
		Description:         d.Description,
		TransactionDate:     d.TransactionDate,
		PostedDate:          posted,
		Tags:                NormalizeTags(d.Tags),
		CreatedAt:           now,
		UpdatedAt:           now,
		ParentTransactionID: d.ParentTransactionID,
	}
}

// Remap returns a copy of the transaction owned by a different account.
// The fingerprint depends on the owning account, so the old entry is
// discarded and a fresh one is computed against the new account id. Used
// when a transaction discovered against a provider-side account id is
// attached to the matching internal account before insert.
func (t Transaction) Remap(accountID uuid.UUID) Transaction {
	ids := make(map[string]string, len(t.ExternalIDs))
	for k, v := range t.ExternalIDs {
		if k == FingerprintKey {
			continue
		}
		ids[k] = v
	}
	ids[FingerprintKey] = fingerprint.Generate(
		accountID.String(), t.TransactionDate.String(), t.Amount, t.Description)

	remapped := t
	remapped.AccountID = accountID
	remapped.ExternalIDs = ids
	return remapped
}

// Fingerprint returns the transaction's content identity.
func (t Transaction) Fingerprint() string {
	return t.ExternalIDs[FingerprintKey]
}

// ExternalID returns the transaction's external id for a provider, if any.
func (t Transaction) ExternalID(provider string) (string, bool) {
	id, ok := t.ExternalIDs[provider]
	return id, ok && id != ""
}

// WithTags returns a copy of the transaction with the given tags appended,
// preserving existing tags and first-seen order.
func (t Transaction) WithTags(tags ...string) Transaction {
	if len(tags) == 0 {
		return t
	}
	merged := make([]string, 0, len(t.Tags)+len(tags))
	merged = append(merged, t.Tags...)
	merged = append(merged, tags...)
	out := t
	out.Tags = NormalizeTags(merged)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// Validate checks transaction invariants.
func (t Transaction) Validate() error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("transaction id is required")
	}
	if t.AccountID == uuid.Nil {
		return fmt.Errorf("transaction account id is required")
	}
	if t.TransactionDate.IsZero() {
		return fmt.Errorf("transaction date is required")
	}
	if t.ExternalIDs[FingerprintKey] == "" {
		return fmt.Errorf("transaction %s is missing its fingerprint", t.ID)
	}
	return nil
}

// NormalizeTags trims, drops empties, and deduplicates tags while keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := trimTag(raw)
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func trimTag(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// SnapshotSource records how a balance snapshot came to exist. Legacy rows
// predating the tag have an empty source.
type SnapshotSource string

const (
	SnapshotSourceSync     SnapshotSource = "sync"
	SnapshotSourceManual   SnapshotSource = "manual"
	SnapshotSourceBackfill SnapshotSource = "backfill"
)

// BalanceSnapshot is an account balance observed at a point in time.
// Snapshots are append-only: never updated, only inserted. Multiple
// snapshots may exist for one account on one calendar date, each with a
// distinct balance.
type BalanceSnapshot struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Balance      decimal.Decimal
	SnapshotTime time.Time
	Source       SnapshotSource
	CreatedAt    time.Time
}

// NewBalanceSnapshot creates a snapshot with a fresh id.
func NewBalanceSnapshot(accountID uuid.UUID, balance decimal.Decimal, snapshotTime time.Time, source SnapshotSource) BalanceSnapshot {
	return BalanceSnapshot{
		ID:           uuid.New(),
		AccountID:    accountID,
		Balance:      balance,
		SnapshotTime: snapshotTime,
		Source:       source,
		CreatedAt:    time.Now().UTC(),
	}
}

// Date returns the calendar date of the snapshot.
func (s BalanceSnapshot) Date() Date { return DateOf(s.SnapshotTime) }

// Integration is a configured connection to a data provider.
type Integration struct {
	Name      string
	Options   map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}
