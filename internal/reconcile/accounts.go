// Package reconcile matches provider-discovered data against stored
// records: accounts by provider external id, transactions by external id
// or fingerprint count.
package reconcile

import (
	"time"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
)

// AccountReconcileResult separates accounts seen before from accounts
// discovered for the first time. Both slices are ready to upsert.
type AccountReconcileResult struct {
	Merged []domain.Account
	New    []domain.Account
}

// All returns merged and new accounts as a single upsert batch.
func (r AccountReconcileResult) All() []domain.Account {
	out := make([]domain.Account, 0, len(r.Merged)+len(r.New))
	out = append(out, r.Merged...)
	out = append(out, r.New...)
	return out
}

// ReconcileAccounts matches discovered accounts against existing ones by
// the provider's external id. A matched account keeps its internal id and
// creation time; name, currency, balance, and external ids take the
// provider's latest values, while nickname, account type, and institution
// details are only filled in when the stored account left them empty
// (they may hold user edits). Discovered accounts with no match are
// returned as new, keeping the fresh id the provider minted.
func ReconcileAccounts(providerName string, discovered, existing []domain.Account) AccountReconcileResult {
	byExternalID := make(map[string]domain.Account, len(existing))
	for _, acct := range existing {
		if extID, ok := acct.ExternalID(providerName); ok {
			byExternalID[extID] = acct
		}
	}

	var result AccountReconcileResult
	now := time.Now().UTC()
	for _, disc := range discovered {
		extID, ok := disc.ExternalID(providerName)
		if !ok {
			// A provider account without the provider's own id cannot
			// be matched on a later run; skip it entirely.
			continue
		}
		current, found := byExternalID[extID]
		if !found {
			result.New = append(result.New, disc)
			continue
		}
		result.Merged = append(result.Merged, mergeAccount(current, disc, now))
	}
	return result
}

func mergeAccount(current, disc domain.Account, now time.Time) domain.Account {
	merged := current
	if disc.Name != "" {
		merged.Name = disc.Name
	}
	if disc.Currency != "" {
		merged.Currency = disc.Currency
	}
	if disc.Balance != nil {
		merged.Balance = disc.Balance
	}
	if merged.Nickname == "" {
		merged.Nickname = disc.Nickname
	}
	if merged.AccountType == "" {
		merged.AccountType = disc.AccountType
	}
	if merged.InstitutionName == "" {
		merged.InstitutionName = disc.InstitutionName
	}
	if merged.InstitutionURL == "" {
		merged.InstitutionURL = disc.InstitutionURL
	}
	if merged.InstitutionDomain == "" {
		merged.InstitutionDomain = disc.InstitutionDomain
	}

	ids := make(map[string]string, len(current.ExternalIDs)+len(disc.ExternalIDs))
	for k, v := range current.ExternalIDs {
		ids[k] = v
	}
	for k, v := range disc.ExternalIDs {
		ids[k] = v
	}
	merged.ExternalIDs = ids
	merged.UpdatedAt = now
	return merged
}
