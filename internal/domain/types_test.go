package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionDraftBuild(t *testing.T) {
	accountID := uuid.New()
	draft := TransactionDraft{
		AccountID:       accountID,
		ExternalIDs:     map[string]string{"simplefin": "txn-001"},
		Amount:          decimal.RequireFromString("-87.43"),
		Description:     "QFC Grocery Store",
		TransactionDate: NewDate(2025, time.January, 15),
		Tags:            []string{" groceries", "groceries", "", "food"},
	}

	tx := draft.Build()

	require.NoError(t, tx.Validate())
	assert.NotEqual(t, uuid.Nil, tx.ID)
	assert.Equal(t, accountID, tx.AccountID)
	assert.Equal(t, "txn-001", tx.ExternalIDs["simplefin"])
	assert.Len(t, tx.Fingerprint(), 16)
	assert.Equal(t, tx.TransactionDate, tx.PostedDate, "posted date defaults to transaction date")
	assert.Equal(t, []string{"groceries", "food"}, tx.Tags)

	// Build must not mutate the draft's external-id map.
	_, hasFingerprint := draft.ExternalIDs[FingerprintKey]
	assert.False(t, hasFingerprint)
}

func TestTransactionDraftBuildDeterministicFingerprint(t *testing.T) {
	accountID := uuid.New()
	draft := TransactionDraft{
		AccountID:       accountID,
		Amount:          decimal.RequireFromString("-5.75"),
		Description:     "Starbucks",
		TransactionDate: NewDate(2025, time.January, 15),
	}

	a := draft.Build()
	b := draft.Build()

	assert.NotEqual(t, a.ID, b.ID, "each build gets a fresh id")
	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "fingerprint is content-derived")
}

func TestTransactionRemap(t *testing.T) {
	providerSide := uuid.New()
	internal := uuid.New()

	tx := TransactionDraft{
		AccountID:       providerSide,
		ExternalIDs:     map[string]string{"simplefin": "txn-001"},
		Amount:          decimal.RequireFromString("-52.00"),
		Description:     "Shell Gas Station",
		TransactionDate: NewDate(2025, time.January, 15),
	}.Build()
	oldFingerprint := tx.Fingerprint()

	remapped := tx.Remap(internal)

	assert.Equal(t, internal, remapped.AccountID)
	assert.Equal(t, "txn-001", remapped.ExternalIDs["simplefin"], "provider ids survive remapping")
	assert.NotEqual(t, oldFingerprint, remapped.Fingerprint(), "fingerprint is recomputed against the new account")
	assert.Equal(t, tx.ID, remapped.ID, "identity of the unstored record is retained")

	// The original value is untouched.
	assert.Equal(t, providerSide, tx.AccountID)
	assert.Equal(t, oldFingerprint, tx.Fingerprint())
}

func TestTransactionWithTags(t *testing.T) {
	tx := TransactionDraft{
		AccountID:       uuid.New(),
		Amount:          decimal.RequireFromString("-15.99"),
		Description:     "Netflix",
		TransactionDate: NewDate(2025, time.January, 15),
		Tags:            []string{"subscriptions"},
	}.Build()

	tagged := tx.WithTags("entertainment", "subscriptions")

	assert.Equal(t, []string{"subscriptions", "entertainment"}, tagged.Tags)
	assert.Equal(t, []string{"subscriptions"}, tx.Tags, "original is unchanged")
	assert.Equal(t, tx.Fingerprint(), tagged.Fingerprint(), "tags never affect the fingerprint")
}

func TestTransactionValidate(t *testing.T) {
	valid := TransactionDraft{
		AccountID:       uuid.New(),
		Amount:          decimal.Zero,
		TransactionDate: NewDate(2025, time.January, 15),
	}.Build()
	require.NoError(t, valid.Validate(), "zero-amount transactions are valid")

	missingFingerprint := valid
	missingFingerprint.ExternalIDs = map[string]string{"simplefin": "txn-001"}
	assert.Error(t, missingFingerprint.Validate())

	noAccount := valid
	noAccount.AccountID = uuid.Nil
	assert.Error(t, noAccount.Validate())
}

func TestAccountValidate(t *testing.T) {
	acc := NewAccount("Demo Checking Account")
	require.NoError(t, acc.Validate())
	assert.Equal(t, "USD", acc.Currency)

	unnamed := acc
	unnamed.Name = ""
	assert.Error(t, unnamed.Validate())
}

func TestBalanceSnapshotDate(t *testing.T) {
	snap := NewBalanceSnapshot(uuid.New(), decimal.RequireFromString("100.00"),
		time.Date(2025, time.January, 10, 16, 30, 0, 0, time.UTC), SnapshotSourceSync)
	assert.Equal(t, NewDate(2025, time.January, 10), snap.Date())
	assert.NotEqual(t, uuid.Nil, snap.ID)
}
