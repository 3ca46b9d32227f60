package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func fetch(t *testing.T, settings provider.Settings, start, end string) provider.TransactionsPage {
	t.Helper()
	var s, e domain.Date
	if start != "" {
		s, _ = domain.ParseDate(start)
	}
	if end != "" {
		e, _ = domain.ParseDate(end)
	}
	page, err := New().GetTransactions(context.Background(), s, e, nil, settings)
	require.NoError(t, err)
	return page
}

func TestGetTransactionsDefaultColumns(t *testing.T) {
	path := writeCSV(t, `Date,Description,Amount
2025-01-05,COFFEE SHOP,-5.75
2025-01-06,"GROCERY MART, INC",-87.43
2025-01-07,PAYROLL,3500.00
`)
	page := fetch(t, provider.Settings{SettingPath: path}, "", "")
	require.Len(t, page.Transactions, 3)
	assert.Empty(t, page.Warnings)

	tx := page.Transactions[1].Transaction
	assert.Equal(t, "GROCERY MART, INC", tx.Description)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("-87.43")))
	assert.Equal(t, "2025-01-06", tx.TransactionDate.String())
	assert.NotEmpty(t, tx.Fingerprint())
}

func TestGetTransactionsCustomColumnsAndFormats(t *testing.T) {
	path := writeCSV(t, `Posted,Payee,Debit
01/05/2025,COFFEE SHOP,"$5.75"
01/06/2025,REFUND,(12.34)
`)
	page := fetch(t, provider.Settings{
		SettingPath:         path,
		SettingDateColumn:   "Posted",
		SettingDescColumn:   "Payee",
		SettingAmountColumn: "Debit",
		SettingFlipSigns:    "true",
	}, "", "")
	require.Len(t, page.Transactions, 2)

	// flip_signs turns the export's positive debits into negatives.
	assert.True(t, page.Transactions[0].Transaction.Amount.Equal(decimal.RequireFromString("-5.75")))
	// (12.34) parsed as -12.34, then flipped.
	assert.True(t, page.Transactions[1].Transaction.Amount.Equal(decimal.RequireFromString("12.34")))
}

func TestGetTransactionsWindowFilter(t *testing.T) {
	path := writeCSV(t, `Date,Description,Amount
2025-01-01,TOO EARLY,-1.00
2025-01-05,IN RANGE,-2.00
2025-02-01,TOO LATE,-3.00
`)
	page := fetch(t, provider.Settings{SettingPath: path}, "2025-01-03", "2025-01-31")
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "IN RANGE", page.Transactions[0].Transaction.Description)
}

func TestGetTransactionsBadRowsWarn(t *testing.T) {
	path := writeCSV(t, `Date,Description,Amount
not-a-date,BROKEN ROW,-1.00
2025-01-05,GOOD ROW,not-a-number
2025-01-06,SURVIVOR,-2.00
`)
	page := fetch(t, provider.Settings{SettingPath: path}, "", "")
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "SURVIVOR", page.Transactions[0].Transaction.Description)
	assert.Len(t, page.Warnings, 2)
}

func TestGetTransactionsMissingColumn(t *testing.T) {
	path := writeCSV(t, `When,What,HowMuch
2025-01-05,COFFEE,-5.75
`)
	_, err := New().GetTransactions(context.Background(), domain.Date{}, domain.Date{}, nil,
		provider.Settings{SettingPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "date" not found`)
}

func TestGetTransactionsMissingPath(t *testing.T) {
	_, err := New().GetTransactions(context.Background(), domain.Date{}, domain.Date{}, nil, provider.Settings{})
	require.Error(t, err)
}

func TestProviderAccountID(t *testing.T) {
	path := writeCSV(t, `Date,Description,Amount
2025-01-05,COFFEE,-5.75
`)
	page := fetch(t, provider.Settings{
		SettingPath:          path,
		SettingInstitution:   "PNC Bank",
		SettingAccountNumber: "1234567890",
	}, "", "")
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "acc-pnc-bank-7890", page.Transactions[0].ProviderAccountID)

	// Without institution settings a constant id is used.
	page = fetch(t, provider.Settings{SettingPath: path}, "", "")
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "csv-import", page.Transactions[0].ProviderAccountID)
}

func TestGetAccountsUnsupported(t *testing.T) {
	p := New()
	assert.False(t, p.CanGetAccounts())
	_, err := p.GetAccounts(context.Background(), nil, nil)
	require.Error(t, err)
}
