package ofxfile

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

// Synthetic OFX content for CI
const bankStatementOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20250201120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>USD
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>9876543210
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20250101000000
<DTEND>20250131235959
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250105120000
<TRNAMT>-50.00
<FITID>TXN001
<NAME>Coffee Shop
<MEMO>Morning coffee
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20250115120000
<TRNAMT>1000.00
<FITID>TXN002
<NAME>Paycheck
</STMTTRN>
<STMTTRN>
<TRNTYPE>DEBIT
<DTPOSTED>20250120120000
<TRNAMT>-25.50
<FITID>TXN003
<MEMO>Memo-only merchant
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20250131235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func writeOFX(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statement.ofx")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestGetAccounts(t *testing.T) {
	path := writeOFX(t, bankStatementOFX)
	settings := provider.Settings{SettingPath: path, SettingInstitution: "Test Bank"}

	page, err := New().GetAccounts(context.Background(), nil, settings)
	require.NoError(t, err)
	require.Len(t, page.Accounts, 1)

	acct := page.Accounts[0]
	assert.Equal(t, "Test Bank Checking ...3210", acct.Name)
	assert.Equal(t, "checking", acct.AccountType)
	assert.Equal(t, "USD", acct.Currency)
	assert.Equal(t, "acc-test-bank-3210", acct.ExternalIDs[Name])
	require.NotNil(t, acct.Balance)
	assert.True(t, acct.Balance.Equal(decimal.RequireFromString("2000.00")))
}

func TestGetTransactions(t *testing.T) {
	path := writeOFX(t, bankStatementOFX)
	settings := provider.Settings{SettingPath: path, SettingInstitution: "Test Bank"}
	start, _ := domain.ParseDate("2025-01-01")
	end, _ := domain.ParseDate("2025-01-31")

	page, err := New().GetTransactions(context.Background(), start, end, nil, settings)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)

	first := page.Transactions[0].Transaction
	assert.Equal(t, "Coffee Shop", first.Description, "NAME wins over MEMO")
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("-50.00")))
	assert.Equal(t, "2025-01-05", first.TransactionDate.String())
	assert.Equal(t, "TXN001", first.ExternalIDs[Name])
	assert.Equal(t, "acc-test-bank-3210", page.Transactions[0].ProviderAccountID)

	memoOnly := page.Transactions[2].Transaction
	assert.Equal(t, "Memo-only merchant", memoOnly.Description, "MEMO is the fallback description")
}

func TestGetTransactionsWindowFilter(t *testing.T) {
	path := writeOFX(t, bankStatementOFX)
	settings := provider.Settings{SettingPath: path}
	start, _ := domain.ParseDate("2025-01-10")
	end, _ := domain.ParseDate("2025-01-16")

	page, err := New().GetTransactions(context.Background(), start, end, nil, settings)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "Paycheck", page.Transactions[0].Transaction.Description)
}

func TestGetTransactionsAccountFilter(t *testing.T) {
	path := writeOFX(t, bankStatementOFX)
	settings := provider.Settings{SettingPath: path, SettingInstitution: "Test Bank"}

	page, err := New().GetTransactions(context.Background(), domain.Date{}, domain.Date{},
		[]string{"acc-other-bank-0000"}, settings)
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
}

func TestMissingPathAndBadFile(t *testing.T) {
	p := New()
	_, err := p.GetAccounts(context.Background(), nil, provider.Settings{})
	require.Error(t, err)

	path := writeOFX(t, "not an ofx file at all")
	_, err = p.GetAccounts(context.Background(), nil, provider.Settings{SettingPath: path})
	require.Error(t, err)
}
