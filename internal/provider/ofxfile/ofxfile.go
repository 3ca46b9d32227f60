// Package ofxfile provides a provider that reads OFX/QFX statement
// downloads. Unlike CSV exports, OFX files describe their account and
// carry a ledger balance and stable transaction ids, so OFX
// integrations work through the regular sync path.
package ofxfile

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/transform"
)

// Name is the registry key and external-id key for OFX imports.
const Name = "ofx"

// Settings keys understood by this provider.
const (
	SettingPath        = "path"
	SettingInstitution = "institution"
)

// statement is the subset of an OFX response the engine cares about,
// shared between bank and credit card statements.
type statement struct {
	acctID      string
	accountType string
	currency    string
	balance     *decimal.Decimal
	tranList    *ofxgo.TransactionList
}

// Provider reads one OFX file per call.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string             { return Name }
func (p *Provider) CanGetAccounts() bool     { return true }
func (p *Provider) CanGetTransactions() bool { return true }
func (p *Provider) CanGetBalances() bool     { return true }

// GetAccounts returns one account per statement in the configured file,
// carrying the statement's ledger balance.
func (p *Provider) GetAccounts(ctx context.Context, providerAccountIDs []string, settings provider.Settings) (provider.AccountsPage, error) {
	stmts, warnings, err := p.parseFile(settings)
	if err != nil {
		return provider.AccountsPage{}, err
	}
	wanted := toSet(providerAccountIDs)
	institution := settings.Get(SettingInstitution, "")

	page := provider.AccountsPage{Warnings: warnings}
	for _, stmt := range stmts {
		extID := providerAccountID(institution, stmt.acctID)
		if len(wanted) > 0 {
			if _, ok := wanted[extID]; !ok {
				continue
			}
		}
		acct := domain.NewAccount(accountName(institution, stmt))
		acct.ExternalIDs[Name] = extID
		acct.AccountType = stmt.accountType
		if stmt.currency != "" {
			acct.Currency = stmt.currency
		}
		acct.Balance = stmt.balance
		acct.InstitutionName = institution
		page.Accounts = append(page.Accounts, acct)
	}
	return page, nil
}

// GetTransactions returns the file's transactions within [start, end].
// OFX supplies a stable FITID per transaction, used as the external id
// so re-syncing the same download dedups by id.
func (p *Provider) GetTransactions(ctx context.Context, start, end domain.Date, providerAccountIDs []string, settings provider.Settings) (provider.TransactionsPage, error) {
	stmts, warnings, err := p.parseFile(settings)
	if err != nil {
		return provider.TransactionsPage{}, err
	}
	wanted := toSet(providerAccountIDs)
	institution := settings.Get(SettingInstitution, "")

	page := provider.TransactionsPage{Warnings: warnings}
	for _, stmt := range stmts {
		extID := providerAccountID(institution, stmt.acctID)
		if len(wanted) > 0 {
			if _, ok := wanted[extID]; !ok {
				continue
			}
		}
		if stmt.tranList == nil {
			continue
		}
		for _, txn := range stmt.tranList.Transactions {
			tx, warn := extractTransaction(txn)
			if warn != "" {
				page.Warnings = append(page.Warnings, warn)
				continue
			}
			d := tx.TransactionDate
			if !start.IsZero() && d.Before(start) {
				continue
			}
			if !end.IsZero() && d.After(end) {
				continue
			}
			page.Transactions = append(page.Transactions, provider.SourcedTransaction{
				ProviderAccountID: extID,
				Transaction:       tx,
			})
		}
	}
	return page, nil
}

func (p *Provider) parseFile(settings provider.Settings) ([]statement, []string, error) {
	path := settings.Get(SettingPath, "")
	if path == "" {
		return nil, nil, fmt.Errorf("ofx provider requires a %q setting", SettingPath)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening ofx file: %w", err)
	}
	defer f.Close()

	resp, err := ofxgo.ParseResponse(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	var stmts []statement
	var warnings []string
	for _, msg := range resp.Bank {
		bank, ok := msg.(*ofxgo.StatementResponse)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unsupported bank message %T", msg))
			continue
		}
		stmts = append(stmts, statement{
			acctID:      bank.BankAcctFrom.AcctID.String(),
			accountType: bankAccountType(bank.BankAcctFrom),
			currency:    bank.CurDef.String(),
			balance:     amountToDecimal(bank.BalAmt),
			tranList:    bank.BankTranList,
		})
	}
	for _, msg := range resp.CreditCard {
		cc, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unsupported credit card message %T", msg))
			continue
		}
		stmts = append(stmts, statement{
			acctID:      cc.CCAcctFrom.AcctID.String(),
			accountType: "credit",
			currency:    cc.CurDef.String(),
			balance:     amountToDecimal(cc.BalAmt),
			tranList:    cc.BankTranList,
		})
	}
	if len(resp.InvStmt) > 0 {
		warnings = append(warnings, "investment statements are not supported and were skipped")
	}
	if len(stmts) == 0 {
		return nil, warnings, fmt.Errorf("no bank or credit card statements in %s", path)
	}
	return stmts, warnings, nil
}

func extractTransaction(txn ofxgo.Transaction) (domain.Transaction, string) {
	id := txn.FiTID.String()
	if id == "" {
		return domain.Transaction{}, "transaction missing FITID, skipped"
	}

	// Posted date preferred, user-initiated date as fallback.
	posted := txn.DtPosted.Time
	if posted.IsZero() {
		posted = txn.DtUser.Time
	}
	if posted.IsZero() {
		return domain.Transaction{}, fmt.Sprintf("transaction %s has no date, skipped", id)
	}

	// Name preferred for the description, memo as fallback.
	description := strings.TrimSpace(txn.Name.String())
	if description == "" {
		description = strings.TrimSpace(txn.Memo.String())
	}
	if description == "" {
		return domain.Transaction{}, fmt.Sprintf("transaction %s has no description, skipped", id)
	}

	return domain.TransactionDraft{
		ExternalIDs:     map[string]string{Name: id},
		Amount:          decimal.NewFromBigRat(&txn.TrnAmt.Rat, 2),
		Description:     description,
		TransactionDate: domain.DateOf(posted),
	}.Build(), ""
}

func amountToDecimal(amt ofxgo.Amount) *decimal.Decimal {
	d := decimal.NewFromBigRat(&amt.Rat, 2)
	return &d
}

func bankAccountType(acct ofxgo.BankAcct) string {
	switch acct.AcctType {
	case ofxgo.AcctTypeChecking:
		return "checking"
	case ofxgo.AcctTypeSavings:
		return "savings"
	case ofxgo.AcctTypeMoneyMrkt:
		return "money_market"
	default:
		return strings.ToLower(acct.AcctType.String())
	}
}

func providerAccountID(institution, acctID string) string {
	slug := Name
	if institution != "" {
		if s, err := transform.SlugifyInstitution(institution); err == nil {
			slug = s
		}
	}
	return transform.FileAccountID(slug, acctID)
}

func accountName(institution string, stmt statement) string {
	last4 := transform.ExtractLast4(stmt.acctID)
	kind := stmt.accountType
	if kind == "" {
		kind = "account"
	}
	kind = strings.ToUpper(kind[:1]) + kind[1:]
	if institution == "" {
		return fmt.Sprintf("%s ...%s", kind, last4)
	}
	return fmt.Sprintf("%s %s ...%s", institution, kind, last4)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
