// Package demo provides a provider of deterministic fake data for demos
// and testing without any external API calls.
package demo

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
)

// Name is the registry key and external-id key for demo data.
const Name = "demo"

type accountTemplate struct {
	externalID        string
	name              string
	balance           string
	institutionName   string
	institutionURL    string
	institutionDomain string
}

type txTemplate struct {
	accountID   string
	description string
	amount      string
	tag         string
}

var accountTemplates = []accountTemplate{
	{"demo-checking-001", "Demo Checking Account", "3247.85",
		"Demo Bank", "https://demo-bank.example.com", "demo-bank.example.com"},
	{"demo-savings-001", "Demo Savings Account", "15420.50",
		"Demo Bank", "https://demo-bank.example.com", "demo-bank.example.com"},
	{"demo-credit-001", "Demo Credit Card", "-842.32",
		"Demo Credit Union", "https://demo-credit.example.com", "demo-credit.example.com"},
}

var txTemplates = []txTemplate{
	{"demo-checking-001", "QFC Grocery Store", "-87.43", "groceries"},
	{"demo-checking-001", "Starbucks", "-5.75", "coffee"},
	{"demo-checking-001", "Shell Gas Station", "-52.00", "transportation"},
	{"demo-checking-001", "Netflix", "-15.99", "entertainment"},
	{"demo-checking-001", "Direct Deposit - Payroll", "3500.00", "income"},
	{"demo-checking-001", "Amazon.com", "-124.87", "shopping"},
	{"demo-checking-001", "PG&E Utility Bill", "-145.23", "utilities"},
	{"demo-checking-001", "Target", "-67.92", "shopping"},
	{"demo-checking-001", "Whole Foods", "-112.56", "groceries"},
	{"demo-checking-001", "Uber", "-23.40", "transportation"},
	{"demo-credit-001", "Delta Airlines", "-450.00", "travel"},
	{"demo-credit-001", "Hilton Hotel", "-285.60", "travel"},
	{"demo-credit-001", "Restaurant - Fine Dining", "-95.75", "dining"},
	{"demo-credit-001", "Apple Store", "-1299.00", "electronics"},
	{"demo-credit-001", "Spotify Premium", "-9.99", "entertainment"},
	{"demo-credit-001", "Payment Thank You", "500.00", "payment"},
	{"demo-savings-001", "Transfer from Checking", "500.00", "transfer"},
	{"demo-savings-001", "Interest Payment", "12.45", "income"},
}

// Provider returns canned accounts and transactions. Transactions are
// spread evenly across the requested window, so repeated syncs over the
// same window return the same data and dedup away.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string             { return Name }
func (p *Provider) CanGetAccounts() bool     { return true }
func (p *Provider) CanGetTransactions() bool { return true }
func (p *Provider) CanGetBalances() bool     { return true }

func (p *Provider) GetAccounts(ctx context.Context, providerAccountIDs []string, settings provider.Settings) (provider.AccountsPage, error) {
	wanted := toSet(providerAccountIDs)
	page := provider.AccountsPage{}
	for _, tpl := range accountTemplates {
		if len(wanted) > 0 {
			if _, ok := wanted[tpl.externalID]; !ok {
				continue
			}
		}
		bal := decimal.RequireFromString(tpl.balance)
		acct := domain.NewAccount(tpl.name)
		acct.ExternalIDs[Name] = tpl.externalID
		acct.Balance = &bal
		acct.InstitutionName = tpl.institutionName
		acct.InstitutionURL = tpl.institutionURL
		acct.InstitutionDomain = tpl.institutionDomain
		page.Accounts = append(page.Accounts, acct)
	}
	return page, nil
}

func (p *Provider) GetTransactions(ctx context.Context, start, end domain.Date, providerAccountIDs []string, settings provider.Settings) (provider.TransactionsPage, error) {
	wanted := toSet(providerAccountIDs)
	daysInRange := start.DaysBetween(end)
	if daysInRange <= 0 {
		daysInRange = 1
	}

	page := provider.TransactionsPage{}
	for i, tpl := range txTemplates {
		if len(wanted) > 0 {
			if _, ok := wanted[tpl.accountID]; !ok {
				continue
			}
		}
		// Space transactions evenly across the window. The external id
		// is positional, so a re-fetch of the same window is identical.
		date := start.AddDays(i * daysInRange / len(txTemplates))
		if date.Before(start) || date.After(end) {
			continue
		}
		tx := domain.TransactionDraft{
			ExternalIDs:     map[string]string{Name: demoTxID(i)},
			Amount:          decimal.RequireFromString(tpl.amount),
			Description:     tpl.description,
			TransactionDate: date,
			Tags:            []string{tpl.tag},
		}.Build()
		page.Transactions = append(page.Transactions, provider.SourcedTransaction{
			ProviderAccountID: tpl.accountID,
			Transaction:       tx,
		})
	}
	return page, nil
}

func demoTxID(i int) string {
	return fmt.Sprintf("demo-tx-%04d", i)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
