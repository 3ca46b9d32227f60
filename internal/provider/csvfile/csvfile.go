// Package csvfile provides a provider that reads transactions from a
// CSV export. Column mapping comes from integration settings, so exports
// from different banks work without code changes. CSV exports carry no
// account listing; transactions are imported against an explicitly
// chosen account.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/transform"
)

// Name is the registry key and external-id key for CSV imports.
const Name = "csv"

// Settings keys understood by this provider.
const (
	SettingPath          = "path"
	SettingDateColumn    = "date_column"
	SettingDescColumn    = "description_column"
	SettingAmountColumn  = "amount_column"
	SettingFlipSigns     = "flip_signs"
	SettingInstitution   = "institution"
	SettingAccountNumber = "account_number"
)

// Provider reads one CSV file per GetTransactions call.
type Provider struct{}

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string             { return Name }
func (p *Provider) CanGetAccounts() bool     { return false }
func (p *Provider) CanGetTransactions() bool { return true }
func (p *Provider) CanGetBalances() bool     { return false }

// GetAccounts is unsupported: a CSV export does not describe accounts.
func (p *Provider) GetAccounts(ctx context.Context, providerAccountIDs []string, settings provider.Settings) (provider.AccountsPage, error) {
	return provider.AccountsPage{}, fmt.Errorf("csv provider cannot list accounts")
}

// GetTransactions parses the configured file. Rows outside [start, end]
// are skipped; a zero start/end disables the bound. Unparseable rows are
// reported as warnings rather than failing the whole file.
func (p *Provider) GetTransactions(ctx context.Context, start, end domain.Date, providerAccountIDs []string, settings provider.Settings) (provider.TransactionsPage, error) {
	path := settings.Get(SettingPath, "")
	if path == "" {
		return provider.TransactionsPage{}, fmt.Errorf("csv provider requires a %q setting", SettingPath)
	}

	f, err := os.Open(path)
	if err != nil {
		return provider.TransactionsPage{}, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()

	page, err := p.parse(f, start, end, settings)
	if err != nil {
		return provider.TransactionsPage{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return page, nil
}

func (p *Provider) parse(r io.Reader, start, end domain.Date, settings provider.Settings) (provider.TransactionsPage, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return provider.TransactionsPage{}, fmt.Errorf("reading header: %w", err)
	}

	dateCol, err := findColumn(header, settings.Get(SettingDateColumn, "date"))
	if err != nil {
		return provider.TransactionsPage{}, err
	}
	descCol, err := findColumn(header, settings.Get(SettingDescColumn, "description"))
	if err != nil {
		return provider.TransactionsPage{}, err
	}
	amountCol, err := findColumn(header, settings.Get(SettingAmountColumn, "amount"))
	if err != nil {
		return provider.TransactionsPage{}, err
	}

	// Some exports record spending as positive numbers.
	flipSigns := strings.EqualFold(settings.Get(SettingFlipSigns, "false"), "true")
	providerAcctID := fileAccountID(settings)

	page := provider.TransactionsPage{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			page.Warnings = append(page.Warnings, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		maxCol := dateCol
		for _, c := range []int{descCol, amountCol} {
			if c > maxCol {
				maxCol = c
			}
		}
		if len(record) <= maxCol {
			page.Warnings = append(page.Warnings, fmt.Sprintf("line %d: too few fields", line))
			continue
		}

		date, err := parseRowDate(record[dateCol])
		if err != nil {
			page.Warnings = append(page.Warnings, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if !start.IsZero() && date.Before(start) {
			continue
		}
		if !end.IsZero() && date.After(end) {
			continue
		}

		amount, err := parseRowAmount(record[amountCol])
		if err != nil {
			page.Warnings = append(page.Warnings, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if flipSigns {
			amount = amount.Neg()
		}

		tx := domain.TransactionDraft{
			Amount:          amount,
			Description:     strings.TrimSpace(record[descCol]),
			TransactionDate: date,
		}.Build()
		page.Transactions = append(page.Transactions, provider.SourcedTransaction{
			ProviderAccountID: providerAcctID,
			Transaction:       tx,
		})
	}
	return page, nil
}

// rowDateLayouts are tried in order. ISO first, then the US formats bank
// exports actually use.
var rowDateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "2006/01/02"}

func parseRowDate(s string) (domain.Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range rowDateLayouts {
		if d, err := domain.ParseDateLayout(s, layout); err == nil {
			return d, nil
		}
	}
	return domain.Date{}, fmt.Errorf("unrecognized date %q", s)
}

func parseRowAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	// Accounting notation: (12.34) means -12.34.
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.Trim(s, "()")
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("unrecognized amount %q", s)
	}
	return amount, nil
}

func findColumn(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not found in header %v", name, header)
}

// fileAccountID mints a stable provider-side account id from the
// institution and account-number settings, falling back to a constant
// when neither is configured (the import command remaps to an explicit
// account anyway).
func fileAccountID(settings provider.Settings) string {
	institution := settings.Get(SettingInstitution, "")
	number := settings.Get(SettingAccountNumber, "")
	if institution == "" && number == "" {
		return "csv-import"
	}
	slug := "csv"
	if institution != "" {
		if s, err := transform.SlugifyInstitution(institution); err == nil {
			slug = s
		}
	}
	return transform.FileAccountID(slug, number)
}
