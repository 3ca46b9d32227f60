package cli

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/csvfile"
	"github.com/rumor-ml/commons.systems/finsync/internal/provider/ofxfile"
	"github.com/rumor-ml/commons.systems/finsync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type importCmd struct {
	file      string
	account   string
	format    string
	flipSigns bool
	dryRun    bool
	verbose   bool

	dateColumn   string
	descColumn   string
	amountColumn string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import transactions from a CSV or OFX file" }
func (*importCmd) Usage() string {
	return `finsync import -file F -account ID [-format csv|ofx] [-flip-signs] [-dry-run]

  Imports a file's transactions into the given account. Duplicates of
  already-stored transactions are skipped; repeated charges within the
  file (same date, amount, and description) are preserved.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.file, "file", "", "Path of the file to import (required).")
	f.StringVar(&c.account, "account", "", "Target account id (required).")
	f.StringVar(&c.format, "format", "", "File format: csv or ofx. Defaults from the file extension.")
	f.BoolVar(&c.flipSigns, "flip-signs", false, "Negate amounts (for exports that report charges as positive).")
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what would be imported without persisting anything.")
	f.BoolVar(&c.verbose, "verbose", false, "Show per-transaction decisions.")
	f.StringVar(&c.dateColumn, "date-column", "", "CSV date column header (default \"date\").")
	f.StringVar(&c.descColumn, "description-column", "", "CSV description column header (default \"description\").")
	f.StringVar(&c.amountColumn, "amount-column", "", "CSV amount column header (default \"amount\").")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.file == "" || c.account == "" {
		fmt.Print(c.Usage())
		return subcommands.ExitUsageError
	}
	log := logger.New(c.verbose)
	ctx = logger.WithContext(ctx, log)

	accountID, err := uuid.Parse(c.account)
	if err != nil {
		return fail(fmt.Errorf("invalid account id %q: %w", c.account, err))
	}
	format, err := c.resolveFormat()
	if err != nil {
		return fail(err)
	}

	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	acct, err := app.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return fail(fmt.Errorf("account %s: %w", accountID, err))
	}

	src, err := app.registry.Lookup(format)
	if err != nil {
		return fail(err)
	}
	page, err := src.GetTransactions(ctx, domain.Date{}, domain.Date{}, nil, c.settings())
	if err != nil {
		return fail(err)
	}

	discovered := make([]domain.Transaction, 0, len(page.Transactions))
	for _, sourced := range page.Transactions {
		discovered = append(discovered, sourced.Transaction)
	}

	importer := reconcile.NewImporter(app.store, app.tagger)
	result, err := importer.ImportTransactions(ctx, accountID, discovered, c.dryRun)
	if err != nil {
		return fail(err)
	}

	ui.Header("Importing Transactions")
	if c.dryRun {
		ui.Muted("dry run: nothing will be persisted")
	}
	ui.Success(fmt.Sprintf("%s: %d discovered, %d imported, %d skipped",
		acct.Name, result.Discovered, result.Imported, len(result.Skipped)))
	for _, skip := range result.Skipped {
		ui.Muted(fmt.Sprintf("skipped %s %s %q (%d already stored)",
			skip.Date, skip.Amount.StringFixed(2), skip.Description, skip.ExistingCount))
	}
	for _, w := range page.Warnings {
		ui.Warning(w)
	}
	return subcommands.ExitSuccess
}

func (c *importCmd) resolveFormat() (string, error) {
	if c.format != "" {
		switch c.format {
		case csvfile.Name, ofxfile.Name:
			return c.format, nil
		}
		return "", fmt.Errorf("unsupported format %q (want csv or ofx)", c.format)
	}
	switch strings.ToLower(filepath.Ext(c.file)) {
	case ".csv":
		return csvfile.Name, nil
	case ".ofx", ".qfx":
		return ofxfile.Name, nil
	}
	return "", fmt.Errorf("cannot infer format from %q; pass -format", c.file)
}

func (c *importCmd) settings() provider.Settings {
	settings := provider.Settings{csvfile.SettingPath: c.file}
	if c.flipSigns {
		settings[csvfile.SettingFlipSigns] = "true"
	}
	if c.dateColumn != "" {
		settings[csvfile.SettingDateColumn] = c.dateColumn
	}
	if c.descColumn != "" {
		settings[csvfile.SettingDescColumn] = c.descColumn
	}
	if c.amountColumn != "" {
		settings[csvfile.SettingAmountColumn] = c.amountColumn
	}
	return settings
}
