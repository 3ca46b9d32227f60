package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/domain"
	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type balanceCmd struct {
	account string
	amount  string
	date    string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "record a manual balance snapshot" }
func (*balanceCmd) Usage() string {
	return `finsync balance -account ID -amount X [-date YYYY-MM-DD]

  Records a balance observation for an account. Recording the same
  balance twice on the same day is rejected; a different balance on the
  same day is kept as a correction.
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.account, "account", "", "Account id (required).")
	f.StringVar(&c.amount, "amount", "", "Balance amount, e.g. 1234.56 (required).")
	f.StringVar(&c.date, "date", "", "Snapshot date (default today).")
}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.account == "" || c.amount == "" {
		fmt.Print(c.Usage())
		return subcommands.ExitUsageError
	}
	accountID, err := uuid.Parse(c.account)
	if err != nil {
		return fail(fmt.Errorf("invalid account id %q: %w", c.account, err))
	}
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		return fail(fmt.Errorf("invalid amount %q: %w", c.amount, err))
	}
	at := time.Now().UTC()
	if c.date != "" {
		date, err := domain.ParseDate(c.date)
		if err != nil {
			return fail(err)
		}
		at = date.EndOfDay()
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

	snapshots := balance.NewSnapshotService(app.store)
	snap, err := snapshots.Add(ctx, accountID, amount, at, domain.SnapshotSourceManual)
	if err != nil {
		if errors.Is(err, balance.ErrDuplicateSnapshot) {
			ui.Warning(fmt.Sprintf("%s: %s already recorded for %s",
				acct.Name, amount.StringFixed(2), domain.DateOf(at)))
			return subcommands.ExitFailure
		}
		return fail(err)
	}

	ui.Success(fmt.Sprintf("%s: recorded %s at %s", acct.Name, snap.Balance.StringFixed(2), snap.Date()))
	return subcommands.ExitSuccess
}
