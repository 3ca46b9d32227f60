package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type backfillCmd struct {
	accountIDs stringList
	days       int
	dryRun     bool
	verbose    bool
}

func (*backfillCmd) Name() string     { return "backfill" }
func (*backfillCmd) Synopsis() string { return "reconstruct historical balance snapshots" }
func (*backfillCmd) Usage() string {
	return `finsync backfill [-account-id ID]... [-days N] [-dry-run] [-verbose]

  Walks transaction history backward from each account's most recent
  balance snapshot and creates end-of-day snapshots for days that have
  none. Requires at least one recorded balance per account.
`
}

func (c *backfillCmd) SetFlags(f *flag.FlagSet) {
	f.Var(&c.accountIDs, "account-id", "Backfill only this account (repeatable; default all).")
	f.IntVar(&c.days, "days", 0, "Stop after walking this many days back (default unlimited).")
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what would be created without persisting anything.")
	f.BoolVar(&c.verbose, "verbose", false, "Show per-day reconstruction decisions.")
}

func (c *backfillCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := logger.New(c.verbose)
	ctx = logger.WithContext(ctx, log)

	ids := make([]uuid.UUID, 0, len(c.accountIDs))
	for _, raw := range c.accountIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fail(fmt.Errorf("invalid account id %q: %w", raw, err))
		}
		ids = append(ids, id)
	}

	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	engine := balance.NewBackfillEngine(app.store)
	var results []balance.AccountBackfillResult
	if len(ids) == 0 {
		results, err = engine.Run(ctx, balance.BackfillOptions{DryRun: c.dryRun, MaxDays: c.days})
		if err != nil {
			return fail(err)
		}
	} else {
		for i := range ids {
			res, err := engine.Run(ctx, balance.BackfillOptions{
				DryRun:    c.dryRun,
				MaxDays:   c.days,
				AccountID: &ids[i],
			})
			if err != nil {
				return fail(err)
			}
			results = append(results, res...)
		}
	}

	ui.Header("Backfilling Balances")
	if c.dryRun {
		ui.Muted("dry run: nothing will be persisted")
	}
	for _, res := range results {
		if res.Warning != "" {
			ui.Warning(fmt.Sprintf("%s: %s", res.AccountName, res.Warning))
			continue
		}
		ui.Success(fmt.Sprintf("%s: %d snapshots created, %d days already covered",
			res.AccountName, len(res.Created), res.Skipped))
		if c.verbose {
			for _, snap := range res.Created {
				ui.Muted(fmt.Sprintf("%s = %s", snap.Date(), snap.Balance.StringFixed(2)))
			}
		}
	}
	return subcommands.ExitSuccess
}
