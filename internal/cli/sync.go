package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/finsync/internal/balance"
	"github.com/rumor-ml/commons.systems/finsync/internal/logger"
	"github.com/rumor-ml/commons.systems/finsync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type syncCmd struct {
	dryRun       bool
	verbose      bool
	integrations stringList
}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "sync accounts and transactions from all integrations" }
func (*syncCmd) Usage() string {
	return `finsync sync [-dry-run] [-verbose] [-integration NAME]...

  Fetches accounts, balances, and transactions from every configured
  integration and reconciles them against the local store. Already-known
  transactions are skipped, never overwritten.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.dryRun, "dry-run", false, "Report what would change without persisting anything.")
	f.BoolVar(&c.verbose, "verbose", false, "Show per-transaction reconciliation decisions.")
	f.Var(&c.integrations, "integration", "Sync only this integration (repeatable).")
}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := logger.New(c.verbose)
	ctx = logger.WithContext(ctx, log)

	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	syncer := reconcile.NewSyncer(app.store, app.registry, balance.NewSnapshotService(app.store), app.tagger)
	results, err := syncer.SyncAll(ctx, reconcile.SyncOptions{
		DryRun:       c.dryRun,
		Integrations: c.integrations,
	})
	if err != nil {
		return fail(err)
	}

	ui.Header("Syncing Integrations")
	if len(results) == 0 {
		ui.Warning("no integrations configured; run 'finsync integrations add NAME' first")
		return subcommands.ExitSuccess
	}
	if c.dryRun {
		ui.Muted("dry run: nothing will be persisted")
	}

	failures := 0
	for _, res := range results {
		if res.Err != "" {
			ui.Error(fmt.Sprintf("%s: %s", res.Integration, res.Err))
			failures++
			continue
		}
		ui.Success(fmt.Sprintf("%s: %d discovered, %d new, %d skipped",
			res.Integration, res.Stats.Discovered, res.Stats.New, res.Stats.Skipped))
		ui.Muted(fmt.Sprintf("window %s, %d accounts matched", res.Window, res.AccountsMatched))
		for _, acct := range res.NewAccounts {
			ui.Muted(fmt.Sprintf("new account: %s", acct.Name))
		}
		if res.SnapshotsAdded > 0 {
			ui.Muted(fmt.Sprintf("%d balance snapshots recorded", res.SnapshotsAdded))
		}
		for _, w := range res.Warnings {
			ui.Warning(fmt.Sprintf("%s: %s", res.Integration, w))
		}
	}

	if failures == len(results) {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
