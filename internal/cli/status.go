package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show stored data counts and date range" }
func (*statusCmd) Usage() string {
	return `finsync status

  Shows how many accounts, transactions, snapshots, and integrations are
  stored, and the date range the transactions cover.
`
}

func (*statusCmd) SetFlags(*flag.FlagSet) {}

func (c *statusCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	stats, err := app.store.GetStats(ctx)
	if err != nil {
		return fail(err)
	}
	integrations, err := app.store.ListIntegrations(ctx)
	if err != nil {
		return fail(err)
	}

	ui.Header("Status")
	ui.Muted(fmt.Sprintf("Accounts:     %d", stats.Accounts))
	ui.Muted(fmt.Sprintf("Transactions: %d", stats.Transactions))
	ui.Muted(fmt.Sprintf("Snapshots:    %d", stats.Snapshots))
	ui.Muted(fmt.Sprintf("Integrations: %d", stats.Integrations))
	if !stats.EarliestDate.IsZero() {
		ui.Muted(fmt.Sprintf("Date range:   %s to %s", stats.EarliestDate, stats.LatestDate))
	}
	for _, integ := range integrations {
		ui.Muted(fmt.Sprintf("  - %s", integ.Name))
	}
	if demoMode() {
		ui.Warning("demo mode is enabled; the demo provider is registered")
	}
	return subcommands.ExitSuccess
}
