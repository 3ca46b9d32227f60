package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/rumor-ml/commons.systems/finsync/internal/provider/demo"
	"github.com/rumor-ml/commons.systems/finsync/internal/ui"
)

type initCmd struct{}

func (*initCmd) Name() string     { return "init" }
func (*initCmd) Synopsis() string { return "initialize the data directory and store" }
func (*initCmd) Usage() string {
	return `finsync init

  Creates the data directory and database schema. In demo mode
  (FINSYNC_DEMO_MODE=true) also configures the demo integration so the
  first sync produces sample data.
`
}

func (*initCmd) SetFlags(*flag.FlagSet) {}

func (c *initCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	app, err := newApp(ctx)
	if err != nil {
		return fail(err)
	}
	defer app.Close()

	ui.Header("Initializing finsync")
	if os.Getenv(envFirestoreProject) != "" {
		ui.Success(fmt.Sprintf("using Firestore project %s", os.Getenv(envFirestoreProject)))
	} else {
		dir, err := dataDir()
		if err != nil {
			return fail(err)
		}
		ui.Success(fmt.Sprintf("store ready at %s/%s", dir, dbFileName))
	}

	if demoMode() {
		if err := app.store.UpsertIntegration(ctx, demo.Name, nil); err != nil {
			return fail(err)
		}
		ui.Success("demo integration configured; run 'finsync sync' for sample data")
	}
	return subcommands.ExitSuccess
}
